package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/DrSkyle/todoslash/pkg/config"
	"github.com/DrSkyle/todoslash/pkg/engine/identity"
	"github.com/DrSkyle/todoslash/pkg/engine/notifier"
	"github.com/DrSkyle/todoslash/pkg/engine/policy"
	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/DrSkyle/todoslash/pkg/engine/recordsync"
	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/DrSkyle/todoslash/pkg/lark"
	"github.com/DrSkyle/todoslash/pkg/storage"
	"github.com/DrSkyle/todoslash/pkg/telemetry"
	"github.com/DrSkyle/todoslash/pkg/version"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine ties the scanner, attribution gateway and the reminder and sync sinks together.
type Engine struct {
	Logger *slog.Logger
	Tracer trace.Tracer

	config config.Config

	// Collaborators. Unset ones are built from config on first use.
	gateway   provenance.Gateway
	messenger notifier.Messenger
	directory identity.Directory
	store     recordsync.Store
	blobs     storage.BlobStore
	lark      *lark.Client

	now           func() time.Time
	skipTelemetry bool
	shutdown      func(context.Context) error
}

// Option defines a functional configuration override.
type Option func(*Engine)

// New initializes the Engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	e := &Engine{
		config: config.Default(),
		Tracer: telemetry.Tracer("todoslash/engine"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.Logger == nil {
		e.Logger = NewLogger(os.Stdout, e.config.LogFormat)
	}

	if err := e.config.Validate(); err != nil {
		return nil, err
	}

	if !e.skipTelemetry {
		shutdown, err := telemetry.Init(ctx, telemetry.Settings{
			ServiceName:    version.AppName,
			ServiceVersion: version.Current,
			Endpoint:       e.config.OtelEndpoint,
		})
		if err != nil {
			e.Logger.Warn("Telemetry failed", "error", err)
		} else {
			e.shutdown = shutdown
		}
	}

	if e.gateway == nil {
		gw, err := provenance.NewGateway(provenance.Backend(e.config.Backend), e.config.RepoRoot)
		if err != nil {
			return nil, err
		}
		e.gateway = gw
	}

	return e, nil
}

// NewLogger builds the default logger: JSON (or text) on w with sensitive keys redacted.
func NewLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{ReplaceAttr: redactSensitiveData}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.Logger = l
	}
}

// WithConfig sets raw config.
func WithConfig(cfg config.Config) Option {
	return func(e *Engine) {
		e.config = cfg
	}
}

// WithGateway overrides the attribution backend.
func WithGateway(gw provenance.Gateway) Option {
	return func(e *Engine) {
		e.gateway = gw
	}
}

// WithMessenger overrides reminder delivery.
func WithMessenger(m notifier.Messenger) Option {
	return func(e *Engine) {
		e.messenger = m
	}
}

// WithDirectory overrides the email lookup used when lark.resolve_emails is set.
func WithDirectory(d identity.Directory) Option {
	return func(e *Engine) {
		e.directory = d
	}
}

// WithStore overrides the record store used by Sync.
func WithStore(s recordsync.Store) Option {
	return func(e *Engine) {
		e.store = s
	}
}

// WithBlobStore overrides the snapshot destination used by Export.
func WithBlobStore(b storage.BlobStore) Option {
	return func(e *Engine) {
		e.blobs = b
	}
}

// WithClock overrides the current time, for grace-period decisions.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithoutTelemetry leaves the global tracer provider alone, for embedding in apps that own it.
func WithoutTelemetry() Option {
	return func(e *Engine) {
		e.skipTelemetry = true
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() config.Config {
	return e.config
}

// Close flushes telemetry.
func (e *Engine) Close(ctx context.Context) error {
	if e.shutdown == nil {
		return nil
	}
	return e.shutdown(ctx)
}

func (e *Engine) aggregateOptions() scanner.AggregateOptions {
	opts := scanner.AggregateOptions{
		MaxConcurrency: e.config.MaxConcurrency,
		Logger:         e.Logger,
	}
	if e.config.IsolateFailures {
		opts.Policy = scanner.Isolate
	}
	return opts
}

// Scan finds and attributes every marker line matching pattern.
// Under the isolate policy a *scanner.PartialError comes back next to a usable result.
func (e *Engine) Scan(ctx context.Context, pattern string) (res *scanner.Result, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Scan", trace.WithAttributes(attribute.String("pattern", pattern)))
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	e.Logger.Info("Scanning for markers", "pattern", pattern, "marker", e.config.Marker, "backend", e.config.Backend)

	res, err = scanner.Scan(ctx, e.gateway, pattern, scanner.Options{Marker: e.config.Marker}, e.aggregateOptions())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if res != nil {
		span.SetAttributes(attribute.Int("occurrences", len(res.Occurrences)), attribute.Int("failures", len(res.Failures)))
		e.Logger.Info("Scan complete", "occurrences", len(res.Occurrences), "failures", len(res.Failures))
	}
	return res, err
}

// RemindResult is what Remind computed and what it delivered.
type RemindResult struct {
	Groups policy.Groups
	Report *notifier.Report
}

// Remind scans pattern, applies the filter and grace period, and messages each author.
func (e *Engine) Remind(ctx context.Context, pattern string) (out *RemindResult, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Remind")
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	grace, err := policy.ParseGracePeriod(e.config.Remind.Grace)
	if err != nil {
		return nil, err
	}
	filter, err := policy.NewCELFilter(e.config.Remind.Filter)
	if err != nil {
		return nil, err
	}

	res, scanErr := e.Scan(ctx, pattern)
	if res == nil {
		return nil, scanErr
	}

	now := e.now()
	occ, err := filter.Apply(res.Occurrences, now)
	if err != nil {
		return nil, err
	}
	groups := policy.GroupByGracePeriod(occ, grace, now)
	e.Logger.Info("Grouped reminders", "authors", len(groups), "todos", groups.Count(), "grace", grace.String())

	messenger := e.messenger
	if messenger == nil && !e.config.Remind.DryRun {
		client, err := e.larkClient(ctx)
		if err != nil {
			return nil, err
		}
		messenger = client
	}
	kind, err := lark.ParseDestinationKind(e.config.Lark.DestKind)
	if err != nil {
		return nil, err
	}

	d := &notifier.Dispatcher{
		Messenger: messenger,
		Kind:      kind,
		Logger:    e.Logger,
		DryRun:    e.config.Remind.DryRun,
	}
	destinations, err := e.destinations(ctx, groups.Emails(), kind)
	if err != nil {
		return nil, err
	}
	groups, report, dispatchErr := d.Dispatch(ctx, groups, destinations)
	span.SetAttributes(attribute.Int("sent", len(report.Sent)), attribute.Int("skipped", len(report.Skipped)))

	err = errors.Join(scanErr, dispatchErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remind finished with errors")
	}
	return &RemindResult{Groups: groups, Report: report}, err
}

// Sync scans pattern and inserts the occurrences missing from the configured store.
func (e *Engine) Sync(ctx context.Context, pattern string) (res *recordsync.Result, err error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Sync", trace.WithAttributes(attribute.String("store", e.config.Sync.Store)))
	defer span.End()
	defer e.recoverPanic(ctx, &err)

	store, err := e.recordStore(ctx)
	if err != nil {
		return nil, err
	}

	s := &recordsync.Syncer{
		Store:            store,
		Gateway:          e.gateway,
		DedupField:       e.config.Sync.DedupField,
		ScanOptions:      scanner.Options{Marker: e.config.Marker},
		AggregateOptions: e.aggregateOptions(),
		Logger:           e.Logger,
	}
	res, err = s.Sync(ctx, pattern)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// destinations maps author emails to Lark ids: configured users first, then the
// identity cache and contact directory when lark.resolve_emails is on.
func (e *Engine) destinations(ctx context.Context, emails []string, kind lark.DestinationKind) (map[string]string, error) {
	static := e.config.Destinations()
	if !e.config.Lark.ResolveEmails {
		return static, nil
	}

	directory := e.directory
	switch {
	case directory != nil:
	case kind == lark.KindEmail:
		directory = identity.DirectoryFunc(func(_ context.Context, emails []string) (map[string]string, error) {
			out := make(map[string]string, len(emails))
			for _, email := range emails {
				out[email] = email
			}
			return out, nil
		})
	case kind == lark.KindChatID:
		e.Logger.Warn("Email resolution does not apply to chat destinations", "dest_kind", kind)
		return static, nil
	default:
		client, err := e.larkClient(ctx)
		if err != nil {
			return nil, err
		}
		directory = identity.DirectoryFunc(func(ctx context.Context, emails []string) (map[string]string, error) {
			return client.LookupUserIDs(ctx, emails, kind)
		})
	}

	r := &identity.Resolver{
		Static:    static,
		Directory: directory,
		Kind:      string(kind),
		Logger:    e.Logger,
	}
	if dir := e.identityDir(); dir != "" {
		store, err := identity.NewStore(dir)
		if err != nil {
			e.Logger.Warn("Identity map unavailable", "error", err)
		} else {
			r.Store = store
		}
	}
	return r.Resolve(ctx, emails)
}

func (e *Engine) identityDir() string {
	if e.config.Lark.IdentityDir != "" {
		return e.config.Lark.IdentityDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "."+version.AppName)
}

func (e *Engine) larkClient(ctx context.Context) (*lark.Client, error) {
	if e.lark != nil {
		return e.lark, nil
	}
	lc := e.config.Lark
	ts, err := lark.NewTokenSource(ctx, lc.BaseURL, lark.Credentials{
		AppID:       lc.AppID,
		AppSecret:   lc.AppSecret,
		TenantToken: lc.TenantToken,
	}, nil)
	if err != nil {
		return nil, err
	}
	e.lark = lark.NewClient(lc.BaseURL, ts, lark.WithLogger(e.Logger))
	return e.lark, nil
}

func (e *Engine) recordStore(ctx context.Context) (recordsync.Store, error) {
	if e.store != nil {
		return e.store, nil
	}
	sc := e.config.Sync
	switch sc.Store {
	case config.StoreDynamoDB:
		if sc.DynamoTable == "" {
			return nil, fmt.Errorf("sync.dynamo_table is required for the dynamodb store")
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		store := recordsync.NewDynamoStore(cfg, sc.DynamoTable)
		store.KeyAttribute = sc.DedupField
		e.store = store
	default:
		if sc.AppToken == "" || sc.TableID == "" {
			return nil, fmt.Errorf("sync.app_token and sync.table_id are required for the bitable store")
		}
		client, err := e.larkClient(ctx)
		if err != nil {
			return nil, err
		}
		e.store = recordsync.NewBitableStore(client, lark.Table{AppToken: sc.AppToken, TableID: sc.TableID}, sc.PageSize)
	}
	return e.store, nil
}

// recoverPanic turns a panic in an engine operation into an error on the span and the caller.
func (e *Engine) recoverPanic(ctx context.Context, errp *error) {
	if r := recover(); r != nil {
		_, span := e.Tracer.Start(ctx, "CriticalPanic")

		stack := debug.Stack()
		span.RecordError(fmt.Errorf("%v", r), trace.WithStackTrace(true))
		span.SetStatus(codes.Error, "CRITICAL FAILURE")
		span.SetAttributes(attribute.String("crash.reason", fmt.Sprintf("%v", r)))
		span.End()

		e.Logger.Error("CRITICAL FAILURE", "error", r, "stack", string(stack))
		*errp = fmt.Errorf("internal error: %v", r)
	}
}

// sensitiveKeys are log attribute keys whose values never reach the output.
var sensitiveKeys = map[string]bool{
	"password": true, "token": true, "secret": true, "api_key": true,
	"app_secret": true, "tenant_token": true, "tenant_access_token": true,
	"access_token": true, "auth_token": true, "refresh_token": true,
	"authorization": true, "credential": true,
}

// redactSensitiveData scrubs sensitive keys from logs.
func redactSensitiveData(groups []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[a.Key] {
		return slog.Attr{Key: a.Key, Value: slog.StringValue("[REDACTED]")}
	}
	return a
}
