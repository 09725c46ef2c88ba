package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DrSkyle/todoslash/pkg/config"
	"github.com/DrSkyle/todoslash/pkg/engine/identity"
	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/DrSkyle/todoslash/pkg/engine/recordsync"
	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/DrSkyle/todoslash/pkg/lark"
	"github.com/DrSkyle/todoslash/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var testNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

// tableGateway answers lookups from a fixed table keyed by base name and line.
type tableGateway map[string]provenance.Attribution

func (g tableGateway) Blame(_ context.Context, path string, line int) (*provenance.Attribution, error) {
	key := filepath.Base(path) + ":" + strconv.Itoa(line)
	a, ok := g[key]
	if !ok {
		return nil, &provenance.AttributionError{Path: path, Line: line, Err: errors.New("no such path in HEAD")}
	}
	return &a, nil
}

type capturedMessage struct {
	dest lark.Destination
	text string
}

type captureMessenger struct {
	mu   sync.Mutex
	msgs []capturedMessage
}

func (m *captureMessenger) SendText(_ context.Context, dest lark.Destination, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, capturedMessage{dest: dest, text: text})
	return nil
}

type sliceStore struct {
	rows []map[string]any
}

func (s *sliceStore) Records(_ context.Context, fields []string) iter.Seq2[recordsync.Record, error] {
	return func(yield func(recordsync.Record, error) bool) {
		for _, r := range s.rows {
			if !yield(recordsync.Record{Fields: r}, nil) {
				return
			}
		}
	}
}

func (s *sliceStore) BatchCreate(_ context.Context, records []map[string]any) (int, error) {
	s.rows = append(s.rows, records...)
	return len(records), nil
}

func (s *sliceStore) MaxBatchSize() int { return 100 }

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.ts"), []byte("const a = 1\n// TODO: x\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.ts"), []byte("1\n2\n3\n4\n// TODO: y\n"), 0644))
	return dir
}

func aliceTable(at time.Time) tableGateway {
	return tableGateway{
		"a.ts:2": {Author: "Alice", AuthorEmail: "alice@x.com", AuthorTime: at, Summary: "a", SourceCode: "// TODO: x"},
		"b.ts:5": {Author: "Alice", AuthorEmail: "alice@x.com", AuthorTime: at, Summary: "b", SourceCode: "// TODO: y"},
	}
}

func newTestEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	var logs bytes.Buffer
	opts = append([]Option{
		WithConfig(cfg),
		WithLogger(NewLogger(&logs, "json")),
		WithClock(func() time.Time { return testNow }),
		WithoutTelemetry(),
	}, opts...)
	e, err := New(context.Background(), opts...)
	require.NoError(t, err)
	return e
}

func TestRemindSendsOneMessagePerAuthor(t *testing.T) {
	dir := writeTree(t)
	cfg := config.Default()
	cfg.Lark.Users = []config.UserMapping{{Email: "alice@x.com", ID: "u1"}}

	m := &captureMessenger{}
	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)), WithMessenger(m))

	out, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)

	require.Len(t, m.msgs, 1)
	assert.Equal(t, "u1", m.msgs[0].dest.ID)
	assert.Contains(t, m.msgs[0].text, "a.ts:2")
	assert.Contains(t, m.msgs[0].text, "b.ts:5")

	require.Len(t, out.Groups["alice@x.com"], 2)
	assert.Equal(t, 2, out.Groups["alice@x.com"][0].Line)
	assert.Equal(t, 5, out.Groups["alice@x.com"][1].Line)
}

func TestRemindResolvesUnmappedAuthors(t *testing.T) {
	dir := writeTree(t)
	gw := aliceTable(testNow)
	bob := gw["b.ts:5"]
	bob.Author, bob.AuthorEmail = "Bob", "bob@x.com"
	gw["b.ts:5"] = bob

	cfg := config.Default()
	cfg.Lark.ResolveEmails = true
	cfg.Lark.IdentityDir = t.TempDir()
	cfg.Lark.Users = []config.UserMapping{{Email: "alice@x.com", ID: "u1"}}

	var asked []string
	directory := identity.DirectoryFunc(func(_ context.Context, emails []string) (map[string]string, error) {
		asked = append(asked, emails...)
		return map[string]string{"bob@x.com": "u2"}, nil
	})
	m := &captureMessenger{}
	e := newTestEngine(t, cfg, WithGateway(gw), WithMessenger(m), WithDirectory(directory))

	out, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@x.com"}, asked)
	assert.ElementsMatch(t, []string{"alice@x.com", "bob@x.com"}, out.Report.Sent)

	require.Len(t, m.msgs, 2)
	ids := []string{m.msgs[0].dest.ID, m.msgs[1].dest.ID}
	assert.ElementsMatch(t, []string{"u1", "u2"}, ids)
	assert.FileExists(t, filepath.Join(cfg.Lark.IdentityDir, "identity_map.json"))
}

func TestRemindGracePeriodSuppressesFreshTodos(t *testing.T) {
	dir := writeTree(t)
	cfg := config.Default()
	cfg.Remind.Grace = "1d"
	cfg.Lark.Users = []config.UserMapping{{Email: "alice@x.com", ID: "u1"}}

	m := &captureMessenger{}
	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow.Add(-time.Hour))), WithMessenger(m))

	out, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Empty(t, out.Groups)
	assert.Empty(t, m.msgs)
}

func TestRemindFilter(t *testing.T) {
	dir := writeTree(t)
	cfg := config.Default()
	cfg.Remind.Filter = `summary == "b"`
	cfg.Lark.Users = []config.UserMapping{{Email: "alice@x.com", ID: "u1"}}

	m := &captureMessenger{}
	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)), WithMessenger(m))

	out, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	require.Len(t, out.Groups["alice@x.com"], 1)
	assert.NotContains(t, m.msgs[0].text, "a.ts:2")
}

func TestRemindDryRunNeedsNoCredentials(t *testing.T) {
	dir := writeTree(t)
	cfg := config.Default()
	cfg.Remind.DryRun = true
	cfg.Lark.Users = []config.UserMapping{{Email: "alice@x.com", ID: "u1"}}

	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)))
	out, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@x.com"}, out.Report.Sent)
}

func TestRemindWithoutCredentials(t *testing.T) {
	dir := writeTree(t)
	e := newTestEngine(t, config.Default(), WithGateway(aliceTable(testNow)))

	_, err := e.Remind(context.Background(), filepath.Join(dir, "*.ts"))
	assert.ErrorIs(t, err, lark.ErrNoCredentials)
}

func TestScanFailFastAndIsolate(t *testing.T) {
	dir := writeTree(t)
	gw := aliceTable(testNow)
	delete(gw, "b.ts:5")

	strict := newTestEngine(t, config.Default(), WithGateway(gw))
	res, err := strict.Scan(context.Background(), filepath.Join(dir, "*.ts"))
	assert.Nil(t, res)
	var attrErr *provenance.AttributionError
	require.ErrorAs(t, err, &attrErr)

	cfg := config.Default()
	cfg.IsolateFailures = true
	lenient := newTestEngine(t, cfg, WithGateway(gw))
	res, err = lenient.Scan(context.Background(), filepath.Join(dir, "*.ts"))
	var partial *scanner.PartialError
	require.ErrorAs(t, err, &partial)
	require.Len(t, res.Occurrences, 1)
	assert.Equal(t, 2, res.Occurrences[0].Line)
}

func TestSyncIsIdempotent(t *testing.T) {
	dir := writeTree(t)
	store := &sliceStore{rows: []map[string]any{{"Path": filepath.Join(dir, "a.ts") + ":2"}}}
	e := newTestEngine(t, config.Default(), WithGateway(aliceTable(testNow)), WithStore(store))

	first, err := e.Sync(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)
	assert.Equal(t, filepath.Join(dir, "b.ts")+":5", store.rows[1]["Path"])

	second, err := e.Sync(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
}

func TestSyncCustomDedupFieldIsIdempotent(t *testing.T) {
	dir := writeTree(t)
	cfg := config.Default()
	cfg.Sync.DedupField = "Key"
	store := &sliceStore{}
	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)), WithStore(store))

	first, err := e.Sync(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, filepath.Join(dir, "a.ts")+":2", store.rows[0]["Key"])

	second, err := e.Sync(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Len(t, store.rows, 2)
}

func TestSyncBitableRequiresTable(t *testing.T) {
	cfg := config.Default()
	cfg.Lark.TenantToken = "t-static"
	e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)))

	_, err := e.Sync(context.Background(), "*.none")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sync.table_id")
}

func TestExportSnapshot(t *testing.T) {
	dir := writeTree(t)
	out := t.TempDir()

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			cfg := config.Default()
			cfg.Export.Format = format
			blobs := storage.NewLocalStore(out)
			e := newTestEngine(t, cfg, WithGateway(aliceTable(testNow)), WithBlobStore(blobs))

			res, err := e.Scan(context.Background(), filepath.Join(dir, "*.ts"))
			require.NoError(t, err)

			key, err := e.Export(context.Background(), filepath.Join(dir, "*.ts"), res)
			require.NoError(t, err)
			assert.Equal(t, "todoslash-20261001T120000Z."+format, key)

			data, err := blobs.Get(context.Background(), key)
			require.NoError(t, err)

			var snap Snapshot
			if format == "json" {
				require.NoError(t, json.Unmarshal(data, &snap))
			} else {
				require.NoError(t, yaml.Unmarshal(data, &snap))
			}
			require.Len(t, snap.Todos, 2)
			assert.Equal(t, "alice@x.com", snap.Todos[0].AuthorEmail)
			assert.True(t, strings.HasSuffix(snap.Todos[1].Path, "b.ts:5"))
		})
	}
}

func TestSnapshotUsesEngineClock(t *testing.T) {
	dir := writeTree(t)
	blobs := storage.NewLocalStore(t.TempDir())
	e := newTestEngine(t, config.Default(), WithGateway(aliceTable(testNow)), WithBlobStore(blobs))

	res, err := e.Scan(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)

	snap := e.Snapshot("*.ts", res)
	assert.True(t, snap.GeneratedAt.Equal(testNow))

	key, err := e.ExportSnapshot(context.Background(), snap)
	require.NoError(t, err)
	assert.Equal(t, "todoslash-20261001T120000Z.json", key)

	data, err := blobs.Get(context.Background(), key)
	require.NoError(t, err)
	var stored Snapshot
	require.NoError(t, json.Unmarshal(data, &stored))
	assert.True(t, stored.GeneratedAt.Equal(snap.GeneratedAt))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Sync.Store = "sheets"
	_, err := New(context.Background(), WithConfig(cfg), WithoutTelemetry(), WithGateway(tableGateway{}))
	assert.Error(t, err)
}

func TestRedactSensitiveData(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, "json")
	log.Info("auth", "app_secret", "hunter2", "tenant_access_token", "t-abc", "app_id", "cli_1")

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "t-abc")
	assert.Contains(t, out, "cli_1")
	assert.Contains(t, out, "[REDACTED]")
}
