package recordsync

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Result summarizes a sync run.
type Result struct {
	Existing int
	Scanned  int
	Inserted int
}

// Syncer inserts the occurrences a Store does not yet hold.
type Syncer struct {
	Store   Store
	Gateway provenance.Gateway
	Mapper  FieldMapper
	// DedupField names the record field holding the dedup key. Defaults to DefaultDedupField.
	DedupField string

	ScanOptions      scanner.Options
	AggregateOptions scanner.AggregateOptions
	Logger           *slog.Logger
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s.Logger
}

func (s *Syncer) dedupField() string {
	if s.DedupField == "" {
		return DefaultDedupField
	}
	return s.DedupField
}

// Sync scans pattern and inserts every occurrence missing from the store.
// Under the Isolate policy failed lookups are skipped and reported alongside the result.
func (s *Syncer) Sync(ctx context.Context, pattern string) (*Result, error) {
	res, scanErr := scanner.Scan(ctx, s.Gateway, pattern, s.ScanOptions, s.AggregateOptions)
	var partial *scanner.PartialError
	if scanErr != nil && !errors.As(scanErr, &partial) {
		return nil, scanErr
	}

	out, err := s.SyncOccurrences(ctx, res.Occurrences)
	if err != nil {
		return out, err
	}
	return out, scanErr
}

// SyncOccurrences inserts the occurrences whose "<filename>:<line>" key is not already stored.
// Running it twice against an unchanged store inserts nothing the second time.
func (s *Syncer) SyncOccurrences(ctx context.Context, occ []scanner.Occurrence) (*Result, error) {
	ctx, span := otel.Tracer("todoslash/recordsync").Start(ctx, "recordsync.Sync")
	defer span.End()
	log := s.logger()

	fail := func(err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	field := s.dedupField()
	existing := make(map[string]struct{})
	fetched := 0
	for rec, err := range s.Store.Records(ctx, []string{field}) {
		if err != nil {
			return nil, fail(err)
		}
		fetched++
		if key := fieldText(rec.Fields[field]); key != "" {
			existing[key] = struct{}{}
		}
	}

	mapper := s.Mapper
	if mapper == nil {
		mapper = NewDefaultFieldMapper(field)
	}
	var pending []map[string]any
	for _, o := range occ {
		if _, ok := existing[o.Key()]; ok {
			continue
		}
		fields := mapper.Map(o)
		if fields == nil {
			fields = make(map[string]any)
		}
		if _, ok := fields[field]; !ok {
			fields[field] = o.Key()
		}
		pending = append(pending, fields)
	}

	res := &Result{Existing: fetched, Scanned: len(occ)}
	span.SetAttributes(attribute.Int("existing", fetched), attribute.Int("scanned", len(occ)), attribute.Int("pending", len(pending)))

	if len(pending) == 0 {
		log.Info("No new records to sync", "existing", fetched, "scanned", len(occ))
		return res, nil
	}

	size := s.Store.MaxBatchSize()
	if size <= 0 {
		size = len(pending)
	}
	for start := 0; start < len(pending); start += size {
		end := min(start+size, len(pending))
		n, err := s.Store.BatchCreate(ctx, pending[start:end])
		res.Inserted += n
		if err != nil {
			return res, fail(err)
		}
		log.Debug("Inserted record batch", "from", start, "to", end, "created", n)
	}

	log.Info("Records synced", "inserted", res.Inserted, "existing", res.Existing, "scanned", res.Scanned)
	return res, nil
}
