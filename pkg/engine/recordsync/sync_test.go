package recordsync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store that records the batches it receives.
type memStore struct {
	rows     []map[string]any
	batches  []int
	max      int
	listErr  error
	writeErr error
}

func (m *memStore) Records(_ context.Context, fields []string) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		if m.listErr != nil {
			yield(Record{}, m.listErr)
			return
		}
		for i, row := range m.rows {
			projected := make(map[string]any, len(fields))
			for _, f := range fields {
				projected[f] = row[f]
			}
			if !yield(Record{ID: fmt.Sprint(i), Fields: projected}, nil) {
				return
			}
		}
	}
}

func (m *memStore) BatchCreate(_ context.Context, records []map[string]any) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.batches = append(m.batches, len(records))
	m.rows = append(m.rows, records...)
	return len(records), nil
}

func (m *memStore) MaxBatchSize() int {
	return m.max
}

func occ(file string, line int) scanner.Occurrence {
	return scanner.Occurrence{
		Attribution: provenance.Attribution{
			Author:      "Alice",
			AuthorEmail: "alice@x.com",
			AuthorTime:  time.UnixMilli(1700000000000),
			Summary:     "Add reminder",
			SourceCode:  "  // TODO: x ",
		},
		Filename: file,
		Line:     line,
	}
}

func TestDefaultFieldMapper(t *testing.T) {
	got := DefaultFieldMapper.Map(occ("a.ts", 2))
	assert.Equal(t, map[string]any{
		"Path":       "a.ts:2",
		"Author":     "Alice <alice@x.com>",
		"AuthorTime": int64(1700000000000),
		"Summary":    "Add reminder",
		"SourceCode": "// TODO: x",
	}, got)
}

func TestFieldText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{name: "Plain string", in: "a.ts:2", want: "a.ts:2"},
		{name: "Rich text segments", in: []any{
			map[string]any{"type": "text", "text": "a.ts"},
			map[string]any{"type": "text", "text": ":2"},
		}, want: "a.ts:2"},
		{name: "Link object", in: map[string]any{"link": "https://x", "text": "b.ts:5"}, want: "b.ts:5"},
		{name: "Missing", in: nil, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, fieldText(tt.in))
		})
	}
}

func TestSyncInsertsOnlyMissing(t *testing.T) {
	store := &memStore{max: 100, rows: []map[string]any{{"Path": "a.ts:2"}}}
	s := &Syncer{Store: store}

	res, err := s.SyncOccurrences(context.Background(), []scanner.Occurrence{occ("a.ts", 2), occ("b.ts", 5)})
	require.NoError(t, err)

	assert.Equal(t, &Result{Existing: 1, Scanned: 2, Inserted: 1}, res)
	require.Len(t, store.rows, 2)
	assert.Equal(t, "b.ts:5", store.rows[1]["Path"])
}

func TestSyncIsIdempotent(t *testing.T) {
	store := &memStore{max: 100}
	s := &Syncer{Store: store}
	found := []scanner.Occurrence{occ("a.ts", 2), occ("b.ts", 5), occ("c.ts", 1)}

	first, err := s.SyncOccurrences(context.Background(), found)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Inserted)

	second, err := s.SyncOccurrences(context.Background(), found)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 3, second.Existing)
	assert.Len(t, store.rows, 3)
	assert.Equal(t, []int{3}, store.batches)
}

func TestSyncChunksSequentially(t *testing.T) {
	store := &memStore{max: 100}
	s := &Syncer{Store: store}

	var found []scanner.Occurrence
	for i := 1; i <= 250; i++ {
		found = append(found, occ("big.ts", i))
	}

	res, err := s.SyncOccurrences(context.Background(), found)
	require.NoError(t, err)
	assert.Equal(t, 250, res.Inserted)
	assert.Equal(t, []int{100, 100, 50}, store.batches)
}

func TestSyncStopsOnStoreErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("List", func(t *testing.T) {
		s := &Syncer{Store: &memStore{max: 10, listErr: boom}}
		_, err := s.SyncOccurrences(context.Background(), []scanner.Occurrence{occ("a.ts", 2)})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("Write", func(t *testing.T) {
		s := &Syncer{Store: &memStore{max: 10, writeErr: boom}}
		res, err := s.SyncOccurrences(context.Background(), []scanner.Occurrence{occ("a.ts", 2)})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 0, res.Inserted)
	})
}

func TestSyncCustomMapperAndDedupField(t *testing.T) {
	store := &memStore{max: 10, rows: []map[string]any{{"Key": "a.ts:2"}}}
	s := &Syncer{
		Store:      store,
		DedupField: "Key",
		Mapper: FieldMapperFunc(func(o scanner.Occurrence) map[string]any {
			return map[string]any{"Key": o.Key(), "Who": o.AuthorEmail}
		}),
	}

	res, err := s.SyncOccurrences(context.Background(), []scanner.Occurrence{occ("a.ts", 2), occ("b.ts", 5)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, map[string]any{"Key": "b.ts:5", "Who": "alice@x.com"}, store.rows[1])
}

func TestSyncDefaultMapperWritesKeyUnderDedupField(t *testing.T) {
	store := &memStore{max: 10}
	s := &Syncer{Store: store, DedupField: "Key"}

	occs := []scanner.Occurrence{occ("a.ts", 2), occ("b.ts", 5)}
	first, err := s.SyncOccurrences(context.Background(), occs)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)
	assert.Equal(t, "a.ts:2", store.rows[0]["Key"])
	assert.NotContains(t, store.rows[0], DefaultDedupField)

	second, err := s.SyncOccurrences(context.Background(), occs)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Inserted)
	assert.Len(t, store.rows, 2)
}

func TestSyncFillsDedupFieldMissingFromMapper(t *testing.T) {
	store := &memStore{max: 10}
	s := &Syncer{
		Store: store,
		Mapper: FieldMapperFunc(func(o scanner.Occurrence) map[string]any {
			return map[string]any{"Who": o.AuthorEmail}
		}),
	}

	_, err := s.SyncOccurrences(context.Background(), []scanner.Occurrence{occ("a.ts", 2)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"Path": "a.ts:2", "Who": "alice@x.com"}, store.rows[0])
}

// stubGateway attributes every line to Alice.
type stubGateway struct{}

func (stubGateway) Blame(_ context.Context, path string, line int) (*provenance.Attribution, error) {
	return &provenance.Attribution{Author: "Alice", AuthorEmail: "alice@x.com", SourceCode: "// TODO"}, nil
}

func TestSyncScansPattern(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.ts")
	b := filepath.Join(dir, "b.ts")
	require.NoError(t, os.WriteFile(a, []byte("x\n// TODO: x\n"), 0644))
	require.NoError(t, os.WriteFile(b, []byte("1\n2\n3\n4\n// TODO: y\n"), 0644))

	store := &memStore{max: 100, rows: []map[string]any{{"Path": a + ":2"}}}
	s := &Syncer{Store: store, Gateway: stubGateway{}}

	res, err := s.Sync(context.Background(), filepath.Join(dir, "*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, b+":5", store.rows[1]["Path"])
}
