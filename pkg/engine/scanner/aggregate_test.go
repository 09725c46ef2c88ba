package scanner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway attributes every line to an author derived from the coordinate.
type fakeGateway struct {
	fail     map[string]bool
	calls    atomic.Int64
	inflight atomic.Int64
	peak     atomic.Int64
	delay    time.Duration
}

func (f *fakeGateway) Blame(ctx context.Context, path string, line int) (*provenance.Attribution, error) {
	f.calls.Add(1)
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	key := fmt.Sprintf("%s:%d", path, line)
	if f.fail[key] {
		return nil, &provenance.AttributionError{Path: path, Line: line, Err: errors.New("no such path")}
	}
	return &provenance.Attribution{
		Author:      "Alice",
		AuthorEmail: "alice@x.com",
		SourceCode:  "// TODO " + key,
	}, nil
}

var sampleFiles = []FileMatches{
	{Path: "a.ts", Lines: []int{2, 7}},
	{Path: "b.ts", Lines: []int{5}},
	{Path: "c.ts", Lines: []int{1, 3, 9}},
}

func keys(occ []Occurrence) []string {
	out := make([]string, len(occ))
	for i, o := range occ {
		out[i] = o.Key()
	}
	return out
}

func TestAggregatePreservesFileThenLineOrder(t *testing.T) {
	gw := &fakeGateway{}
	res, err := Aggregate(context.Background(), gw, sampleFiles, AggregateOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.ts:2", "a.ts:7", "b.ts:5", "c.ts:1", "c.ts:3", "c.ts:9"}, keys(res.Occurrences))
	assert.Equal(t, int64(6), gw.calls.Load())
	assert.Equal(t, "// TODO b.ts:5", res.Occurrences[2].SourceCode)
	assert.Empty(t, res.Failures)
}

func TestAggregateFailFast(t *testing.T) {
	gw := &fakeGateway{fail: map[string]bool{"b.ts:5": true}}
	res, err := Aggregate(context.Background(), gw, sampleFiles, AggregateOptions{Policy: FailFast})

	assert.Nil(t, res)
	var attrErr *provenance.AttributionError
	require.ErrorAs(t, err, &attrErr)
}

func TestAggregateIsolateKeepsCompletedWork(t *testing.T) {
	gw := &fakeGateway{fail: map[string]bool{"b.ts:5": true, "c.ts:9": true}}
	res, err := Aggregate(context.Background(), gw, sampleFiles, AggregateOptions{Policy: Isolate})

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, 2, partial.Failed)
	assert.Equal(t, 6, partial.Total)

	require.NotNil(t, res)
	assert.Equal(t, []string{"a.ts:2", "a.ts:7", "c.ts:1", "c.ts:3"}, keys(res.Occurrences))
	require.Len(t, res.Failures, 2)
	assert.Equal(t, "b.ts", res.Failures[0].Path)
	assert.Equal(t, 9, res.Failures[1].Line)

	var attrErr *provenance.AttributionError
	assert.ErrorAs(t, err, &attrErr)
}

func TestAggregateMaxConcurrency(t *testing.T) {
	gw := &fakeGateway{delay: 5 * time.Millisecond}
	_, err := Aggregate(context.Background(), gw, sampleFiles, AggregateOptions{MaxConcurrency: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, gw.peak.Load(), int64(2))
}

func TestAggregateEmpty(t *testing.T) {
	res, err := Aggregate(context.Background(), &fakeGateway{}, nil, AggregateOptions{})
	require.NoError(t, err)
	assert.Empty(t, res.Occurrences)
}

func TestScanEndToEnd(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.ts", "x\n// TODO: x\n")
	b := writeFile(t, dir, "b.ts", "1\n2\n3\n4\n// TODO: y\n")

	res, err := Scan(context.Background(), &fakeGateway{}, filepath.Join(dir, "*.ts"), Options{}, AggregateOptions{})
	require.NoError(t, err)
	require.Len(t, res.Occurrences, 2)
	assert.Equal(t, a, res.Occurrences[0].Filename)
	assert.Equal(t, 2, res.Occurrences[0].Line)
	assert.Equal(t, b, res.Occurrences[1].Filename)
	assert.Equal(t, 5, res.Occurrences[1].Line)
}
