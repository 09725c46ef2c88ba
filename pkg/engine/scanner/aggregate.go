package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// FailurePolicy decides what a failed attribution lookup does to its siblings.
type FailurePolicy int

const (
	// FailFast aborts the aggregation on the first failure and returns no occurrences.
	FailFast FailurePolicy = iota
	// Isolate lets every lookup settle and returns the successes next to a *PartialError.
	Isolate
)

// AggregateOptions configures Aggregate.
type AggregateOptions struct {
	Policy FailurePolicy
	// MaxConcurrency bounds in-flight lookups. Zero means unbounded.
	MaxConcurrency int
	Logger         *slog.Logger
}

// Result is the outcome of an aggregation, in scan order.
type Result struct {
	Occurrences []Occurrence
	Failures    []*provenance.AttributionError
}

// PartialError is returned under the Isolate policy when some lookups failed.
type PartialError struct {
	Failed int
	Total  int
	Errs   []*provenance.AttributionError
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d attribution lookups failed (first: %v)", e.Failed, e.Total, e.Errs[0])
}

func (e *PartialError) Unwrap() []error {
	errs := make([]error, len(e.Errs))
	for i, err := range e.Errs {
		errs[i] = err
	}
	return errs
}

// outcome is the tagged result of a single lookup.
type outcome struct {
	occ Occurrence
	err *provenance.AttributionError
}

// Aggregate issues one gateway lookup per coordinate, concurrently, and flattens the results
// in file order then line order.
func Aggregate(ctx context.Context, gw provenance.Gateway, files []FileMatches, opts AggregateOptions) (*Result, error) {
	tr := otel.Tracer("todoslash/scanner")
	ctx, span := tr.Start(ctx, "scanner.Aggregate")
	defer span.End()

	var coords []Coordinate
	for _, f := range files {
		for _, line := range f.Lines {
			coords = append(coords, Coordinate{Path: f.Path, Line: line})
		}
	}
	span.SetAttributes(attribute.Int("coordinates", len(coords)))

	outcomes := make([]outcome, len(coords))

	var g *errgroup.Group
	if opts.Policy == FailFast {
		g, ctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if opts.MaxConcurrency > 0 {
		g.SetLimit(opts.MaxConcurrency)
	}

	for i, c := range coords {
		g.Go(func() error {
			outcomes[i] = lookup(ctx, gw, c)
			if outcomes[i].err != nil && opts.Policy == FailFast {
				return outcomes[i].err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res := &Result{}
	for _, o := range outcomes {
		if o.err != nil {
			res.Failures = append(res.Failures, o.err)
			continue
		}
		res.Occurrences = append(res.Occurrences, o.occ)
	}

	if len(res.Failures) > 0 {
		if opts.Logger != nil {
			opts.Logger.Warn("Attribution finished with failures", "failed", len(res.Failures), "total", len(coords))
		}
		err := &PartialError{Failed: len(res.Failures), Total: len(coords), Errs: res.Failures}
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	return res, nil
}

func lookup(ctx context.Context, gw provenance.Gateway, c Coordinate) outcome {
	info, err := gw.Blame(ctx, c.Path, c.Line)
	if err != nil {
		var attrErr *provenance.AttributionError
		if !errors.As(err, &attrErr) {
			attrErr = &provenance.AttributionError{Path: c.Path, Line: c.Line, Err: err}
		}
		return outcome{err: attrErr}
	}
	return outcome{occ: Occurrence{Attribution: *info, Filename: c.Path, Line: c.Line}}
}

// Scan finds marker lines matching pattern and attributes every one of them.
func Scan(ctx context.Context, gw provenance.Gateway, pattern string, opts Options, aggOpts AggregateOptions) (*Result, error) {
	files, err := FindMarkers(ctx, pattern, opts)
	if err != nil {
		return nil, err
	}
	return Aggregate(ctx, gw, files, aggOpts)
}
