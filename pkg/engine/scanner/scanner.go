// Package scanner finds marker lines in a source tree and attributes them via a provenance.Gateway.
package scanner

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"
)

// Options configures marker matching.
type Options struct {
	// Marker is the literal, case-sensitive substring to look for. Defaults to DefaultMarker.
	Marker string
}

func (o Options) marker() string {
	if o.Marker == "" {
		return DefaultMarker
	}
	return o.Marker
}

// ScanError reports a glob or file read failure. It aborts the whole scan.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("scan failed: %v", e.Err)
	}
	return fmt.Sprintf("scan failed on %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// FindMarkers expands pattern to a sorted list of files and reports, for every file that
// contains the marker, the 1-based line numbers holding it.
// Files are read concurrently; the first read failure cancels the rest and no partial result is returned.
func FindMarkers(ctx context.Context, pattern string, opts Options) ([]FileMatches, error) {
	files, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, &ScanError{Err: fmt.Errorf("expand %q: %w", pattern, err)}
	}
	sort.Strings(files)

	marker := opts.marker()
	matches := make([]FileMatches, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return &ScanError{Path: path, Err: err}
			}
			matches[i] = FileMatches{Path: path, Lines: MatchLines(string(data), marker)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := matches[:0]
	for _, m := range matches {
		if len(m.Lines) > 0 {
			out = append(out, m)
		}
	}
	return out, nil
}

// MatchLines returns the 1-based numbers of the lines in text that contain marker.
func MatchLines(text, marker string) []int {
	var lines []int
	for i, line := range strings.Split(text, "\n") {
		if strings.Contains(line, marker) {
			lines = append(lines, i+1)
		}
	}
	return lines
}
