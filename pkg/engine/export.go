package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/DrSkyle/todoslash/pkg/storage"
	"gopkg.in/yaml.v3"
)

// Snapshot is the exported form of a scan.
type Snapshot struct {
	GeneratedAt time.Time       `json:"generated_at" yaml:"generated_at"`
	Pattern     string          `json:"pattern" yaml:"pattern"`
	Marker      string          `json:"marker" yaml:"marker"`
	Todos       []SnapshotEntry `json:"todos" yaml:"todos"`
	Failures    []string        `json:"failures,omitempty" yaml:"failures,omitempty"`
}

// SnapshotEntry is one attributed occurrence.
type SnapshotEntry struct {
	Path        string    `json:"path" yaml:"path"`
	Filename    string    `json:"filename" yaml:"filename"`
	Line        int       `json:"line" yaml:"line"`
	Author      string    `json:"author" yaml:"author"`
	AuthorEmail string    `json:"author_email" yaml:"author_email"`
	AuthorTime  time.Time `json:"author_time" yaml:"author_time"`
	Committer   string    `json:"committer,omitempty" yaml:"committer,omitempty"`
	Commit      string    `json:"commit,omitempty" yaml:"commit,omitempty"`
	Summary     string    `json:"summary" yaml:"summary"`
	SourceCode  string    `json:"source_code" yaml:"source_code"`
}

// NewSnapshot converts a scan result for export.
func NewSnapshot(pattern, marker string, res *scanner.Result, at time.Time) *Snapshot {
	snap := &Snapshot{GeneratedAt: at.UTC(), Pattern: pattern, Marker: marker, Todos: []SnapshotEntry{}}
	if res == nil {
		return snap
	}
	for _, o := range res.Occurrences {
		snap.Todos = append(snap.Todos, SnapshotEntry{
			Path:        o.Key(),
			Filename:    o.Filename,
			Line:        o.Line,
			Author:      o.Author,
			AuthorEmail: o.AuthorEmail,
			AuthorTime:  o.AuthorTime.UTC(),
			Committer:   o.Committer,
			Commit:      o.Hash,
			Summary:     o.Summary,
			SourceCode:  o.SourceCode,
		})
	}
	for _, f := range res.Failures {
		snap.Failures = append(snap.Failures, f.Error())
	}
	return snap
}

// Encode renders the snapshot as "json" or "yaml".
func (s *Snapshot) Encode(format string) ([]byte, error) {
	switch format {
	case "", "json":
		return json.MarshalIndent(s, "", "  ")
	case "yaml":
		return yaml.Marshal(s)
	default:
		return nil, fmt.Errorf("unsupported snapshot format %q", format)
	}
}

// Snapshot converts res for export, stamped with the engine clock.
func (e *Engine) Snapshot(pattern string, res *scanner.Result) *Snapshot {
	return NewSnapshot(pattern, e.config.Marker, res, e.now())
}

// Export writes a snapshot of res to the configured output (local directory or s3://bucket/prefix)
// and returns the key it was stored under.
func (e *Engine) Export(ctx context.Context, pattern string, res *scanner.Result) (string, error) {
	return e.ExportSnapshot(ctx, e.Snapshot(pattern, res))
}

// ExportSnapshot writes snap to the configured output. The key is derived from snap.GeneratedAt.
func (e *Engine) ExportSnapshot(ctx context.Context, snap *Snapshot) (string, error) {
	ctx, span := e.Tracer.Start(ctx, "Engine.Export")
	defer span.End()

	blobs := e.blobs
	if blobs == nil {
		var err error
		blobs, err = storage.Open(ctx, e.config.Export.Out)
		if err != nil {
			return "", err
		}
	}

	format := e.config.Export.Format
	if format == "" {
		format = "json"
	}
	data, err := snap.Encode(format)
	if err != nil {
		return "", err
	}

	key := fmt.Sprintf("todoslash-%s.%s", snap.GeneratedAt.UTC().Format("20060102T150405Z"), format)
	if err := blobs.Put(ctx, key, data); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	e.Logger.Info("Snapshot exported", "key", key, "todos", len(snap.Todos), "format", format)
	return key, nil
}
