package policy

import (
	"fmt"
	"time"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/google/cel-go/cel"
)

// CELFilter keeps the occurrences for which a user-supplied CEL expression is true.
//
// Available variables: filename, line, author, author_email, committer, summary,
// source and age_hours. Example: `author_email.endsWith("@corp.com") && age_hours > 48.0`.
type CELFilter struct {
	expr string
	prg  cel.Program
}

// NewCELFilter compiles expr. An empty expression yields a nil filter that keeps everything.
func NewCELFilter(expr string) (*CELFilter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("filename", cel.StringType),
		cel.Variable("line", cel.IntType),
		cel.Variable("author", cel.StringType),
		cel.Variable("author_email", cel.StringType),
		cel.Variable("committer", cel.StringType),
		cel.Variable("summary", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("age_hours", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("filter compilation error: %w", issues.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("filter program creation error: %w", err)
	}

	return &CELFilter{expr: expr, prg: prg}, nil
}

// Apply returns the occurrences matching the filter, preserving order.
// A nil filter returns occ unchanged.
func (f *CELFilter) Apply(occ []scanner.Occurrence, now time.Time) ([]scanner.Occurrence, error) {
	if f == nil {
		return occ, nil
	}

	kept := make([]scanner.Occurrence, 0, len(occ))
	for _, o := range occ {
		out, _, err := f.prg.Eval(map[string]any{
			"filename":     o.Filename,
			"line":         int64(o.Line),
			"author":       o.Author,
			"author_email": o.AuthorEmail,
			"committer":    o.Committer,
			"summary":      o.Summary,
			"source":       o.SourceCode,
			"age_hours":    now.Sub(o.AuthorTime).Hours(),
		})
		if err != nil {
			return nil, fmt.Errorf("filter %q failed on %s: %w", f.expr, o.Key(), err)
		}

		match, ok := out.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("filter %q must return a bool, got %T", f.expr, out.Value())
		}
		if match {
			kept = append(kept, o)
		}
	}
	return kept, nil
}
