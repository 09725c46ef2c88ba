// Package provenance attributes source lines to the commit and author that last touched them.
package provenance

import (
	"context"
	"fmt"
)

// Gateway looks up the attribution of one file line.
// Implementations perform one lookup per call and keep no cache.
type Gateway interface {
	Blame(ctx context.Context, path string, line int) (*Attribution, error)
}

// AttributionError reports a failed lookup for a single coordinate.
type AttributionError struct {
	Path string
	Line int
	Err  error
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("attribution failed for %s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *AttributionError) Unwrap() error {
	return e.Err
}

// Backend names a Gateway implementation.
type Backend string

const (
	BackendGitCLI Backend = "git"
	BackendGoGit  Backend = "go-git"
)

// NewGateway builds the gateway for the named backend, rooted at repoRoot.
func NewGateway(backend Backend, repoRoot string) (Gateway, error) {
	switch backend {
	case "", BackendGitCLI:
		return NewGitCLI(repoRoot), nil
	case BackendGoGit:
		return OpenGoGit(repoRoot)
	default:
		return nil, fmt.Errorf("unknown attribution backend %q", backend)
	}
}
