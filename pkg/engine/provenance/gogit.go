package provenance

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// GoGit attributes lines in-process with go-git, against the HEAD commit.
// Uncommitted edits in the working tree are not visible to it: a line whose text on disk
// differs from HEAD fails with ErrUncommitted rather than being misattributed.
type GoGit struct {
	repo *git.Repository
	root string

	// go-git object storage is not safe for concurrent readers.
	mu sync.Mutex
}

// OpenGoGit opens the repository containing dir.
func OpenGoGit(dir string) (*GoGit, error) {
	if dir == "" {
		dir = "."
	}
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", dir, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	return &GoGit{repo: repo, root: wt.Filesystem.Root()}, nil
}

func (g *GoGit) Blame(ctx context.Context, path string, line int) (*Attribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, &AttributionError{Path: path, Line: line, Err: err}
	}
	info, err := g.blame(path, line)
	if err != nil {
		return nil, &AttributionError{Path: path, Line: line, Err: err}
	}
	return info, nil
}

func (g *GoGit) blame(path string, line int) (*Attribution, error) {
	if line < 1 {
		return nil, errors.New("line must be >= 1")
	}
	rel, err := g.relative(path)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	head, err := g.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	tip, err := g.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("load HEAD commit: %w", err)
	}

	res, err := git.Blame(tip, rel)
	if err != nil {
		return nil, fmt.Errorf("blame %s: %w", rel, err)
	}
	if line > len(res.Lines) {
		return nil, fmt.Errorf("file has only %d lines", len(res.Lines))
	}
	bl := res.Lines[line-1]

	if err := checkWorkingCopy(path, line, bl.Text); err != nil {
		return nil, err
	}

	c, err := g.repo.CommitObject(bl.Hash)
	if err != nil {
		return nil, fmt.Errorf("load commit %s: %w", bl.Hash, err)
	}
	return fromCommit(c, rel, bl.Text), nil
}

// ErrUncommitted reports a line whose working-tree text differs from HEAD.
var ErrUncommitted = errors.New("line has uncommitted changes; the go-git backend only sees HEAD, use the git backend")

// checkWorkingCopy fails when the line on disk is not the line blamed at HEAD.
func checkWorkingCopy(path string, line int, blamed string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(string(data), "\n")
	if line > len(lines) || strings.TrimSuffix(lines[line-1], "\r") != strings.TrimSuffix(blamed, "\r") {
		return ErrUncommitted
	}
	return nil
}

func (g *GoGit) relative(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside repository %s", path, g.root)
	}
	return filepath.ToSlash(rel), nil
}

func fromCommit(c *object.Commit, rel, text string) *Attribution {
	summary, _, _ := strings.Cut(strings.TrimSpace(c.Message), "\n")
	info := &Attribution{
		Hash:           c.Hash.String(),
		Author:         c.Author.Name,
		AuthorEmail:    c.Author.Email,
		AuthorTime:     c.Author.When,
		AuthorTZ:       c.Author.When.Format("-0700"),
		Committer:      c.Committer.Name,
		CommitterEmail: c.Committer.Email,
		CommitterTime:  c.Committer.When,
		CommitterTZ:    c.Committer.When.Format("-0700"),
		Summary:        summary,
		SourceCode:     text,
	}
	if len(c.ParentHashes) > 0 {
		info.Previous = c.ParentHashes[0].String() + " " + rel
	}
	return info
}
