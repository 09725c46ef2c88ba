package provenance

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// execCmd allows mocking exec.CommandContext for testing
var execCmd = exec.CommandContext

// GitCLI attributes lines by shelling out to `git blame`.
type GitCLI struct {
	// Dir is the working directory for git; empty means the process cwd.
	Dir string
}

func NewGitCLI(dir string) *GitCLI {
	return &GitCLI{Dir: dir}
}

// Blame runs git blame on exactly one line in porcelain format.
func (g *GitCLI) Blame(ctx context.Context, path string, line int) (*Attribution, error) {
	if line < 1 {
		return nil, &AttributionError{Path: path, Line: line, Err: errors.New("line must be >= 1")}
	}

	target, err := absPath(path)
	if err != nil {
		return nil, &AttributionError{Path: path, Line: line, Err: err}
	}

	args := []string{"blame", "-L", fmt.Sprintf("%d,%d", line, line), "--porcelain", "--", target}
	cmd := execCmd(ctx, "git", args...)
	cmd.Dir = g.Dir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("git blame: %w: %s", err, msg)
		} else {
			err = fmt.Errorf("git blame: %w", err)
		}
		return nil, &AttributionError{Path: path, Line: line, Err: err}
	}

	info, err := parsePorcelain(string(output))
	if err != nil {
		return nil, &AttributionError{Path: path, Line: line, Err: err}
	}
	return info, nil
}

// absPath resolves path against the process cwd, so that git run inside Dir finds the same file.
// Symlinks are resolved because git compares against the real worktree path.
func absPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		return real, nil
	}
	return abs, nil
}

// parsePorcelain decodes the output of `git blame --porcelain` for a single line.
//
// Format:
//
//	<hash> <orig line> <final line> <lines in group>
//	author <name>
//	author-mail <email>
//	author-time <timestamp>
//	author-tz <tz>
//	committer ...
//	summary <msg>
//	previous <hash> <filename>
//	filename <file>
//		<content>
func parsePorcelain(output string) (*Attribution, error) {
	lines := strings.Split(output, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return nil, errors.New("empty blame output")
	}

	header := strings.Fields(lines[0])
	if len(header) < 3 {
		return nil, fmt.Errorf("malformed blame header %q", lines[0])
	}
	info := &Attribution{Hash: header[0]}

	sawContent := false
	for _, line := range lines[1:] {
		if strings.HasPrefix(line, "\t") {
			info.SourceCode = strings.TrimPrefix(line, "\t")
			sawContent = true
			break
		}

		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "author":
			info.Author = value
		case "author-mail":
			info.AuthorEmail = trimMail(value)
		case "author-time":
			ts, err := parseUnix(value)
			if err != nil {
				return nil, fmt.Errorf("author-time: %w", err)
			}
			info.AuthorTime = ts
		case "author-tz":
			info.AuthorTZ = value
		case "committer":
			info.Committer = value
		case "committer-mail":
			info.CommitterEmail = trimMail(value)
		case "committer-time":
			ts, err := parseUnix(value)
			if err != nil {
				return nil, fmt.Errorf("committer-time: %w", err)
			}
			info.CommitterTime = ts
		case "committer-tz":
			info.CommitterTZ = value
		case "summary":
			info.Summary = value
		case "previous":
			info.Previous = value
		}
	}

	if !sawContent {
		return nil, errors.New("blame output has no content line")
	}
	return info, nil
}

func trimMail(s string) string {
	return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
}

func parseUnix(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0), nil
}
