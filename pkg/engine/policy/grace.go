// Package policy decides which attributed occurrences are due for a reminder and groups them by author.
package policy

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
	"github.com/xhit/go-str2duration/v2"
)

// Groups maps an author email to that author's occurrences, in scan order.
type Groups map[string][]scanner.Occurrence

// Emails returns the group keys in sorted order.
func (g Groups) Emails() []string {
	emails := make([]string, 0, len(g))
	for email := range g {
		emails = append(emails, email)
	}
	sort.Strings(emails)
	return emails
}

// Count returns the total number of occurrences across all groups.
func (g Groups) Count() int {
	n := 0
	for _, occ := range g {
		n += len(occ)
	}
	return n
}

// GroupByGracePeriod partitions occurrences by exact author email.
// An occurrence younger than grace (now - authorTime < grace) is left out of every group,
// and authors left with nothing get no entry.
func GroupByGracePeriod(occ []scanner.Occurrence, grace time.Duration, now time.Time) Groups {
	groups := make(Groups)
	for _, o := range occ {
		if now.Sub(o.AuthorTime) < grace {
			continue
		}
		groups[o.AuthorEmail] = append(groups[o.AuthorEmail], o)
	}
	return groups
}

// ParseGracePeriod accepts a duration such as "1d", "1w", "36h" or "90m",
// or a bare integer number of milliseconds. Empty means zero.
func ParseGracePeriod(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("grace period must not be negative: %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := str2duration.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid grace period %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("grace period must not be negative: %q", s)
	}
	return d, nil
}
