package provenance

import "time"

// Attribution holds the line-history metadata for a single file line.
type Attribution struct {
	Hash           string
	Author         string
	AuthorEmail    string
	AuthorTime     time.Time
	AuthorTZ       string
	Committer      string
	CommitterEmail string
	CommitterTime  time.Time
	CommitterTZ    string
	Summary        string
	Previous       string // "<hash> <filename>" as reported by git, empty for root commits
	SourceCode     string
}
