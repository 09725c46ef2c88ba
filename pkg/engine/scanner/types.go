package scanner

import (
	"fmt"

	"github.com/DrSkyle/todoslash/pkg/engine/provenance"
)

// DefaultMarker is the substring searched for when no marker is configured.
const DefaultMarker = "TODO"

// Coordinate addresses one line in one file. Line is 1-based.
type Coordinate struct {
	Path string
	Line int
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%s:%d", c.Path, c.Line)
}

// FileMatches lists the marker lines found in one file, in increasing order.
type FileMatches struct {
	Path  string
	Lines []int
}

// Occurrence is a marker line together with the attribution of the commit that introduced it.
type Occurrence struct {
	provenance.Attribution

	Filename string
	Line     int
}

// Key returns the dedup key "<filename>:<line>".
func (o Occurrence) Key() string {
	return fmt.Sprintf("%s:%d", o.Filename, o.Line)
}
