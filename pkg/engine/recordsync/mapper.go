package recordsync

import (
	"fmt"
	"strings"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
)

// DefaultDedupField is the record field holding "<filename>:<line>".
const DefaultDedupField = "Path"

// FieldMapper turns an occurrence into the fields of a new record.
// The mapped fields must carry the occurrence's Key under the syncer's dedup field.
type FieldMapper interface {
	Map(occ scanner.Occurrence) map[string]any
}

// FieldMapperFunc adapts a plain function to FieldMapper.
type FieldMapperFunc func(occ scanner.Occurrence) map[string]any

func (f FieldMapperFunc) Map(occ scanner.Occurrence) map[string]any {
	return f(occ)
}

// DefaultFieldMapper writes path, author, authored-at (unix ms), summary and source line.
var DefaultFieldMapper = NewDefaultFieldMapper(DefaultDedupField)

// NewDefaultFieldMapper is DefaultFieldMapper with the key written under keyField instead of "Path".
func NewDefaultFieldMapper(keyField string) FieldMapper {
	if keyField == "" {
		keyField = DefaultDedupField
	}
	return FieldMapperFunc(func(occ scanner.Occurrence) map[string]any {
		return map[string]any{
			keyField:     occ.Key(),
			"Author":     fmt.Sprintf("%s <%s>", occ.Author, occ.AuthorEmail),
			"AuthorTime": occ.AuthorTime.UnixMilli(),
			"Summary":    occ.Summary,
			"SourceCode": strings.TrimSpace(occ.SourceCode),
		}
	})
}

// fieldText flattens a stored field value to plain text.
// Text fields come back either as a string or as rich-text segments [{"type":"text","text":"..."}].
func fieldText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var b strings.Builder
		for _, seg := range t {
			b.WriteString(fieldText(seg))
		}
		return b.String()
	case map[string]any:
		if s, ok := t["text"].(string); ok {
			return s
		}
		return ""
	default:
		return fmt.Sprint(t)
	}
}
