package notifier

import (
	"fmt"
	"strings"

	"github.com/DrSkyle/todoslash/pkg/engine/scanner"
)

// reminderHeader opens every default reminder.
const reminderHeader = "You have those TODO not been resolve:\n\n"

// Renderer turns one author's worklist into message text.
type Renderer interface {
	Render(occ []scanner.Occurrence) string
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(occ []scanner.Occurrence) string

func (f RendererFunc) Render(occ []scanner.Occurrence) string {
	return f(occ)
}

// DefaultRenderer lists each occurrence as "- file:line" followed by its trimmed source line.
var DefaultRenderer Renderer = RendererFunc(renderBulletList)

func renderBulletList(occ []scanner.Occurrence) string {
	items := make([]string, len(occ))
	for i, o := range occ {
		items[i] = fmt.Sprintf("- %s\n   > %s", o.Key(), strings.TrimSpace(o.SourceCode))
	}
	return reminderHeader + strings.Join(items, "\n")
}
