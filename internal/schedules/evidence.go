package schedules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ratescan/ratescan/internal/detect"
)

// Span is a half-open [Start, End) character range within an evidence
// text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// PageOffsets maps 1-based page numbers to the span of that page's
// collapsed text within the assembled evidence.
type PageOffsets map[int]Span

var (
	spaceRun   = regexp.MustCompile(`[ \t]+`)
	newlineRun = regexp.MustCompile(`\n{3,}`)
)

// collapseWS normalizes whitespace without disturbing line structure:
// carriage returns are dropped, runs of spaces and tabs collapse to a
// single space, and runs of blank lines collapse to one.
func collapseWS(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = spaceRun.ReplaceAllString(s, " ")
	s = newlineRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// BuildEvidence assembles the evidence text for one detected range.
// Each page's text is whitespace-collapsed before it is appended, so
// the recorded spans stay valid against the final string, and every
// page is introduced by a "--- PAGE N ---" marker carrying its 1-based
// number. Pages with no recoverable text get an empty span, which keeps
// page numbering intact and makes citations against them fail cleanly.
func BuildEvidence(pages []string, r detect.PageRange) (string, PageOffsets) {
	var b strings.Builder
	offsets := make(PageOffsets, r.End-r.Start+1)

	for i := r.Start; i <= r.End && i < len(pages); i++ {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "--- PAGE %d ---\n", i+1)
		start := b.Len()
		b.WriteString(collapseWS(pages[i]))
		offsets[i+1] = Span{Start: start, End: b.Len()}
	}

	return b.String(), offsets
}
