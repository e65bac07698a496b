package schedules_test

import (
	"strings"
	"testing"

	"github.com/ratescan/ratescan/internal/detect"
	"github.com/ratescan/ratescan/internal/schedules"
)

func TestBuildEvidence(t *testing.T) {
	pages := []string{
		"RATE SCHEDULE RS-1\nResidential Service",
		"Customer   charge:\t$12.00",
		"unrelated trailing page",
	}

	text, offsets := schedules.BuildEvidence(pages, detect.PageRange{Start: 0, End: 1})

	if !strings.HasPrefix(text, "--- PAGE 1 ---\n") {
		t.Errorf("text does not open with page 1 marker: %q", text)
	}
	if !strings.Contains(text, "\n--- PAGE 2 ---\n") {
		t.Errorf("text missing page 2 marker: %q", text)
	}
	if strings.Contains(text, "PAGE 3") {
		t.Errorf("text includes a page outside the range: %q", text)
	}

	if len(offsets) != 2 {
		t.Fatalf("offsets = %v, want entries for pages 1, 2", offsets)
	}

	rt := schedules.RateText{Text: text, PageOffsets: offsets}

	got, ok := rt.PageText(1)
	if !ok {
		t.Fatal("PageText(1) not resolvable")
	}
	if got != "RATE SCHEDULE RS-1\nResidential Service" {
		t.Errorf("PageText(1) = %q", got)
	}

	got, ok = rt.PageText(2)
	if !ok {
		t.Fatal("PageText(2) not resolvable")
	}
	// Space and tab runs collapse to single spaces inside the span.
	if got != "Customer charge: $12.00" {
		t.Errorf("PageText(2) = %q", got)
	}

	if _, ok := rt.PageText(3); ok {
		t.Error("PageText(3) resolved but page 3 is outside the range")
	}
}

func TestBuildEvidenceCollapsesWhitespace(t *testing.T) {
	pages := []string{"line one\r\n\n\n\n\nline two\t\tend   "}

	text, offsets := schedules.BuildEvidence(pages, detect.PageRange{Start: 0, End: 0})

	rt := schedules.RateText{Text: text, PageOffsets: offsets}
	got, ok := rt.PageText(1)
	if !ok {
		t.Fatal("PageText(1) not resolvable")
	}
	if got != "line one\n\nline two end" {
		t.Errorf("PageText(1) = %q, want carriage returns dropped and runs collapsed", got)
	}
}

func TestBuildEvidenceEmptyPageKeepsNumbering(t *testing.T) {
	pages := []string{"first", "", "third"}

	text, offsets := schedules.BuildEvidence(pages, detect.PageRange{Start: 0, End: 2})

	rt := schedules.RateText{Text: text, PageOffsets: offsets}

	got, ok := rt.PageText(2)
	if !ok {
		t.Fatal("PageText(2) not resolvable")
	}
	if got != "" {
		t.Errorf("PageText(2) = %q, want empty span for blank page", got)
	}

	got, ok = rt.PageText(3)
	if !ok || got != "third" {
		t.Errorf("PageText(3) = %q, %v; want %q", got, ok, "third")
	}
	if !strings.Contains(text, "--- PAGE 2 ---") {
		t.Errorf("blank page lost its marker: %q", text)
	}
}

func TestBuildEvidenceClampsToDocument(t *testing.T) {
	pages := []string{"only page"}

	text, offsets := schedules.BuildEvidence(pages, detect.PageRange{Start: 0, End: 4})

	if len(offsets) != 1 {
		t.Fatalf("offsets = %v, want a single page", offsets)
	}
	if strings.Count(text, "--- PAGE") != 1 {
		t.Errorf("text = %q, want a single marker", text)
	}
}

func TestPageTextRejectsCorruptSpans(t *testing.T) {
	rt := schedules.RateText{
		Text: "short",
		PageOffsets: schedules.PageOffsets{
			1: {Start: 2, End: 99},
			2: {Start: 4, End: 2},
		},
	}

	if _, ok := rt.PageText(1); ok {
		t.Error("span past the end of text must not resolve")
	}
	if _, ok := rt.PageText(2); ok {
		t.Error("inverted span must not resolve")
	}
}

func TestCitationCovers(t *testing.T) {
	tests := []struct {
		name     string
		citation string
		path     string
		leaf     string
		want     bool
	}{
		{"exact path", "eligibility.summary", "eligibility.summary", "summary", true},
		{"bare leaf", "summary", "eligibility.summary", "summary", true},
		{"parent path", "eligibility", "eligibility.summary", "summary", true},
		{"parent of indexed", "charges", "charges[0].value", "value", true},
		{"exact indexed", "charges[0].value", "charges[0].value", "value", true},
		{"indexed parent", "charges[0]", "charges[0].value", "value", true},
		{"different field", "schedule_name", "eligibility.summary", "summary", false},
		{"different index", "charges[1]", "charges[0].value", "value", false},
		{"top-level field", "schedule_name", "schedule_name", "schedule_name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := schedules.Citation{Field: tt.citation, Page: 1, Snippet: "x"}
			if got := c.Covers(tt.path, tt.leaf); got != tt.want {
				t.Errorf("Covers(%q, %q) with field %q = %v, want %v",
					tt.path, tt.leaf, tt.citation, got, tt.want)
			}
		})
	}
}
