// Package detect implements rate-schedule boundary detection over
// per-page document text. Pages are scored by tariff marker phrases,
// scoring pages are clustered into contiguous ranges, and ranges are
// padded to catch charge tables that run past the last marker page.
package detect

import "regexp"

var markerPattern = regexp.MustCompile(`(?i)` +
	`\brate schedule\b` +
	`|\bschedule\b` +
	`|\bapplicable to\b` +
	`|\bavailability\b` +
	`|\bcharacter of service\b` +
	`|\bcustomer charge\b` +
	`|\bdemand charge\b` +
	`|\benergy charge\b`)

// PageHit records a page containing at least one boundary marker.
type PageHit struct {
	PageIndex int
	Score     int
}

// PageRange is an inclusive range of zero-based page indexes.
type PageRange struct {
	Start int
	End   int
}

// Options tunes clustering and padding.
type Options struct {
	// Gap is the maximum number of non-scoring pages between two hits
	// that still belong to the same range.
	Gap int
	// PadAfter extends each range by this many pages, clamped to the
	// document end.
	PadAfter int
}

// DefaultOptions returns the tuning used by the pipeline.
func DefaultOptions() Options {
	return Options{Gap: 1, PadAfter: 2}
}

// Ranges runs the full detection pass over per-page text.
func Ranges(pages []string, opts Options) []PageRange {
	hits := ScorePages(pages)
	return ExpandRanges(ClusterRanges(hits, opts.Gap), len(pages), opts.PadAfter)
}

// ScorePages returns a hit for every page matching at least one marker,
// scored by total marker occurrences.
func ScorePages(pages []string) []PageHit {
	hits := make([]PageHit, 0)
	for i, text := range pages {
		matches := markerPattern.FindAllStringIndex(text, -1)
		if len(matches) > 0 {
			hits = append(hits, PageHit{PageIndex: i, Score: len(matches)})
		}
	}
	return hits
}

// ClusterRanges groups hit pages into inclusive ranges, merging hits
// separated by at most gap non-scoring pages.
func ClusterRanges(hits []PageHit, gap int) []PageRange {
	if len(hits) == 0 {
		return nil
	}

	ranges := make([]PageRange, 0)
	start := hits[0].PageIndex
	prev := start

	for _, h := range hits[1:] {
		if h.PageIndex <= prev+gap+1 {
			prev = h.PageIndex
			continue
		}
		ranges = append(ranges, PageRange{Start: start, End: prev})
		start = h.PageIndex
		prev = h.PageIndex
	}

	return append(ranges, PageRange{Start: start, End: prev})
}

// RangeScore sums the marker scores of hit pages inside a range.
func RangeScore(hits []PageHit, r PageRange) int {
	total := 0
	for _, h := range hits {
		if h.PageIndex >= r.Start && h.PageIndex <= r.End {
			total += h.Score
		}
	}
	return total
}

// ExpandRanges pads each range by padAfter pages, clamped to the last
// page of the document.
func ExpandRanges(ranges []PageRange, numPages, padAfter int) []PageRange {
	expanded := make([]PageRange, 0, len(ranges))
	for _, r := range ranges {
		end := min(numPages-1, r.End+padAfter)
		expanded = append(expanded, PageRange{Start: r.Start, End: end})
	}
	return expanded
}
