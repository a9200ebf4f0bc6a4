// Package selection parses human-entered page selections like
// "1,3,5-8,10" into validated page lists and page ranges.
//
// The parser only enforces the grammar. Bounds checking against a
// concrete page count is the job of the engine that consumes the
// selection, since the parser has no document in hand.
package selection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageRange is a 1-indexed inclusive page span.
type PageRange struct {
	Start int
	End   int
}

func (r PageRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// MalformedSelectionError reports a selection token that does not match
// the "N" / "N-M" grammar.
type MalformedSelectionError struct {
	Token string
}

func (e *MalformedSelectionError) Error() string {
	if e.Token == "" {
		return "malformed selection: empty input"
	}
	return fmt.Sprintf("malformed selection: bad token %q", e.Token)
}

// ParsePageList parses a comma-separated list of pages and ranges into
// a deduplicated, ascending list of page numbers. Range tokens expand
// to every page they cover, so "1-3,2-4" yields [1 2 3 4].
func ParsePageList(text string) ([]int, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	seen := make(map[int]struct{})
	for _, tok := range tokens {
		start, end, err := parseToken(tok)
		if err != nil {
			return nil, err
		}
		for p := start; p <= end; p++ {
			seen[p] = struct{}{}
		}
	}

	pages := make([]int, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

// ParseRangeList parses a comma-separated list of pages and ranges into
// ranges in input order. A bare page N becomes the one-page range N-N.
// Ranges are kept verbatim: no merging, no reordering, and an inverted
// token like "3-1" is passed through for the engine to reject.
func ParseRangeList(text string) ([]PageRange, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	ranges := make([]PageRange, 0, len(tokens))
	for _, tok := range tokens {
		if !strings.Contains(tok, "-") {
			n, err := strconv.Atoi(tok)
			if err != nil {
				return nil, &MalformedSelectionError{Token: tok}
			}
			ranges = append(ranges, PageRange{Start: n, End: n})
			continue
		}
		parts := strings.SplitN(tok, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, &MalformedSelectionError{Token: tok}
		}
		end, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, &MalformedSelectionError{Token: tok}
		}
		ranges = append(ranges, PageRange{Start: start, End: end})
	}
	return ranges, nil
}

// tokenize strips whitespace and splits on commas. Empty input and
// empty tokens ("1,,2") are grammar errors.
func tokenize(text string) ([]string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		}
		return r
	}, text)

	if cleaned == "" {
		return nil, &MalformedSelectionError{}
	}

	tokens := strings.Split(cleaned, ",")
	for _, tok := range tokens {
		if tok == "" {
			return nil, &MalformedSelectionError{Token: text}
		}
	}
	return tokens, nil
}

// parseToken returns the inclusive span covered by a single token.
// Pages are 1-indexed and a range must run forward, otherwise the
// expansion in ParsePageList would silently produce nothing.
func parseToken(tok string) (int, int, error) {
	if !strings.Contains(tok, "-") {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 1 {
			return 0, 0, &MalformedSelectionError{Token: tok}
		}
		return n, n, nil
	}
	parts := strings.SplitN(tok, "-", 2)
	start, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, &MalformedSelectionError{Token: tok}
	}
	end, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, &MalformedSelectionError{Token: tok}
	}
	if start < 1 || end < start {
		return 0, 0, &MalformedSelectionError{Token: tok}
	}
	return start, end, nil
}
