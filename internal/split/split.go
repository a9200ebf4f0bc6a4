// Package split produces one or more PDFs from a single source using
// one of four strategies: explicit pages, ranges, fixed-size chunks,
// or bookmark boundaries.
//
// Every strategy follows the same validate-then-extract pattern: all
// parameters are checked against the source page count before any
// output is written, so a validation failure always leaves zero
// artifacts behind.
package split

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/selection"
	"github.com/local/pdftoolbox/internal/workspace"
)

// maxTitleLen bounds the sanitized bookmark title used in file names.
const maxTitleLen = 50

// Output is one produced document.
type Output struct {
	Name string
	Path string
	From int
	To   int
}

// ErrNoBookmarks means the source carries no outline to split on.
var ErrNoBookmarks = errors.New("split: document has no bookmarks")

// OutOfRangeError names the first selected page outside [1, PageCount].
type OutOfRangeError struct {
	Page      int
	PageCount int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("split: page %d out of range, document has %d pages", e.Page, e.PageCount)
}

// InvalidRangeError names the first range violating 1 <= start <= end <= PageCount.
type InvalidRangeError struct {
	Start     int
	End       int
	PageCount int
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("split: invalid range %d-%d, document has %d pages", e.Start, e.End, e.PageCount)
}

// InvalidChunkSizeError rejects a chunk size below one.
type InvalidChunkSizeError struct {
	Size int
}

func (e *InvalidChunkSizeError) Error() string {
	return fmt.Sprintf("split: chunk size must be >= 1, got %d", e.Size)
}

// BookmarkSpanError reports an outline entry whose computed section is
// empty or inverted, which happens with out-of-order or duplicate-page
// bookmarks. Such outlines are rejected up front rather than silently
// producing a corrupt section.
type BookmarkSpanError struct {
	Index int
	Title string
	Start int
	End   int
}

func (e *BookmarkSpanError) Error() string {
	return fmt.Sprintf("split: bookmark %d (%q) spans pages %d-%d", e.Index+1, e.Title, e.Start, e.End)
}

// ByPages extracts each selected page into its own single-page
// document, in ascending page order, named page_NNN.pdf.
func ByPages(ws *workspace.Workspace, h *document.Handle, pages []int) ([]Output, error) {
	for _, p := range pages {
		if p < 1 || p > h.PageCount {
			return nil, &OutOfRangeError{Page: p, PageCount: h.PageCount}
		}
	}

	ordered := append([]int(nil), pages...)
	sort.Ints(ordered)

	outputs := make([]Output, 0, len(ordered))
	for _, p := range ordered {
		out := Output{
			Name: fmt.Sprintf("page_%03d.pdf", p),
			From: p,
			To:   p,
		}
		if err := extract(ws, h, []int{p}, &out); err != nil {
			removeAll(outputs)
			return nil, err
		}
		outputs = append(outputs, out)
	}
	logDone("pages", h, outputs)
	return outputs, nil
}

// ByRanges extracts one document per range, in input order, named
// pages_SSS-EEE.pdf. The first invalid range aborts the whole call.
func ByRanges(ws *workspace.Workspace, h *document.Handle, ranges []selection.PageRange) ([]Output, error) {
	for _, r := range ranges {
		if r.Start < 1 || r.End > h.PageCount || r.Start > r.End {
			return nil, &InvalidRangeError{Start: r.Start, End: r.End, PageCount: h.PageCount}
		}
	}

	outputs := make([]Output, 0, len(ranges))
	for _, r := range ranges {
		out := Output{
			Name: fmt.Sprintf("pages_%03d-%03d.pdf", r.Start, r.End),
			From: r.Start,
			To:   r.End,
		}
		if err := extract(ws, h, spanPages(r.Start, r.End), &out); err != nil {
			removeAll(outputs)
			return nil, err
		}
		outputs = append(outputs, out)
	}
	logDone("range", h, outputs)
	return outputs, nil
}

// ByChunks splits the document into ceil(PageCount/size) pieces of at
// most size pages, named part_NNN_pages_SSS-EEE.pdf. The last chunk
// may be shorter.
func ByChunks(ws *workspace.Workspace, h *document.Handle, size int) ([]Output, error) {
	if size < 1 {
		return nil, &InvalidChunkSizeError{Size: size}
	}

	chunks := (h.PageCount + size - 1) / size
	outputs := make([]Output, 0, chunks)
	for i := 0; i < chunks; i++ {
		start := i*size + 1
		end := (i + 1) * size
		if end > h.PageCount {
			end = h.PageCount
		}
		out := Output{
			Name: fmt.Sprintf("part_%03d_pages_%03d-%03d.pdf", i+1, start, end),
			From: start,
			To:   end,
		}
		if err := extract(ws, h, spanPages(start, end), &out); err != nil {
			removeAll(outputs)
			return nil, err
		}
		outputs = append(outputs, out)
	}
	logDone("chunks", h, outputs)
	return outputs, nil
}

// ByBookmarks splits at outline boundaries: entry i spans from its
// target page up to the page before entry i+1's target, the last entry
// running to the end of the document. Outputs are named
// section_NNN_Title.pdf with the title sanitized for file systems.
//
// Outlines whose entries are out of order or share a target page would
// produce empty or inverted sections; those are rejected with
// BookmarkSpanError during validation, before anything is written.
func ByBookmarks(ws *workspace.Workspace, h *document.Handle) ([]Output, error) {
	marks := h.Outline
	if len(marks) == 0 {
		return nil, ErrNoBookmarks
	}

	type section struct {
		title      string
		start, end int
	}
	sections := make([]section, 0, len(marks))
	for i, bm := range marks {
		start := bm.PageFrom
		end := h.PageCount
		if i+1 < len(marks) {
			end = marks[i+1].PageFrom - 1
		}
		if start < 1 || end > h.PageCount || start > end {
			return nil, &BookmarkSpanError{Index: i, Title: bm.Title, Start: start, End: end}
		}
		sections = append(sections, section{title: bm.Title, start: start, end: end})
	}

	outputs := make([]Output, 0, len(sections))
	for i, s := range sections {
		out := Output{
			Name: fmt.Sprintf("section_%03d_%s.pdf", i+1, SanitizeTitle(s.title)),
			From: s.start,
			To:   s.end,
		}
		if err := extract(ws, h, spanPages(s.start, s.end), &out); err != nil {
			removeAll(outputs)
			return nil, err
		}
		outputs = append(outputs, out)
	}
	logDone("bookmarks", h, outputs)
	return outputs, nil
}

// SanitizeTitle reduces a bookmark title to a file-name-safe token:
// only letters, digits, spaces, hyphens and underscores survive,
// spaces become underscores, and the result is capped at 50 runes.
func SanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	clean := strings.TrimRight(b.String(), " ")
	clean = strings.ReplaceAll(clean, " ", "_")
	runes := []rune(clean)
	if len(runes) > maxTitleLen {
		clean = string(runes[:maxTitleLen])
	}
	return clean
}

func spanPages(start, end int) []int {
	pages := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		pages = append(pages, p)
	}
	return pages
}

func extract(ws *workspace.Workspace, h *document.Handle, pages []int, out *Output) error {
	f, err := ws.CreateFile(out.Name)
	if err != nil {
		return err
	}
	if err := h.ExtractPages(pages, f); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("close %s: %w", out.Name, err)
	}
	out.Path = f.Name()
	return nil
}

// removeAll discards outputs written before a mid-extraction failure
// so a failed call never leaves partial artifacts behind.
func removeAll(outputs []Output) {
	for _, o := range outputs {
		os.Remove(o.Path)
	}
}

func logDone(strategy string, h *document.Handle, outputs []Output) {
	log.Info().
		Str("strategy", strategy).
		Str("source", h.Path).
		Int("pages", h.PageCount).
		Int("outputs", len(outputs)).
		Msg("split complete")
}
