// Package document provides a read-only handle over one opened PDF:
// page count, encryption state, outline, plus page extraction used by
// the split engine. pdfcpu is the only PDF primitive consumed here.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"
)

// ErrUnreadable means the input could not be parsed as a PDF.
var ErrUnreadable = errors.New("document: unreadable or corrupt pdf")

// ErrLocked means the PDF requires a password to open at all.
var ErrLocked = errors.New("document: password protected pdf")

// ErrClosed means the handle was used after Close.
var ErrClosed = errors.New("document: handle is closed")

// Bookmark is one flattened outline entry in document order.
type Bookmark struct {
	Level    int
	Title    string
	PageFrom int
}

// Handle is an open, read-only view over one decoded PDF. It is safe
// for concurrent reads of its fields after Open; page extraction is
// serialized internally because the underlying pdfcpu context is not
// safe for concurrent use.
type Handle struct {
	Path      string
	PageCount int
	Encrypted bool
	FileSize  int64
	Outline   []Bookmark

	mu   sync.Mutex
	ctx  *model.Context
	temp bool
}

// Open reads and validates the PDF at path.
func Open(path string) (*Handle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return open(path, data, false)
}

// OpenBytes opens a PDF held in memory. The bytes are spooled to a
// temp file so that engines operating on paths (merge, rasterizer)
// can consume the handle; the file is removed on Close.
func OpenBytes(data []byte) (*Handle, error) {
	f, err := os.CreateTemp("", "pdftoolbox-doc-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("spool pdf: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool pdf: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool pdf: %w", err)
	}
	h, err := open(f.Name(), data, true)
	if err != nil {
		os.Remove(f.Name())
		return nil, err
	}
	return h, nil
}

func open(path string, data []byte, temp bool) (*Handle, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(bytes.NewReader(data), conf)
	if err != nil {
		if isPasswordErr(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		if isPasswordErr(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	h := &Handle{
		Path:      path,
		PageCount: ctx.PageCount,
		Encrypted: ctx.Encrypt != nil,
		FileSize:  int64(len(data)),
		Outline:   readOutline(data),
		ctx:       ctx,
		temp:      temp,
	}
	log.Debug().
		Str("path", path).
		Int("pages", h.PageCount).
		Bool("encrypted", h.Encrypted).
		Int("bookmarks", len(h.Outline)).
		Msg("opened pdf")
	return h, nil
}

// readOutline flattens the pdfcpu bookmark tree in traversal order.
// A missing or broken outline yields an empty slice, not an error:
// split-by-bookmarks rejects that case itself.
func readOutline(data []byte) []Bookmark {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	bms, err := api.Bookmarks(bytes.NewReader(data), conf)
	if err != nil {
		if !errors.Is(err, api.ErrNoOutlines) {
			log.Debug().Err(err).Msg("outline not readable")
		}
		return nil
	}
	var out []Bookmark
	flattenBookmarks(bms, 0, &out)
	return out
}

func flattenBookmarks(bms []pdfcpu.Bookmark, level int, out *[]Bookmark) {
	for _, bm := range bms {
		*out = append(*out, Bookmark{Level: level, Title: bm.Title, PageFrom: bm.PageFrom})
		if len(bm.Kids) > 0 {
			flattenBookmarks(bm.Kids, level+1, out)
		}
	}
}

// HasBookmarks reports whether the document carries an outline.
func (h *Handle) HasBookmarks() bool { return len(h.Outline) > 0 }

// ExtractPages writes a new PDF containing exactly the given 1-indexed
// pages, in source order, to w. The caller validates bounds first.
func (h *Handle) ExtractPages(pages []int, w *os.File) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ctx == nil {
		return ErrClosed
	}
	extracted, err := pdfcpu.ExtractPages(h.ctx, pages, false)
	if err != nil {
		return fmt.Errorf("extract pages %v: %w", pages, err)
	}
	if err := api.WriteContext(extracted, w); err != nil {
		return fmt.Errorf("write extracted pages: %w", err)
	}
	return nil
}

// Close releases the handle. Spooled temp files are removed. Close is
// idempotent and must run on every exit path.
func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ctx = nil
	if h.temp && h.Path != "" {
		if err := os.Remove(h.Path); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", h.Path).Msg("failed to remove spooled pdf")
		}
		h.temp = false
	}
}

func isPasswordErr(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "password") || strings.Contains(s, "encrypt")
}
