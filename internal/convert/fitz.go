package convert

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
	"github.com/rs/zerolog/log"
)

// Fitz is the default rasterizer and text extractor, backed by MuPDF
// through go-fitz. A fitz document is not safe for concurrent use, so
// each call opens its own document; that keeps per-page renders
// independent and lets the worker pool run them in parallel.
type Fitz struct{}

// NewFitz returns the go-fitz backend.
func NewFitz() *Fitz { return &Fitz{} }

// Render rasterizes one 1-indexed page at the given DPI.
func (f *Fitz) Render(path string, page, dpi int) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf for render: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return nil, fmt.Errorf("render: page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	img, err := doc.ImageDPI(page-1, float64(dpi))
	if err != nil {
		return nil, fmt.Errorf("render page %d: %w", page, err)
	}
	log.Debug().
		Int("page", page).
		Int("dpi", dpi).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Msg("rendered page")
	return img, nil
}

// PageText extracts the text of one 1-indexed page.
func (f *Fitz) PageText(path string, page int) (string, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("open pdf for text: %w", err)
	}
	defer doc.Close()

	if page < 1 || page > doc.NumPage() {
		return "", fmt.Errorf("text: page %d out of range (document has %d pages)", page, doc.NumPage())
	}

	text, err := doc.Text(page - 1)
	if err != nil {
		return "", fmt.Errorf("extract text page %d: %w", page, err)
	}
	return text, nil
}

// Metadata returns the document information dictionary (title, author,
// producer and friends) as reported by MuPDF.
func Metadata(path string) map[string]string {
	doc, err := fitz.New(path)
	if err != nil {
		log.Debug().Err(err).Str("path", path).Msg("metadata not readable")
		return map[string]string{}
	}
	defer doc.Close()

	meta := make(map[string]string)
	for k, v := range doc.Metadata() {
		if v != "" {
			meta[k] = v
		}
	}
	return meta
}
