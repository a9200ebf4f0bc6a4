// Package convert turns PDFs into page images, plain text, or a
// word-processor document. Rasterization and text extraction are
// delegated to injected backends (go-fitz by default); document
// reconstruction goes through LibreOffice. The orchestrator assembles
// multi-page results in page order.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/workspace"
)

// Format is a supported raster output format.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
	FormatBMP  Format = "bmp"
)

// jpegQuality is the fixed encoder quality for JPEG output.
const jpegQuality = 90

// UnsupportedFormatError rejects a format outside the supported set.
type UnsupportedFormatError struct {
	Value string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("convert: unsupported image format %q (want png, jpeg, tiff or bmp)", e.Value)
}

// ParseFormat validates a user supplied format name. "jpg" is accepted
// as an alias for jpeg.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "png":
		return FormatPNG, nil
	case "jpeg", "jpg":
		return FormatJPEG, nil
	case "tiff", "tif":
		return FormatTIFF, nil
	case "bmp":
		return FormatBMP, nil
	}
	return "", &UnsupportedFormatError{Value: s}
}

// Rasterizer renders one page of a PDF at the given resolution.
type Rasterizer interface {
	Render(path string, page, dpi int) (image.Image, error)
}

// TextExtractor extracts the text of one page.
type TextExtractor interface {
	PageText(path string, page int) (string, error)
}

// DocumentConverter reconstructs a word-processor document from a PDF.
type DocumentConverter interface {
	Convert(ctx context.Context, inPath, outDir string) (string, error)
}

// Image is one rendered page.
type Image struct {
	Page int
	Name string
	Data []byte
}

// Converter orchestrates the conversion backends.
type Converter struct {
	raster  Rasterizer
	text    TextExtractor
	docs    DocumentConverter
	workers int
}

// New builds a Converter. workers bounds concurrent page renders.
func New(raster Rasterizer, text TextExtractor, docs DocumentConverter, workers int) *Converter {
	if workers <= 0 {
		workers = 4
	}
	return &Converter{raster: raster, text: text, docs: docs, workers: workers}
}

// Images renders every page at dpi and encodes it in the requested
// format. Pages render concurrently across the worker pool; results
// are placed by page index so the returned order is always 1..N
// regardless of completion order.
func (c *Converter) Images(ctx context.Context, h *document.Handle, format Format, dpi int) ([]Image, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}
	if dpi <= 0 {
		dpi = 150
	}

	start := time.Now()
	results := make([]Image, h.PageCount)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)
	sem := make(chan struct{}, c.workers)

	for p := 1; p <= h.PageCount; p++ {
		mu.Lock()
		failed := firstErr != nil
		mu.Unlock()
		if failed || ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(page int) {
			defer wg.Done()
			defer func() { <-sem }()

			img, err := c.raster.Render(h.Path, page, dpi)
			if err == nil {
				var data []byte
				data, err = encode(img, format)
				if err == nil {
					results[page-1] = Image{
						Page: page,
						Name: fmt.Sprintf("page_%03d.%s", page, format),
						Data: data,
					}
					return
				}
			}
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("render page %d: %w", page, err)
			}
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log.Info().
		Int("pages", h.PageCount).
		Str("format", string(format)).
		Int("dpi", dpi).
		Dur("duration", time.Since(start)).
		Msg("rendered pdf to images")
	return results, nil
}

// Text extracts each page's text in page order, pages separated by one
// blank line. No cross-page reflow is attempted.
func (c *Converter) Text(ctx context.Context, h *document.Handle) (string, error) {
	var b strings.Builder
	for p := 1; p <= h.PageCount; p++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text, err := c.text.PageText(h.Path, p)
		if err != nil {
			return "", fmt.Errorf("extract text page %d: %w", p, err)
		}
		if p > 1 {
			b.WriteString("\n\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// Document converts the whole PDF into a word-processor document via
// the external engine, returning its bytes and the artifact name
// inside ws. Backend failures propagate with their typed kind from
// the runner.
func (c *Converter) Document(ctx context.Context, ws *workspace.Workspace, h *document.Handle) ([]byte, string, error) {
	outPath, err := c.docs.Convert(ctx, h.Path, ws.Dir())
	if err != nil {
		return nil, "", err
	}
	data, err := readNonEmpty(outPath)
	if err != nil {
		return nil, "", err
	}
	log.Info().Str("source", h.Path).Int("bytes", len(data)).Msg("converted pdf to document")
	return data, filepath.Base(outPath), nil
}

func readNonEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read converted document: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("converted document %s is empty", filepath.Base(path))
	}
	return data, nil
}

func encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case FormatBMP:
		err = bmp.Encode(&buf, img)
	default:
		return nil, &UnsupportedFormatError{Value: string(format)}
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
