package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/local/pdftoolbox/internal/extproc"
)

// Ghostscript compresses PDFs through the gs pdfwrite device. The tier
// preset picks the distiller profile and the DPI caps image
// downsampling resolution.
type Ghostscript struct {
	runner extproc.Runner
}

// NewGhostscript returns a Ghostscript backend using the given binary
// name ("gs" when empty) and per-call timeout.
func NewGhostscript(bin string, timeout time.Duration) *Ghostscript {
	if bin == "" {
		bin = "gs"
	}
	return &Ghostscript{runner: extproc.Runner{Tool: bin, Timeout: timeout}}
}

// Available reports whether the gs binary is on PATH.
func (g *Ghostscript) Available() bool { return g.runner.Available() }

// Compress rewrites inPath to outPath with the tier's preset. Errors
// come back as the extproc taxonomy (unavailable, timeout, exit).
func (g *Ghostscript) Compress(ctx context.Context, inPath, outPath string, p Params) error {
	args := []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS=" + p.Setting,
		fmt.Sprintf("-dColorImageResolution=%d", p.DPI),
		fmt.Sprintf("-dGrayImageResolution=%d", p.DPI),
		fmt.Sprintf("-dMonoImageResolution=%d", p.DPI),
		"-dDownsampleColorImages=true",
		"-dDownsampleGrayImages=true",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-sOutputFile=" + outPath,
		inPath,
	}
	_, err := g.runner.Run(ctx, args...)
	return err
}
