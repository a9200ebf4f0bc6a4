package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/local/pdftoolbox/internal/extproc"
)

// Office reconstructs word-processor documents from PDFs using
// LibreOffice in headless mode.
type Office struct {
	runner extproc.Runner
}

// NewOffice returns a LibreOffice converter using the given binary
// name ("libreoffice" when empty) and per-call timeout.
func NewOffice(bin string, timeout time.Duration) *Office {
	if bin == "" {
		bin = "libreoffice"
	}
	return &Office{runner: extproc.Runner{Tool: bin, Timeout: timeout}}
}

// Available reports whether the LibreOffice binary is on PATH.
func (o *Office) Available() bool { return o.runner.Available() }

// Convert produces a .docx from inPath inside outDir and returns its
// path. Each invocation gets a throwaway profile directory; concurrent
// LibreOffice runs sharing a profile deadlock otherwise.
func (o *Office) Convert(ctx context.Context, inPath, outDir string) (string, error) {
	profileDir := filepath.Join(os.TempDir(), "lo_profile_"+uuid.NewString())
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return "", fmt.Errorf("create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	args := []string{
		"-env:UserInstallation=file://" + profileDir,
		"--headless",
		"--convert-to", "docx",
		"--outdir", outDir,
		inPath,
	}
	if _, err := o.runner.Run(ctx, args...); err != nil {
		return "", err
	}

	// LibreOffice names the output after the input file.
	base := filepath.Base(inPath)
	outPath := filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".docx")
	if fi, err := os.Stat(outPath); err != nil || fi.Size() == 0 {
		return "", &extproc.ExitError{Tool: o.runner.Tool, Detail: "no output document produced"}
	}
	return outPath, nil
}
