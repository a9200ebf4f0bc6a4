// Package compress maps a quality tier to backend parameters and
// delegates byte-level PDF compression to an external engine. The
// orchestrator owns validation, timeout translation and the
// post-condition check; it never touches page content itself.
package compress

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/workspace"
)

// Quality is a closed set of compression aggressiveness levels.
type Quality string

const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Params is the strongly-typed backend parameter set one tier maps to.
type Params struct {
	// DPI is the target raster resolution for downsampled images.
	DPI int
	// Setting is the backend aggressiveness preset.
	Setting string
}

// tierParams is the fixed tier lookup table. Low compresses hardest.
var tierParams = map[Quality]Params{
	QualityLow:    {DPI: 72, Setting: "/screen"},
	QualityMedium: {DPI: 150, Setting: "/ebook"},
	QualityHigh:   {DPI: 300, Setting: "/prepress"},
}

// estimateFactor is the per-tier size heuristic used by EstimateSizes.
var estimateFactor = map[Quality]float64{
	QualityLow:    0.30,
	QualityMedium: 0.55,
	QualityHigh:   0.80,
}

// OutputName is the fixed name of the compressed artifact.
const OutputName = "compressed.pdf"

// UnsupportedQualityError rejects a tier outside low|medium|high.
type UnsupportedQualityError struct {
	Value string
}

func (e *UnsupportedQualityError) Error() string {
	return fmt.Sprintf("compress: unsupported quality %q (want low, medium or high)", e.Value)
}

// ErrEmptyOutput means the backend reported success but produced no bytes.
var ErrEmptyOutput = errors.New("compress: backend produced empty output")

// Backend performs the actual byte-level compression.
type Backend interface {
	// Compress writes a compressed copy of inPath to outPath.
	Compress(ctx context.Context, inPath, outPath string, p Params) error
	// Available reports whether the backend can be invoked at all.
	Available() bool
}

// ParseQuality validates a user supplied tier name.
func ParseQuality(s string) (Quality, error) {
	q := Quality(s)
	if _, ok := tierParams[q]; !ok {
		return "", &UnsupportedQualityError{Value: s}
	}
	return q, nil
}

// Output describes the produced artifact.
type Output struct {
	Path         string
	Name         string
	OriginalSize int64
	Size         int64
}

// Compressor orchestrates one backend.
type Compressor struct {
	backend Backend
}

// New returns a Compressor delegating to backend.
func New(backend Backend) *Compressor {
	return &Compressor{backend: backend}
}

// Compress validates the tier, runs the backend with its bounded time
// budget and verifies the output exists and is non-empty. Backend
// errors surface with their typed kind; a partial output file is never
// left behind as a valid result.
func (c *Compressor) Compress(ctx context.Context, ws *workspace.Workspace, h *document.Handle, quality Quality) (Output, error) {
	params, ok := tierParams[quality]
	if !ok {
		return Output{}, &UnsupportedQualityError{Value: string(quality)}
	}

	outPath := ws.Path(OutputName)
	start := time.Now()
	if err := c.backend.Compress(ctx, h.Path, outPath, params); err != nil {
		os.Remove(outPath)
		return Output{}, err
	}

	fi, err := os.Stat(outPath)
	if err != nil || fi.Size() == 0 {
		os.Remove(outPath)
		return Output{}, ErrEmptyOutput
	}

	log.Info().
		Str("quality", string(quality)).
		Int64("in_bytes", h.FileSize).
		Int64("out_bytes", fi.Size()).
		Dur("duration", time.Since(start)).
		Msg("compressed pdf")

	return Output{
		Path:         outPath,
		Name:         OutputName,
		OriginalSize: h.FileSize,
		Size:         fi.Size(),
	}, nil
}

// Estimate is a best-effort size hint per tier, not a guarantee.
type Estimate struct {
	Original int64 `json:"original_bytes"`
	Low      int64 `json:"low_bytes"`
	Medium   int64 `json:"medium_bytes"`
	High     int64 `json:"high_bytes"`
}

// EstimateSizes multiplies the input size by a fixed factor per tier.
// The estimates are monotonic: low <= medium <= high <= original.
func EstimateSizes(fileSize int64) Estimate {
	return Estimate{
		Original: fileSize,
		Low:      int64(float64(fileSize) * estimateFactor[QualityLow]),
		Medium:   int64(float64(fileSize) * estimateFactor[QualityMedium]),
		High:     int64(float64(fileSize) * estimateFactor[QualityHigh]),
	}
}
