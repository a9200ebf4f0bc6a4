// Package merge concatenates pages from multiple source PDFs into one
// output document, preserving input order.
package merge

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/workspace"
)

// OutputName is the fixed name of the merged artifact inside the workspace.
const OutputName = "merged.pdf"

// ErrInsufficientInputs means fewer than two documents were supplied.
var ErrInsufficientInputs = errors.New("merge: at least 2 input documents required")

// EncryptedInputError rejects a merge containing an encrypted source.
type EncryptedInputError struct {
	Path string
}

func (e *EncryptedInputError) Error() string {
	return fmt.Sprintf("merge: encrypted input rejected: %s", e.Path)
}

// Merge appends the pages of each handle, in input order, into one new
// document inside ws and returns a handle on the result. All inputs
// are validated before the output write starts; on any failure after
// the write begins the partial output is removed.
func Merge(ws *workspace.Workspace, handles []*document.Handle) (*document.Handle, error) {
	if len(handles) < 2 {
		return nil, ErrInsufficientInputs
	}

	inFiles := make([]string, 0, len(handles))
	wantPages := 0
	for _, h := range handles {
		if h.Encrypted {
			return nil, &EncryptedInputError{Path: h.Path}
		}
		inFiles = append(inFiles, h.Path)
		wantPages += h.PageCount
	}

	outPath := ws.Path(OutputName)
	start := time.Now()
	conf := model.NewDefaultConfiguration()
	if err := api.MergeCreateFile(inFiles, outPath, false, conf); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("merge write failed: %w", err)
	}

	merged, err := document.Open(outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("merged output unreadable: %w", err)
	}
	if merged.PageCount != wantPages {
		merged.Close()
		os.Remove(outPath)
		return nil, fmt.Errorf("merge produced %d pages, want %d", merged.PageCount, wantPages)
	}

	log.Info().
		Int("inputs", len(handles)).
		Int("pages", merged.PageCount).
		Dur("duration", time.Since(start)).
		Msg("merged documents")
	return merged, nil
}
