package merge_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/merge"
	"github.com/local/pdftoolbox/internal/pdftest"
	"github.com/local/pdftoolbox/internal/split"
	"github.com/local/pdftoolbox/internal/workspace"
)

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(ws.Cleanup)
	return ws
}

func openDoc(t *testing.T, d pdftest.Doc) *document.Handle {
	t.Helper()
	h, err := document.Open(pdftest.WriteFile(t, d))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return h
}

func TestMerge(t *testing.T) {
	ws := newWorkspace(t)
	a := openDoc(t, pdftest.Doc{Pages: 2})
	b := openDoc(t, pdftest.Doc{Pages: 3})

	out, err := merge.Merge(ws, []*document.Handle{a, b})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 5, out.PageCount)
	assert.Equal(t, merge.OutputName, filepath.Base(out.Path))
	assert.Greater(t, out.FileSize, int64(0))
}

func TestMergeSingleInput(t *testing.T) {
	ws := newWorkspace(t)
	a := openDoc(t, pdftest.Doc{Pages: 2})

	_, err := merge.Merge(ws, []*document.Handle{a})
	require.ErrorIs(t, err, merge.ErrInsufficientInputs)
}

func TestMergeNoInputs(t *testing.T) {
	_, err := merge.Merge(newWorkspace(t), nil)
	require.ErrorIs(t, err, merge.ErrInsufficientInputs)
}

func TestMergeRejectsEncryptedInput(t *testing.T) {
	ws := newWorkspace(t)
	a := openDoc(t, pdftest.Doc{Pages: 2})

	plain := pdftest.WriteFile(t, pdftest.Doc{Pages: 3})
	encPath := filepath.Join(t.TempDir(), "enc.pdf")
	pdftest.Encrypt(t, plain, encPath, "", "owner-secret")
	enc, err := document.Open(encPath)
	require.NoError(t, err)
	t.Cleanup(enc.Close)
	require.True(t, enc.Encrypted)

	_, err = merge.Merge(ws, []*document.Handle{a, enc})
	var rejected *merge.EncryptedInputError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, encPath, rejected.Path)

	// Rejection happens before anything is written.
	names, err := ws.List()
	require.NoError(t, err)
	assert.Empty(t, names)
}

// A merged document must split back into its constituent page counts.
func TestMergeThenSplitRoundTrip(t *testing.T) {
	ws := newWorkspace(t)
	a := openDoc(t, pdftest.Doc{Pages: 2})
	b := openDoc(t, pdftest.Doc{Pages: 3})

	out, err := merge.Merge(ws, []*document.Handle{a, b})
	require.NoError(t, err)
	defer out.Close()

	parts, err := split.ByChunks(ws, out, 2)
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, 1, parts[2].To-parts[2].From+1)
}
