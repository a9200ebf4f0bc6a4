package compress_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolbox/internal/compress"
	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/pdftest"
	"github.com/local/pdftoolbox/internal/workspace"
)

// fakeBackend records the parameters it was called with and writes a
// canned payload to the output path.
type fakeBackend struct {
	lastIn     string
	lastParams compress.Params
	payload    []byte
	err        error
}

func (f *fakeBackend) Available() bool { return true }

func (f *fakeBackend) Compress(ctx context.Context, inPath, outPath string, p compress.Params) error {
	f.lastIn = inPath
	f.lastParams = p
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(outPath, f.payload, 0o644)
}

func setup(t *testing.T) (*workspace.Workspace, *document.Handle) {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(ws.Cleanup)

	h, err := document.Open(pdftest.WriteFile(t, pdftest.Doc{Pages: 3}))
	require.NoError(t, err)
	t.Cleanup(h.Close)
	return ws, h
}

func TestParseQuality(t *testing.T) {
	for _, s := range []string{"low", "medium", "high"} {
		q, err := compress.ParseQuality(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(q))
	}
	for _, s := range []string{"", "LOW", "maximum", "ultra"} {
		_, err := compress.ParseQuality(s)
		var bad *compress.UnsupportedQualityError
		require.ErrorAs(t, err, &bad, "input %q", s)
		assert.Equal(t, s, bad.Value)
	}
}

func TestCompress(t *testing.T) {
	ws, h := setup(t)
	backend := &fakeBackend{payload: []byte("compressed bytes")}

	out, err := compress.New(backend).Compress(context.Background(), ws, h, compress.QualityLow)
	require.NoError(t, err)

	assert.Equal(t, compress.OutputName, out.Name)
	assert.Equal(t, h.FileSize, out.OriginalSize)
	assert.Equal(t, int64(len(backend.payload)), out.Size)
	assert.Equal(t, h.Path, backend.lastIn)
	assert.Equal(t, 72, backend.lastParams.DPI)
	assert.Equal(t, "/screen", backend.lastParams.Setting)
}

func TestCompressTierParams(t *testing.T) {
	ws, h := setup(t)
	backend := &fakeBackend{payload: []byte("x")}
	c := compress.New(backend)

	cases := []struct {
		quality compress.Quality
		dpi     int
		setting string
	}{
		{compress.QualityLow, 72, "/screen"},
		{compress.QualityMedium, 150, "/ebook"},
		{compress.QualityHigh, 300, "/prepress"},
	}
	for _, tc := range cases {
		_, err := c.Compress(context.Background(), ws, h, tc.quality)
		require.NoError(t, err)
		assert.Equal(t, tc.dpi, backend.lastParams.DPI)
		assert.Equal(t, tc.setting, backend.lastParams.Setting)
	}
}

func TestCompressBackendFailure(t *testing.T) {
	ws, h := setup(t)
	boom := errors.New("backend exploded")
	backend := &fakeBackend{err: boom}

	_, err := compress.New(backend).Compress(context.Background(), ws, h, compress.QualityMedium)
	require.ErrorIs(t, err, boom)

	_, statErr := os.Stat(ws.Path(compress.OutputName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCompressEmptyOutput(t *testing.T) {
	ws, h := setup(t)
	backend := &fakeBackend{payload: nil}

	_, err := compress.New(backend).Compress(context.Background(), ws, h, compress.QualityHigh)
	require.ErrorIs(t, err, compress.ErrEmptyOutput)

	_, statErr := os.Stat(ws.Path(compress.OutputName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestEstimateSizes(t *testing.T) {
	est := compress.EstimateSizes(10 << 20)

	assert.Equal(t, int64(10<<20), est.Original)
	assert.LessOrEqual(t, est.Low, est.Medium)
	assert.LessOrEqual(t, est.Medium, est.High)
	assert.LessOrEqual(t, est.High, est.Original)
	assert.Greater(t, est.Low, int64(0))
}

func TestEstimateSizesZero(t *testing.T) {
	est := compress.EstimateSizes(0)
	assert.Equal(t, compress.Estimate{}, est)
}
