package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolbox/internal/compress"
	"github.com/local/pdftoolbox/internal/config"
	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/extproc"
	"github.com/local/pdftoolbox/internal/merge"
	"github.com/local/pdftoolbox/internal/pdftest"
	"github.com/local/pdftoolbox/internal/selection"
	"github.com/local/pdftoolbox/internal/split"
	"github.com/local/pdftoolbox/internal/store"
	"github.com/local/pdftoolbox/internal/worker"
)

type fakeQueue struct {
	mu        sync.Mutex
	enqueued  [][]byte
	cancelled []string
}

func (f *fakeQueue) Enqueue(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, payload)
	return nil
}

func (f *fakeQueue) CancelJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

type fakeStatus struct {
	mu       sync.Mutex
	statuses map[string]store.Status
}

func newFakeStatus() *fakeStatus { return &fakeStatus{statuses: make(map[string]store.Status)} }

func (f *fakeStatus) Set(ctx context.Context, jobID string, st store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = st
	return nil
}

func (f *fakeStatus) Get(ctx context.Context, jobID string) (store.Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	return st, ok, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeQueue, *fakeStatus) {
	t.Helper()
	cfg := config.Config{}
	cfg.Server.MaxUploadMB = 16
	cfg.Paths.DataDir = t.TempDir()

	q := &fakeQueue{}
	st := newFakeStatus()
	mux := http.NewServeMux()
	New(cfg, q, st, nil).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, q, st
}

// multipartBody builds a form with the named files plus extra fields.
func multipartBody(t *testing.T, field string, files map[string][]byte, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&selection.MalformedSelectionError{Token: "x"}, http.StatusBadRequest},
		{&compress.UnsupportedQualityError{Value: "ultra"}, http.StatusBadRequest},
		{&split.InvalidChunkSizeError{Size: 0}, http.StatusBadRequest},
		{document.ErrUnreadable, http.StatusBadRequest},
		{&split.OutOfRangeError{Page: 9, PageCount: 3}, http.StatusUnprocessableEntity},
		{&split.InvalidRangeError{Start: 5, End: 2}, http.StatusUnprocessableEntity},
		{&split.BookmarkSpanError{Index: 0}, http.StatusUnprocessableEntity},
		{&merge.EncryptedInputError{Path: "x.pdf"}, http.StatusUnprocessableEntity},
		{split.ErrNoBookmarks, http.StatusUnprocessableEntity},
		{merge.ErrInsufficientInputs, http.StatusUnprocessableEntity},
		{document.ErrLocked, http.StatusUnprocessableEntity},
		{&extproc.UnavailableError{Tool: "gs"}, http.StatusBadGateway},
		{&extproc.ExitError{Tool: "gs"}, http.StatusBadGateway},
		{&extproc.TimeoutError{Tool: "gs"}, http.StatusGatewayTimeout},
		{errors.New("anything else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), "error %v", tc.err)
	}
}

func TestMergeEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "files", map[string][]byte{
		"a.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2}),
		"b.pdf": pdftest.Bytes(pdftest.Doc{Pages: 3}),
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/merge", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	h, err := document.OpenBytes(data)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 5, h.PageCount)
}

func TestMergeEndpointSingleFile(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "files", map[string][]byte{
		"a.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2}),
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/merge", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestMergeEndpointRejectsNonPDF(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "files", map[string][]byte{
		"a.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2}),
		"b.txt": []byte("just words"),
	}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/merge", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSplitEndpointSingleOutput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 4})},
		map[string]string{"mode": "pages", "pages": "2"})

	resp, err := http.Post(srv.URL+"/api/v1/split", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "page_002.pdf")
}

func TestSplitEndpointZipOutput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 6})},
		map[string]string{"mode": "chunks", "chunk_size": "2"})

	resp, err := http.Post(srv.URL+"/api/v1/split", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
}

func TestSplitEndpointBadMode(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2})},
		map[string]string{"mode": "diagonal"})

	resp, err := http.Post(srv.URL+"/api/v1/split", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSplitEndpointOutOfRange(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2})},
		map[string]string{"mode": "pages", "pages": "9"})

	resp, err := http.Post(srv.URL+"/api/v1/split", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCompressEndpointQueuesJob(t *testing.T) {
	srv, q, st := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2})},
		map[string]string{"quality": "medium"})

	resp, err := http.Post(srv.URL+"/api/v1/compress", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["job_id"])
	assert.Equal(t, "/api/v1/jobs/"+out["job_id"], out["status_url"])

	require.Len(t, q.enqueued, 1)
	var task worker.Task
	require.NoError(t, json.Unmarshal(q.enqueued[0], &task))
	assert.Equal(t, worker.OpCompress, task.Op)
	assert.Equal(t, "medium", task.Quality)
	assert.Equal(t, out["job_id"], task.JobID)

	status, found, err := st.Get(context.Background(), task.JobID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StateQueued, status.State)
}

func TestCompressEndpointBadQuality(t *testing.T) {
	srv, q, _ := newTestServer(t)

	body, ctype := multipartBody(t, "file",
		map[string][]byte{"in.pdf": pdftest.Bytes(pdftest.Doc{Pages: 2})},
		map[string]string{"quality": "ultra"})

	resp, err := http.Post(srv.URL+"/api/v1/compress", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, q.enqueued)
}

func TestEstimateEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	data := pdftest.Bytes(pdftest.Doc{Pages: 2})
	body, ctype := multipartBody(t, "file", map[string][]byte{"in.pdf": data}, nil)

	resp, err := http.Post(srv.URL+"/api/v1/estimate", ctype, body)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var est compress.Estimate
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&est))
	assert.Equal(t, int64(len(data)), est.Original)
	assert.LessOrEqual(t, est.Low, est.Medium)
}

func TestJobStatusEndpoint(t *testing.T) {
	srv, _, st := newTestServer(t)
	require.NoError(t, st.Set(context.Background(), "abc", store.Status{State: store.StateProcessing, Op: "compress"}))

	resp, err := http.Get(srv.URL + "/api/v1/jobs/abc")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status store.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, store.StateProcessing, status.State)
}

func TestJobStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/jobs/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJobCancelEndpoint(t *testing.T) {
	srv, q, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/jobs/abc/cancel", "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"abc"}, q.cancelled)
}

func TestJobDownloadNotReady(t *testing.T) {
	srv, _, st := newTestServer(t)
	require.NoError(t, st.Set(context.Background(), "abc", store.Status{State: store.StateProcessing}))

	resp, err := http.Get(srv.URL + "/api/v1/jobs/abc/download")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
