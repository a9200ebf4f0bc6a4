package worker

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/pdftoolbox/internal/compress"
	"github.com/local/pdftoolbox/internal/convert"
	"github.com/local/pdftoolbox/internal/pdftest"
	"github.com/local/pdftoolbox/internal/store"
	"github.com/local/pdftoolbox/internal/workspace"
)

type fakeQueue struct {
	mu        sync.Mutex
	acked     []string
	dlq       []string
	delayed   int
	cancelled map[string]bool
}

func (f *fakeQueue) Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error) {
	return "", nil, nil
}
func (f *fakeQueue) Ack(ctx context.Context, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, msgID)
	return nil
}
func (f *fakeQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlq = append(f.dlq, reason)
	return nil
}
func (f *fakeQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed++
	return nil
}
func (f *fakeQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
	return f.cancelled[jobID], nil
}

type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]store.Status
}

func newFakeStore() *fakeStore { return &fakeStore{statuses: make(map[string]store.Status)} }

func (f *fakeStore) Set(ctx context.Context, jobID string, st store.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[jobID] = st
	return nil
}
func (f *fakeStore) Get(ctx context.Context, jobID string) (store.Status, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.statuses[jobID]
	return st, ok, nil
}

type fakeBackend struct{ payload []byte }

func (f *fakeBackend) Available() bool { return true }
func (f *fakeBackend) Compress(ctx context.Context, inPath, outPath string, p compress.Params) error {
	return os.WriteFile(outPath, f.payload, 0o644)
}

type fakeText struct{}

func (fakeText) PageText(path string, page int) (string, error) { return "text", nil }

func newTestWorker(t *testing.T, dataDir string) (*Worker, *fakeQueue, *fakeStore) {
	t.Helper()
	q := &fakeQueue{cancelled: map[string]bool{}}
	st := newFakeStore()
	compressor := compress.New(&fakeBackend{payload: []byte("smaller")})
	converter := convert.New(nil, fakeText{}, nil, 2)
	w := New(Config{Concurrency: 1, JobTimeout: time.Minute, DataDir: dataDir, ResultTTL: time.Minute},
		q, st, compressor, converter, nil)
	return w, q, st
}

func seedJob(t *testing.T, dataDir, jobID string) {
	t.Helper()
	ws, err := workspace.NewWithID(dataDir, jobID)
	require.NoError(t, err)
	_, err = ws.WriteFile("input.pdf", pdftest.Bytes(pdftest.Doc{Pages: 2}))
	require.NoError(t, err)
}

func TestExecuteCompress(t *testing.T) {
	dataDir := t.TempDir()
	w, _, _ := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-c")

	results, err := w.execute(context.Background(), Task{JobID: "job-c", Op: OpCompress, Input: "input.pdf", Quality: "low"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, compress.OutputName, results[0].Name)
	assert.Equal(t, int64(len("smaller")), results[0].Size)
	assert.FileExists(t, results[0].Path)
}

func TestExecuteText(t *testing.T) {
	dataDir := t.TempDir()
	w, _, _ := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-t")

	results, err := w.execute(context.Background(), Task{JobID: "job-t", Op: OpText, Input: "input.pdf"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "extracted.txt", results[0].Name)

	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	assert.Equal(t, "text\n\ntext", string(data))
}

func TestExecuteBadQuality(t *testing.T) {
	dataDir := t.TempDir()
	w, _, _ := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-q")

	_, err := w.execute(context.Background(), Task{JobID: "job-q", Op: OpCompress, Input: "input.pdf", Quality: "ultra"})
	var bad *compress.UnsupportedQualityError
	require.ErrorAs(t, err, &bad)
}

func TestExecuteMissingWorkspace(t *testing.T) {
	w, _, _ := newTestWorker(t, t.TempDir())

	_, err := w.execute(context.Background(), Task{JobID: "ghost", Op: OpText, Input: "input.pdf"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestHandleSuccessLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	w, q, st := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-ok")

	task := Task{JobID: "job-ok", Op: OpText, Input: "input.pdf"}
	w.handle(0, "msg-1", nil, task)

	status, found, err := st.Get(context.Background(), "job-ok")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StateSuccess, status.State)
	assert.Equal(t, 100, status.Progress)
	require.Len(t, status.Results, 1)

	assert.Equal(t, []string{"msg-1"}, q.acked)
	assert.Equal(t, 1, q.delayed) // cleanup scheduled
}

func TestHandleFailureLifecycle(t *testing.T) {
	dataDir := t.TempDir()
	w, q, st := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-bad")

	task := Task{JobID: "job-bad", Op: "mystery", Input: "input.pdf"}
	w.handle(0, "msg-2", []byte("{}"), task)

	status, found, err := st.Get(context.Background(), "job-bad")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, store.StateFailed, status.State)
	assert.NotEmpty(t, status.Error)
	assert.Len(t, q.dlq, 1)
}

func TestHandleCancelledBeforeProcessing(t *testing.T) {
	dataDir := t.TempDir()
	w, q, st := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-x")
	q.cancelled["job-x"] = true

	w.handle(0, "msg-3", nil, Task{JobID: "job-x", Op: OpText, Input: "input.pdf"})

	status, _, err := st.Get(context.Background(), "job-x")
	require.NoError(t, err)
	assert.Equal(t, store.StateCancelled, status.State)
}

func TestHandleCleanup(t *testing.T) {
	dataDir := t.TempDir()
	w, _, _ := newTestWorker(t, dataDir)
	seedJob(t, dataDir, "job-gone")

	ws, ok := workspace.Attach(dataDir, "job-gone")
	require.True(t, ok)

	w.handle(0, "msg-4", nil, Task{JobID: "job-gone", Op: OpCleanup})

	_, err := os.Stat(ws.Dir())
	assert.True(t, os.IsNotExist(err))
}
