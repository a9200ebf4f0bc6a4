// Package worker runs queued transformation jobs. Each worker
// goroutine blocks on the Redis stream, executes one job under the
// configured timeout and records status transitions in the store.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/compress"
	"github.com/local/pdftoolbox/internal/convert"
	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/extproc"
	"github.com/local/pdftoolbox/internal/metrics"
	"github.com/local/pdftoolbox/internal/storage"
	"github.com/local/pdftoolbox/internal/store"
	"github.com/local/pdftoolbox/internal/workspace"
)

// Operations carried on the queue.
const (
	OpCompress = "compress"
	OpImages   = "images"
	OpText     = "text"
	OpDocument = "document"
	OpCleanup  = "cleanup"
)

// Task is the queue payload for one job.
type Task struct {
	JobID     string `json:"job_id"`
	Op        string `json:"op"`
	Input     string `json:"input"`                // file name inside the job workspace
	SourceKey string `json:"source_key,omitempty"` // s3 object key when the source is remote
	Quality   string `json:"quality,omitempty"`
	Format    string `json:"format,omitempty"`
	DPI       int    `json:"dpi,omitempty"`
	Password  string `json:"password,omitempty"` // artifact encryption password for S3 uploads
}

// Queue is the subset of the job queue the workers need.
type Queue interface {
	Dequeue(ctx context.Context, consumer string, timeout time.Duration) (string, []byte, error)
	Ack(ctx context.Context, msgID string) error
	AddDLQ(ctx context.Context, payload []byte, reason string) error
	EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
	IsCancelled(ctx context.Context, jobID string) (bool, error)
}

// StatusStore persists job state transitions.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

// Config tunes the pool.
type Config struct {
	Concurrency int
	JobTimeout  time.Duration
	DataDir     string
	ResultTTL   time.Duration
}

// Worker is the pool of job executors.
type Worker struct {
	cfg        Config
	q          Queue
	st         StatusStore
	compressor *compress.Compressor
	converter  *convert.Converter
	artifacts  *storage.Store // nil when S3 is not configured
	stop       chan struct{}
}

// New builds the pool. artifacts may be nil; results then stay on
// local disk inside the job workspace.
func New(cfg Config, q Queue, st StatusStore, c *compress.Compressor, conv *convert.Converter, artifacts *storage.Store) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &Worker{cfg: cfg, q: q, st: st, compressor: c, converter: conv, artifacts: artifacts, stop: make(chan struct{})}
}

// Start launches the worker goroutines.
func (w *Worker) Start() {
	for i := 0; i < w.cfg.Concurrency; i++ {
		go w.loop(i)
	}
}

// Stop signals all workers to exit after their current job.
func (w *Worker) Stop(ctx context.Context) error {
	close(w.stop)
	return nil
}

func (w *Worker) loop(id int) {
	consumer := fmt.Sprintf("worker-%d", id)
	log.Info().Int("worker", id).Msg("job worker started")
	for {
		select {
		case <-w.stop:
			log.Info().Int("worker", id).Msg("job worker stopped")
			return
		default:
		}

		msgID, data, err := w.q.Dequeue(context.Background(), consumer, 2*time.Second)
		if err != nil {
			log.Error().Err(err).Msg("queue dequeue error")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if data == nil {
			continue
		}

		var task Task
		if err := json.Unmarshal(data, &task); err != nil {
			log.Error().Err(err).Str("msg_id", msgID).Msg("malformed task payload")
			_ = w.q.AddDLQ(context.Background(), data, "unmarshal: "+err.Error())
			_ = w.q.Ack(context.Background(), msgID)
			continue
		}

		w.handle(id, msgID, data, task)
	}
}

func (w *Worker) handle(id int, msgID string, raw []byte, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobTimeout)
	defer cancel()
	defer func() { _ = w.q.Ack(context.Background(), msgID) }()

	if task.Op == OpCleanup {
		w.cleanup(task.JobID)
		return
	}

	if cancelled, _ := w.q.IsCancelled(ctx, task.JobID); cancelled {
		log.Warn().Int("worker", id).Str("job_id", task.JobID).Msg("job cancelled before processing, skipping")
		w.setState(task, store.StateCancelled, "cancelled before processing", nil, nil)
		return
	}

	start := time.Now()
	w.setState(task, store.StateProcessing, "processing", &start, nil)

	results, err := w.execute(ctx, task)
	end := time.Now()
	if err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Str("op", task.Op).Msg("job failed")
		metrics.ObserveOp(task.Op, "error", end.Sub(start))
		recordBackendFailure(err)
		_ = w.q.AddDLQ(context.Background(), raw, err.Error())
		st := store.Status{State: store.StateFailed, Op: task.Op, Message: "failed", Error: err.Error(), Start: &start, End: &end}
		_ = w.st.Set(context.Background(), task.JobID, st)
		w.scheduleCleanup(task.JobID)
		return
	}

	metrics.ObserveOp(task.Op, "success", end.Sub(start))
	st := store.Status{State: store.StateSuccess, Op: task.Op, Progress: 100, Message: "done", Start: &start, End: &end, Results: results}
	if err := w.st.Set(context.Background(), task.JobID, st); err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Msg("status update failed")
	}
	log.Info().Str("job_id", task.JobID).Str("op", task.Op).Dur("elapsed", end.Sub(start)).Int("results", len(results)).Msg("job done")
	w.scheduleCleanup(task.JobID)
}

// execute runs one operation inside the job's workspace and returns
// the produced artifacts.
func (w *Worker) execute(ctx context.Context, task Task) ([]store.Result, error) {
	ws, ok := workspace.Attach(w.cfg.DataDir, task.JobID)
	if !ok {
		return nil, fmt.Errorf("workspace for job %s not found", task.JobID)
	}

	inPath := ws.Path(task.Input)
	if task.SourceKey != "" {
		if w.artifacts == nil {
			return nil, errors.New("task references an s3 source but storage is not configured")
		}
		data, err := w.artifacts.Download(ctx, task.SourceKey, task.Password)
		if err != nil {
			return nil, fmt.Errorf("fetch source %s: %w", task.SourceKey, err)
		}
		if inPath, err = ws.WriteFile(task.Input, data); err != nil {
			return nil, err
		}
	}

	h, err := document.Open(inPath)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	switch task.Op {
	case OpCompress:
		q, err := compress.ParseQuality(task.Quality)
		if err != nil {
			return nil, err
		}
		out, err := w.compressor.Compress(ctx, ws, h, q)
		if err != nil {
			return nil, err
		}
		metrics.AddPages(task.Op, h.PageCount)
		metrics.ObserveOutput(task.Op, out.Size)
		return w.publish(ctx, task, []store.Result{{Name: out.Name, Path: out.Path, Size: out.Size}})

	case OpImages:
		f, err := convert.ParseFormat(task.Format)
		if err != nil {
			return nil, err
		}
		imgs, err := w.converter.Images(ctx, h, f, task.DPI)
		if err != nil {
			return nil, err
		}
		results := make([]store.Result, 0, len(imgs))
		for _, img := range imgs {
			p, err := ws.WriteFile(img.Name, img.Data)
			if err != nil {
				return nil, err
			}
			results = append(results, store.Result{Name: img.Name, Path: p, Size: int64(len(img.Data))})
		}
		metrics.AddPages(task.Op, len(imgs))
		return w.publish(ctx, task, results)

	case OpText:
		text, err := w.converter.Text(ctx, h)
		if err != nil {
			return nil, err
		}
		name := "extracted.txt"
		p, err := ws.WriteFile(name, []byte(text))
		if err != nil {
			return nil, err
		}
		metrics.AddPages(task.Op, h.PageCount)
		return w.publish(ctx, task, []store.Result{{Name: name, Path: p, Size: int64(len(text))}})

	case OpDocument:
		data, name, err := w.converter.Document(ctx, ws, h)
		if err != nil {
			return nil, err
		}
		p := ws.Path(name)
		metrics.AddPages(task.Op, h.PageCount)
		metrics.ObserveOutput(task.Op, int64(len(data)))
		return w.publish(ctx, task, []store.Result{{Name: name, Path: p, Size: int64(len(data))}})

	default:
		return nil, fmt.Errorf("unknown operation %q", task.Op)
	}
}

// publish uploads artifacts to S3 when configured, recording object
// keys next to the local paths.
func (w *Worker) publish(ctx context.Context, task Task, results []store.Result) ([]store.Result, error) {
	if w.artifacts == nil {
		return results, nil
	}
	for i := range results {
		key := fmt.Sprintf("jobs/%s/%s", task.JobID, results[i].Name)
		if err := w.artifacts.UploadFile(ctx, key, results[i].Path, task.Password); err != nil {
			return nil, fmt.Errorf("upload %s: %w", results[i].Name, err)
		}
		results[i].Key = key
	}
	return results, nil
}

func (w *Worker) setState(task Task, state, msg string, start, end *time.Time) {
	st := store.Status{State: state, Op: task.Op, Message: msg, Start: start, End: end}
	if err := w.st.Set(context.Background(), task.JobID, st); err != nil {
		log.Error().Err(err).Str("job_id", task.JobID).Msg("status update failed")
	}
}

// scheduleCleanup enqueues a delayed task that removes the job
// workspace once its results are past the retention window.
func (w *Worker) scheduleCleanup(jobID string) {
	payload, _ := json.Marshal(Task{JobID: jobID, Op: OpCleanup})
	if err := w.q.EnqueueDelayed(context.Background(), payload, time.Now().Add(w.cfg.ResultTTL)); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to schedule workspace cleanup")
	}
}

// recordBackendFailure counts failures caused by an external tool.
func recordBackendFailure(err error) {
	var unavailable *extproc.UnavailableError
	var timeout *extproc.TimeoutError
	var exit *extproc.ExitError
	switch {
	case errors.As(err, &unavailable):
		metrics.IncBackendFailure(unavailable.Tool, "unavailable")
	case errors.As(err, &timeout):
		metrics.IncBackendFailure(timeout.Tool, "timeout")
	case errors.As(err, &exit):
		metrics.IncBackendFailure(exit.Tool, "exit")
	}
}

func (w *Worker) cleanup(jobID string) {
	ws, ok := workspace.Attach(w.cfg.DataDir, jobID)
	if !ok {
		return
	}
	ws.Cleanup()
	log.Info().Str("job_id", jobID).Msg("workspace cleaned up")
}
