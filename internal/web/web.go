// Package web exposes the JSON HTTP API. Merge, split, estimate and
// info run synchronously; compress and the conversions are queued and
// polled through the jobs endpoints.
package web

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/pdftoolbox/internal/compress"
	"github.com/local/pdftoolbox/internal/config"
	"github.com/local/pdftoolbox/internal/convert"
	"github.com/local/pdftoolbox/internal/document"
	"github.com/local/pdftoolbox/internal/extproc"
	"github.com/local/pdftoolbox/internal/filetype"
	"github.com/local/pdftoolbox/internal/merge"
	"github.com/local/pdftoolbox/internal/metrics"
	"github.com/local/pdftoolbox/internal/selection"
	"github.com/local/pdftoolbox/internal/split"
	"github.com/local/pdftoolbox/internal/storage"
	"github.com/local/pdftoolbox/internal/store"
	"github.com/local/pdftoolbox/internal/worker"
	"github.com/local/pdftoolbox/internal/workspace"
)

// Queue is the slice of the job queue the API needs.
type Queue interface {
	Enqueue(ctx context.Context, payload []byte) error
	CancelJob(ctx context.Context, jobID string) error
}

// StatusStore reads and writes job status records.
type StatusStore interface {
	Set(ctx context.Context, jobID string, st store.Status) error
	Get(ctx context.Context, jobID string) (store.Status, bool, error)
}

// Server wires the HTTP handlers to the engines and the job queue.
type Server struct {
	cfg       config.Config
	q         Queue
	st        StatusStore
	artifacts *storage.Store // nil when S3 is not configured
}

// New builds the API server.
func New(cfg config.Config, q Queue, st StatusStore, artifacts *storage.Store) *Server {
	return &Server{cfg: cfg, q: q, st: st, artifacts: artifacts}
}

// RegisterRoutes attaches all API handlers to mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/merge", s.handleMerge)
	mux.HandleFunc("/api/v1/split", s.handleSplit)
	mux.HandleFunc("/api/v1/compress", s.opHandler(worker.OpCompress))
	mux.HandleFunc("/api/v1/convert/images", s.opHandler(worker.OpImages))
	mux.HandleFunc("/api/v1/convert/text", s.opHandler(worker.OpText))
	mux.HandleFunc("/api/v1/convert/document", s.opHandler(worker.OpDocument))
	mux.HandleFunc("/api/v1/estimate", s.handleEstimate)
	mux.HandleFunc("/api/v1/info", s.handleInfo)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobs)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// statusFor maps the engine error taxonomy onto HTTP status codes.
// Bad input is 400, documents that parse but fail validation are 422,
// and external tool failures surface as gateway errors.
func statusFor(err error) int {
	var malformed *selection.MalformedSelectionError
	var badQuality *compress.UnsupportedQualityError
	var badFormat *convert.UnsupportedFormatError
	var badChunk *split.InvalidChunkSizeError
	switch {
	case errors.As(err, &malformed), errors.As(err, &badQuality),
		errors.As(err, &badFormat), errors.As(err, &badChunk),
		errors.Is(err, document.ErrUnreadable):
		return http.StatusBadRequest
	}

	var outOfRange *split.OutOfRangeError
	var badRange *split.InvalidRangeError
	var badSpan *split.BookmarkSpanError
	var encrypted *merge.EncryptedInputError
	switch {
	case errors.As(err, &outOfRange), errors.As(err, &badRange),
		errors.As(err, &badSpan), errors.As(err, &encrypted),
		errors.Is(err, split.ErrNoBookmarks),
		errors.Is(err, merge.ErrInsufficientInputs),
		errors.Is(err, document.ErrLocked):
		return http.StatusUnprocessableEntity
	}

	var unavailable *extproc.UnavailableError
	var exit *extproc.ExitError
	var timeout *extproc.TimeoutError
	switch {
	case errors.As(err, &unavailable), errors.As(err, &exit):
		return http.StatusBadGateway
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// readUpload pulls one PDF out of a multipart form field, enforcing
// the upload size limit and rejecting non-PDF payloads.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadMB << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form: " + err.Error()})
		return nil, "", false
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("missing %q file field", field)})
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + err.Error()})
		return nil, "", false
	}
	if !filetype.IsPDF(data) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("%s is not a PDF", hdr.Filename)})
		return nil, "", false
	}
	return data, hdr.Filename, true
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadMB<<20)
	if err := r.ParseMultipartForm(s.cfg.Server.MaxUploadMB << 20); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid multipart form: " + err.Error()})
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) < 2 {
		writeErr(w, merge.ErrInsufficientInputs)
		return
	}

	ws, err := workspace.New(s.cfg.Paths.DataDir)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer ws.Cleanup()

	handles := make([]*document.Handle, 0, len(files))
	defer func() {
		for _, h := range handles {
			h.Close()
		}
	}()
	for _, hdr := range files {
		f, err := hdr.Open()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + err.Error()})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "read upload: " + err.Error()})
			return
		}
		if !filetype.IsPDF(data) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("%s is not a PDF", hdr.Filename)})
			return
		}
		h, err := document.OpenBytes(data)
		if err != nil {
			writeErr(w, err)
			return
		}
		handles = append(handles, h)
	}

	out, err := merge.Merge(ws, handles)
	if err != nil {
		metrics.ObserveOp("merge", "error", time.Since(start))
		writeErr(w, err)
		return
	}
	defer out.Close()
	metrics.ObserveOp("merge", "success", time.Since(start))
	metrics.AddPages("merge", out.PageCount)
	metrics.ObserveOutput("merge", out.FileSize)
	serveFile(w, out.Path, merge.OutputName, "application/pdf")
}

func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	start := time.Now()
	data, _, ok := s.readUpload(w, r, "file")
	if !ok {
		return
	}

	ws, err := workspace.New(s.cfg.Paths.DataDir)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer ws.Cleanup()

	h, err := document.OpenBytes(data)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer h.Close()

	var outputs []split.Output
	mode := r.FormValue("mode")
	switch mode {
	case "pages":
		pages, perr := selection.ParsePageList(r.FormValue("pages"))
		if perr == nil {
			outputs, err = split.ByPages(ws, h, pages)
		} else {
			err = perr
		}
	case "range":
		ranges, perr := selection.ParseRangeList(r.FormValue("ranges"))
		if perr == nil {
			outputs, err = split.ByRanges(ws, h, ranges)
		} else {
			err = perr
		}
	case "chunks":
		size := 0
		if v := r.FormValue("chunk_size"); v != "" {
			size, _ = strconv.Atoi(v)
		}
		outputs, err = split.ByChunks(ws, h, size)
	case "bookmarks":
		outputs, err = split.ByBookmarks(ws, h)
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: fmt.Sprintf("unknown split mode %q", mode)})
		return
	}
	if err != nil {
		metrics.ObserveOp("split", "error", time.Since(start))
		writeErr(w, err)
		return
	}

	metrics.ObserveOp("split", "success", time.Since(start))
	metrics.AddPages("split", h.PageCount)
	if len(outputs) == 1 {
		serveFile(w, outputs[0].Path, outputs[0].Name, "application/pdf")
		return
	}
	serveZip(w, "split.zip", outputs)
}

// opHandler accepts an upload, parks it in a job workspace and queues
// the operation. The client polls /api/v1/jobs/{id}.
func (s *Server) opHandler(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		data, _, ok := s.readUpload(w, r, "file")
		if !ok {
			return
		}

		task := worker.Task{JobID: uuid.NewString(), Op: op, Input: "input.pdf", Password: r.FormValue("password")}
		switch op {
		case worker.OpCompress:
			q, err := compress.ParseQuality(r.FormValue("quality"))
			if err != nil {
				writeErr(w, err)
				return
			}
			task.Quality = string(q)
		case worker.OpImages:
			f, err := convert.ParseFormat(r.FormValue("format"))
			if err != nil {
				writeErr(w, err)
				return
			}
			task.Format = string(f)
			if v := r.FormValue("dpi"); v != "" {
				task.DPI, _ = strconv.Atoi(v)
			}
		}

		ws, err := workspace.NewWithID(s.cfg.Paths.DataDir, task.JobID)
		if err != nil {
			writeErr(w, err)
			return
		}
		if _, err := ws.WriteFile(task.Input, data); err != nil {
			ws.Cleanup()
			writeErr(w, err)
			return
		}

		ctx := r.Context()
		if err := s.st.Set(ctx, task.JobID, store.Status{State: store.StateQueued, Op: op, Message: "queued"}); err != nil {
			ws.Cleanup()
			writeErr(w, err)
			return
		}
		payload, _ := json.Marshal(task)
		if err := s.q.Enqueue(ctx, payload); err != nil {
			ws.Cleanup()
			writeErr(w, err)
			return
		}

		log.Info().Str("job_id", task.JobID).Str("op", op).Int("bytes", len(data)).Msg("job queued")
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id":     task.JobID,
			"status_url": "/api/v1/jobs/" + task.JobID,
		})
	}
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, _, ok := s.readUpload(w, r, "file")
	if !ok {
		return
	}
	h, err := document.OpenBytes(data)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer h.Close()
	writeJSON(w, http.StatusOK, compress.EstimateSizes(h.FileSize))
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	data, name, ok := s.readUpload(w, r, "file")
	if !ok {
		return
	}
	h, err := document.OpenBytes(data)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer h.Close()

	writeJSON(w, http.StatusOK, map[string]any{
		"filename":  name,
		"pages":     h.PageCount,
		"size":      h.FileSize,
		"encrypted": h.Encrypted,
		"bookmarks": h.Outline,
		"metadata":  convert.Metadata(h.Path),
	})
}

// handleJobs serves /api/v1/jobs/{id}, {id}/download and {id}/cancel.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	parts := strings.SplitN(rest, "/", 2)
	jobID := parts[0]
	if jobID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}
	switch action {
	case "":
		s.jobStatus(w, r, jobID)
	case "download":
		s.jobDownload(w, r, jobID)
	case "cancel":
		s.jobCancel(w, r, jobID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	st, found, err := s.st.Get(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) jobDownload(w http.ResponseWriter, r *http.Request, jobID string) {
	st, found, err := s.st.Get(r.Context(), jobID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "job not found"})
		return
	}
	if st.State != store.StateSuccess || len(st.Results) == 0 {
		writeJSON(w, http.StatusConflict, errorBody{Error: "job has no downloadable results (state: " + st.State + ")"})
		return
	}

	// ?name= selects one artifact from a multi-result job.
	if name := r.URL.Query().Get("name"); name != "" {
		for _, res := range st.Results {
			if res.Name == name {
				s.serveResult(w, r, res)
				return
			}
		}
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no result named " + name})
		return
	}
	if len(st.Results) == 1 {
		s.serveResult(w, r, st.Results[0])
		return
	}
	s.serveResultsZip(w, r, jobID, st.Results)
}

func (s *Server) jobCancel(w http.ResponseWriter, r *http.Request, jobID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := s.q.CancelJob(r.Context(), jobID); err != nil {
		writeErr(w, err)
		return
	}
	log.Info().Str("job_id", jobID).Msg("job cancellation requested")
	writeJSON(w, http.StatusOK, map[string]string{"job_id": jobID, "status": "cancellation requested"})
}

// serveResult streams one artifact, falling back to S3 when the local
// copy is already cleaned up.
func (s *Server) serveResult(w http.ResponseWriter, r *http.Request, res store.Result) {
	if res.Path != "" {
		if _, err := os.Stat(res.Path); err == nil {
			serveFile(w, res.Path, res.Name, contentTypeFor(res.Name))
			return
		}
	}
	if s.artifacts != nil && res.Key != "" {
		data, err := s.artifacts.Download(r.Context(), res.Key, r.URL.Query().Get("password"))
		if err != nil {
			writeErr(w, err)
			return
		}
		w.Header().Set("Content-Type", contentTypeFor(res.Name))
		w.Header().Set("Content-Disposition", `attachment; filename="`+res.Name+`"`)
		_, _ = w.Write(data)
		return
	}
	writeJSON(w, http.StatusGone, errorBody{Error: "result expired"})
}

func (s *Server) serveResultsZip(w http.ResponseWriter, r *http.Request, jobID string, results []store.Result) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.zip"`)
	zw := zip.NewWriter(w)
	for _, res := range results {
		data, err := s.resultBytes(r.Context(), res)
		if err != nil {
			log.Error().Err(err).Str("name", res.Name).Msg("skipping artifact in zip")
			continue
		}
		f, err := zw.Create(res.Name)
		if err != nil {
			break
		}
		if _, err := f.Write(data); err != nil {
			break
		}
	}
	_ = zw.Close()
}

func (s *Server) resultBytes(ctx context.Context, res store.Result) ([]byte, error) {
	if res.Path != "" {
		if data, err := os.ReadFile(res.Path); err == nil {
			return data, nil
		}
	}
	if s.artifacts != nil && res.Key != "" {
		return s.artifacts.Download(ctx, res.Key, "")
	}
	return nil, errors.New("result expired")
}

func serveFile(w http.ResponseWriter, path, name, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	_, _ = io.Copy(w, f)
}

func serveZip(w http.ResponseWriter, name string, outputs []split.Output) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	zw := zip.NewWriter(w)
	for _, out := range outputs {
		data, err := os.ReadFile(out.Path)
		if err != nil {
			log.Error().Err(err).Str("name", out.Name).Msg("skipping output in zip")
			continue
		}
		f, err := zw.Create(out.Name)
		if err != nil {
			break
		}
		if _, err := f.Write(data); err != nil {
			break
		}
	}
	_ = zw.Close()
}

func contentTypeFor(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpeg", ".jpg":
		return "image/jpeg"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".bmp":
		return "image/bmp"
	case ".txt":
		return "text/plain; charset=utf-8"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ".zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
