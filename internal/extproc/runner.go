// Package extproc runs external tools (Ghostscript, LibreOffice) with a
// bounded time budget and a typed error taxonomy shared by the
// compression and conversion orchestrators.
package extproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTimeout bounds a backend call when the caller does not set one.
const DefaultTimeout = 60 * time.Second

// UnavailableError means the tool binary cannot be found or started.
type UnavailableError struct {
	Tool string
	Err  error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("backend %s unavailable: %v", e.Tool, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// TimeoutError means the tool exceeded its time budget and was killed.
type TimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("backend %s timed out after %s", e.Tool, e.Timeout)
}

// ExitError means the tool ran and reported failure. Detail carries the
// tool's diagnostic output.
type ExitError struct {
	Tool   string
	Detail string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend %s failed: %s", e.Tool, e.Detail)
	}
	return fmt.Sprintf("backend %s failed: %v", e.Tool, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Runner executes one tool with a per-call timeout.
type Runner struct {
	Tool    string
	Timeout time.Duration
}

// Available reports whether the tool can be found on PATH.
func (r Runner) Available() bool {
	_, err := exec.LookPath(r.Tool)
	return err == nil
}

// Run executes the tool with args. Stdout is returned on success. On
// failure the error is one of UnavailableError, TimeoutError or
// ExitError; raw exec errors never escape.
func (r Runner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(r.Tool); err != nil {
		return nil, &UnavailableError{Tool: r.Tool, Err: err}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.Tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	dur := time.Since(start)

	log.Debug().
		Str("tool", r.Tool).
		Strs("args", args).
		Dur("duration", dur).
		Bool("ok", err == nil).
		Msg("external tool finished")

	if err == nil {
		return stdout.Bytes(), nil
	}

	// CommandContext kills the process on deadline; report that as a
	// timeout rather than the generic "signal: killed".
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &TimeoutError{Tool: r.Tool, Timeout: timeout}
	}

	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return nil, &ExitError{Tool: r.Tool, Detail: firstLines(stderr.String(), 5), Err: err}
	}
	return nil, &UnavailableError{Tool: r.Tool, Err: err}
}

// firstLines trims diagnostic output down to something log-friendly.
func firstLines(s string, n int) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}
