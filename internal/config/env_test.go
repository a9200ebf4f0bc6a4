package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(128), cfg.Server.MaxUploadMB)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 5*time.Minute, cfg.Worker.JobTimeout)
	assert.Equal(t, "gs", cfg.Backends.GhostscriptBin)
	assert.Equal(t, "libreoffice", cfg.Backends.LibreOfficeBin)
	assert.Equal(t, "jobs:pdf:tasks", cfg.Queue.Stream)
	assert.Equal(t, "workers:toolbox", cfg.Queue.Group)
	assert.Equal(t, "data", cfg.Paths.DataDir)
	assert.Equal(t, time.Hour, cfg.Paths.ResultTTL)
	assert.Empty(t, cfg.Storage.Bucket)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("JOB_TIMEOUT", "90s")
	t.Setenv("GHOSTSCRIPT_BIN", "/opt/gs/bin/gs")
	t.Setenv("RESULT_TTL", "30m")
	t.Setenv("RESULTS_BUCKET", "pdf-results")

	cfg := FromEnv()

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Worker.JobTimeout)
	assert.Equal(t, "/opt/gs/bin/gs", cfg.Backends.GhostscriptBin)
	assert.Equal(t, 30*time.Minute, cfg.Paths.ResultTTL)
	assert.Equal(t, "pdf-results", cfg.Storage.Bucket)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 7, parseInt("7", 1))
	assert.Equal(t, 1, parseInt("x", 1))
	assert.Equal(t, 1, parseInt("", 1))

	assert.True(t, parseBool("1"))
	assert.True(t, parseBool("TRUE"))
	assert.True(t, parseBool(" yes "))
	assert.False(t, parseBool("0"))
	assert.False(t, parseBool(""))

	assert.Equal(t, 2*time.Second, parseDuration("2s", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("bogus", time.Minute))
}
