// Package store persists async job status and result references in Redis.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Job states.
const (
	StateQueued     = "queued"
	StateProcessing = "processing"
	StateSuccess    = "success"
	StateFailed     = "failed"
	StateCancelled  = "cancelled"
)

// Result references one produced artifact of a finished job.
type Result struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"` // object key when uploaded to S3
	Size int64  `json:"size"`
}

// Status is the persisted view of one job.
type Status struct {
	State    string     `json:"state"`
	Op       string     `json:"op"`
	Progress int        `json:"progress"`
	Message  string     `json:"message"`
	Error    string     `json:"error,omitempty"`
	Start    *time.Time `json:"start_time,omitempty"`
	End      *time.Time `json:"end_time,omitempty"`
	Results  []Result   `json:"results,omitempty"`
}

// RedisStatus stores job status hashes with a bounded lifetime.
type RedisStatus struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStatus connects to Redis. Entries expire after ttl (7 days
// when zero) so abandoned jobs do not accumulate.
func NewRedisStatus(redisURL string, ttl time.Duration) (*RedisStatus, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	c := redis.NewClient(opt)
	if err := c.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStatus{client: c, ttl: ttl}, nil
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("pdfjob:%s:status", jobID) }

// Set writes the full status for a job.
func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
	m := map[string]interface{}{
		"state":    st.State,
		"op":       st.Op,
		"progress": st.Progress,
		"message":  st.Message,
		"error":    st.Error,
	}
	if st.Start != nil {
		m["start"] = st.Start.Format(time.RFC3339Nano)
	}
	if st.End != nil {
		m["end"] = st.End.Format(time.RFC3339Nano)
	}
	if st.Results != nil {
		b, err := json.Marshal(st.Results)
		if err != nil {
			return fmt.Errorf("marshal results: %w", err)
		}
		m["results"] = string(b)
	}
	k := s.key(jobID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, m)
	pipe.Expire(ctx, k, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Get reads a job's status. The bool is false when the job is unknown.
func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
	res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
	if err != nil {
		return Status{}, false, err
	}
	if len(res) == 0 {
		return Status{}, false, nil
	}
	st := Status{
		State:   res["state"],
		Op:      res["op"],
		Message: res["message"],
		Error:   res["error"],
	}
	if p := res["progress"]; p != "" {
		fmt.Sscan(p, &st.Progress)
	}
	if v := res["start"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.Start = &t
		}
	}
	if v := res["end"]; v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			st.End = &t
		}
	}
	if v := res["results"]; v != "" {
		_ = json.Unmarshal([]byte(v), &st.Results)
	}
	return st, true, nil
}

func (s *RedisStatus) Close() error { return s.client.Close() }
