package asynqadp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	progressTTL = 10 * time.Minute
	resultTTL   = 60 * time.Second
)

// Progress is the live state of one task, mirrored to Redis so the HTTP
// tier can answer status polls without touching queue internals.
type Progress struct {
	Percent int       `json:"percent"`
	Note    string    `json:"note"`
	At      time.Time `json:"at"`
}

// ProgressStore mirrors task progress and terminal results into the queue
// Redis database under job-progress:{id} and job-result:{id}.
type ProgressStore struct {
	rdb *goredis.Client
}

func NewProgressStore(rdb *goredis.Client) *ProgressStore {
	return &ProgressStore{rdb: rdb}
}

// SetProgress records a percentage step. Failures are returned but callers
// treat them as advisory; a missed progress tick must not fail the task.
func (s *ProgressStore) SetProgress(ctx context.Context, taskID string, percent int, note string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b, _ := json.Marshal(Progress{Percent: percent, Note: note, At: time.Now().UTC()})
	if err := s.rdb.Set(ctx, "job-progress:"+taskID, b, progressTTL).Err(); err != nil {
		return fmt.Errorf("op=progress.set task=%s: %w", taskID, err)
	}
	return nil
}

// GetProgress returns the latest progress tick.
func (s *ProgressStore) GetProgress(ctx context.Context, taskID string) (Progress, bool, error) {
	v, err := s.rdb.Get(ctx, "job-progress:"+taskID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return Progress{}, false, nil
	}
	if err != nil {
		return Progress{}, false, fmt.Errorf("op=progress.get task=%s: %w", taskID, err)
	}
	var p Progress
	if err := json.Unmarshal(v, &p); err != nil {
		return Progress{}, false, fmt.Errorf("op=progress.get task=%s: %w", taskID, err)
	}
	return p, true, nil
}

// SetResult mirrors a task's terminal payload for one minute.
func (s *ProgressStore) SetResult(ctx context.Context, taskID string, result any) error {
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("op=result.set task=%s: %w", taskID, err)
	}
	if err := s.rdb.Set(ctx, "job-result:"+taskID, b, resultTTL).Err(); err != nil {
		return fmt.Errorf("op=result.set task=%s: %w", taskID, err)
	}
	return nil
}

// GetResult returns the mirrored terminal payload, raw.
func (s *ProgressStore) GetResult(ctx context.Context, taskID string) (json.RawMessage, bool, error) {
	v, err := s.rdb.Get(ctx, "job-result:"+taskID).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("op=result.get task=%s: %w", taskID, err)
	}
	return json.RawMessage(v), true, nil
}
