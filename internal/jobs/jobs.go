// Package jobs tracks asynchronous process executions.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/opencdms/opencdms-process/internal/process"
)

type Status string

const (
	StatusAccepted   Status = "accepted"
	StatusRunning    Status = "running"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

// Done reports whether the job reached a final state.
func (s Status) Done() bool {
	return s == StatusSuccessful || s == StatusFailed
}

var ErrNotFound = errors.New("job not found")

type Job struct {
	ID        string         `json:"jobID"`
	Process   string         `json:"processID"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Created   time.Time      `json:"created"`
	Started   *time.Time     `json:"started,omitempty"`
	Finished  *time.Time     `json:"finished,omitempty"`
	MediaType string         `json:"mediaType,omitempty"`
	Outputs   map[string]any `json:"outputs,omitempty"`
	Err       *process.Error `json:"error,omitempty"`
}

// Store persists jobs by id. Get returns ErrNotFound for unknown or expired ids.
type Store interface {
	Get(ctx context.Context, id string) (Job, error)
	Put(ctx context.Context, job Job) error
	Delete(ctx context.Context, id string) error
}
