package worker

import (
	"context"
	"errors"
)

var (
	ErrPoolClosed = errors.New("sync pool closed")
	ErrPoolBusy   = errors.New("sync queue full")
)

// Job is one background remote call. Jobs sharing a SessionID run in
// submission order, one at a time.
type Job struct {
	Name      string
	SessionID string
	Run       func(ctx context.Context) error

	stop bool
}

func stopJob() Job {
	return Job{stop: true}
}
