package chatstore

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"dehqonjon/internal/remote"
	"dehqonjon/internal/worker"
)

// submit queues a remote call on the runner. Its error, and a rejected
// submission, both end up in discard.
func (s *Store) submit(op, sessionID string, run func(ctx context.Context) error) {
	err := s.runner.Submit(worker.Job{
		Name:      op,
		SessionID: sessionID,
		Run: func(ctx context.Context) error {
			err := run(ctx)
			if err != nil {
				s.discard(op, sessionID, err)
			}
			return err
		},
	})
	if err != nil {
		s.discard(op, sessionID, err)
	}
}

// discard is the single place remote sync errors stop: logged, never returned.
func (s *Store) discard(op, sessionID string, err error) {
	kind := string(remote.KindOf(err))
	if errors.Is(err, worker.ErrPoolClosed) || errors.Is(err, worker.ErrPoolBusy) {
		kind = "skipped"
	}
	s.log.WithFields(logrus.Fields{
		"op":         op,
		"session_id": sessionID,
		"kind":       kind,
	}).WithError(err).Warn("remote sync failed, keeping local state")
}
