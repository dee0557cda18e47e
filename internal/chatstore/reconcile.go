package chatstore

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/models"
)

// reconcile applies the outcome of a remote create for tempID and returns the
// id the caller should use from now on.
func (s *Store) reconcile(tempID string, created *models.RemoteSession, createErr error, creds auth.Credentials) string {
	s.mu.Lock()
	deleted := s.pending[tempID]
	delete(s.pending, tempID)

	if createErr != nil || created == nil || created.ID == "" {
		// keep working locally under the temp id
		s.settleLocked(tempID)
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.save(snap)
		return tempID
	}

	serverID := created.ID
	if deleted {
		s.mu.Unlock()
		s.log.WithFields(logrus.Fields{
			"temp_id":   tempID,
			"server_id": serverID,
		}).Info("session deleted before remote create finished, removing remote copy")
		s.submit("delete_session", serverID, func(ctx context.Context) error {
			return s.remote.DeleteSession(ctx, creds, serverID)
		})
		return tempID
	}

	if !s.promoteLocked(tempID, serverID) {
		s.mu.Unlock()
		// replaced by a full refresh in the meantime
		s.log.WithFields(logrus.Fields{
			"temp_id":   tempID,
			"server_id": serverID,
		}).Info("temporary session gone before remote create finished")
		if _, ok := s.Session(serverID); ok {
			return serverID
		}
		return tempID
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
	s.log.WithFields(logrus.Fields{
		"temp_id":   tempID,
		"server_id": serverID,
	}).Debug("session promoted to server id")
	return serverID
}

// promoteLocked swaps the temp id for the server id keeping list position,
// messages and selection.
func (s *Store) promoteLocked(tempID, serverID string) bool {
	idx := s.indexLocked(tempID)
	if idx < 0 {
		return false
	}
	session := s.sessions[idx]
	session.ID = serverID
	session.Synced = true
	if s.current == tempID {
		s.current = serverID
	}
	return true
}

// settleLocked marks a session synced without a server id. Later appends are
// attempted against the temp id and fail as not_found.
func (s *Store) settleLocked(tempID string) {
	if idx := s.indexLocked(tempID); idx >= 0 {
		s.sessions[idx].Synced = true
	}
}

// fromRemote maps the backend list into local sessions, newest first.
func fromRemote(remote []models.RemoteSession) []*models.ChatSession {
	out := make([]*models.ChatSession, 0, len(remote))
	for _, rs := range remote {
		local := rs.Local()
		out = append(out, &local)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
