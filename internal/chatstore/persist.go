package chatstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"dehqonjon/internal/models"
	"dehqonjon/internal/storage"
)

const saveTimeout = 5 * time.Second

type snapshot struct {
	Sessions         []*models.ChatSession `json:"sessions"`
	CurrentSessionID string                `json:"currentSessionId,omitempty"`
}

// Restore loads the persisted snapshot. A missing snapshot is an empty store;
// any other storage failure is returned.
func (s *Store) Restore(ctx context.Context) error {
	raw, err := s.kv.Get(ctx, StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil
		}
		return fmt.Errorf("restore chat sessions: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode chat snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = s.sessions[:0]
	for _, se := range snap.Sessions {
		if se == nil {
			continue
		}
		if se.Messages == nil {
			se.Messages = []models.ChatMessage{}
		}
		s.sessions = append(s.sessions, se)
	}
	s.current = snap.CurrentSessionID
	s.log.WithField("sessions", len(s.sessions)).Info("chat sessions restored")
	return nil
}

type savedSnapshot struct {
	seq     uint64
	payload []byte
}

// snapshotLocked encodes the collection under s.mu. The write happens in save
// once the lock is released.
func (s *Store) snapshotLocked() savedSnapshot {
	s.seq++
	payload, err := json.Marshal(snapshot{Sessions: s.sessions, CurrentSessionID: s.current})
	if err != nil {
		s.log.WithError(err).Error("encode chat snapshot")
		return savedSnapshot{seq: s.seq}
	}
	return savedSnapshot{seq: s.seq, payload: payload}
}

// save writes snap unless a newer snapshot is already stored; last write wins.
func (s *Store) save(snap savedSnapshot) {
	if snap.payload == nil {
		return
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if snap.seq <= s.savedSeq {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := s.kv.Set(ctx, StorageKey, snap.payload); err != nil {
		s.log.WithError(err).Error("save chat snapshot")
		return
	}
	s.savedSeq = snap.seq
}
