package chatstore

import (
	"context"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dehqonjon/internal/auth"
	"dehqonjon/internal/models"
	"dehqonjon/internal/remote"
	"dehqonjon/internal/storage"
	"dehqonjon/internal/worker"
)

const (
	// StorageKey names the persisted snapshot in the KV store.
	StorageKey = "dehqonjon-chat-storage"

	titleRunes  = 30
	titleSuffix = "..."

	defaultPlaceholder = "Yangi chat"
)

// RemoteSync is the backend the store mirrors sessions to. remote.Client
// implements it over HTTP.
type RemoteSync interface {
	CreateSession(ctx context.Context, creds auth.Credentials, title string) (*models.RemoteSession, error)
	ListSessions(ctx context.Context, creds auth.Credentials) ([]models.RemoteSession, error)
	GetSession(ctx context.Context, creds auth.Credentials, sessionID string) (*models.RemoteSession, error)
	AppendMessage(ctx context.Context, creds auth.Credentials, sessionID string, msg models.ChatMessage) error
	DeleteSession(ctx context.Context, creds auth.Credentials, sessionID string) error
}

// Runner executes fire-and-forget remote calls. worker.Dispatcher implements it.
type Runner interface {
	Submit(job worker.Job) error
	Close()
}

// Options wires the store's collaborators. KV, Remote and Runner are required.
type Options struct {
	KV          storage.KV
	Remote      RemoteSync
	Runner      Runner
	Logger      logrus.FieldLogger
	Now         func() time.Time
	NewID       func() string
	Placeholder string
}

// Store is the local-first chat session collection. Local state is the
// source of truth; remote failures are logged and never returned.
type Store struct {
	mu       sync.RWMutex
	sessions []*models.ChatSession // newest first
	current  string
	// temp ids with a remote create in flight; true once deleted locally
	pending map[string]bool
	closed  bool
	seq     uint64 // bumped for every snapshot taken

	saveMu   sync.Mutex
	savedSeq uint64

	kv          storage.KV
	remote      RemoteSync
	runner      Runner
	log         logrus.FieldLogger
	now         func() time.Time
	newID       func() string
	placeholder string
}

func New(opts Options) *Store {
	s := &Store{
		pending:     make(map[string]bool),
		kv:          opts.KV,
		remote:      opts.Remote,
		runner:      opts.Runner,
		log:         opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		placeholder: opts.Placeholder,
	}
	if s.log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		s.log = l
	}
	s.log = s.log.WithField("component", "chatstore")
	if s.now == nil {
		s.now = time.Now
	}
	if s.newID == nil {
		s.newID = newTimeOrderedID
	}
	if s.placeholder == "" {
		s.placeholder = defaultPlaceholder
	}
	return s
}

func newTimeOrderedID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// CreateSession prepends an empty session, selects it and returns its id.
// With credentials the remote create is awaited; on success the session is
// promoted to the server id in place.
func (s *Store) CreateSession(ctx context.Context, creds auth.Credentials) string {
	tempID := s.newID()
	now := s.now()
	withRemote := creds.Present()

	s.mu.Lock()
	session := &models.ChatSession{
		ID:        tempID,
		Title:     s.placeholder,
		Messages:  []models.ChatMessage{},
		CreatedAt: now,
		UpdatedAt: now,
		Synced:    !withRemote,
	}
	s.sessions = append([]*models.ChatSession{session}, s.sessions...)
	s.current = tempID
	closed := s.closed
	if withRemote && !closed {
		s.pending[tempID] = false
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)

	if !withRemote {
		return tempID
	}
	if closed {
		s.mu.Lock()
		s.settleLocked(tempID)
		s.mu.Unlock()
		s.discard("create_session", tempID, worker.ErrPoolClosed)
		return tempID
	}

	created, err := s.remote.CreateSession(ctx, creds, s.placeholder)
	if err != nil {
		s.discard("create_session", tempID, err)
	}
	return s.reconcile(tempID, created, err, creds)
}

// DeleteSession removes the session locally and asks the backend to drop it.
func (s *Store) DeleteSession(id string, creds auth.Credentials) {
	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	}
	if s.current == id {
		s.current = ""
	}
	_, creating := s.pending[id]
	if creating {
		// the server id is not known yet; reconcile deletes it once it is
		s.pending[id] = true
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)

	if !creds.Present() || creating {
		return
	}
	s.submit("delete_session", id, func(ctx context.Context) error {
		return s.remote.DeleteSession(ctx, creds, id)
	})
}

// SetCurrentSession changes the selection; "" clears it. The id is not validated.
func (s *Store) SetCurrentSession(id string) {
	s.mu.Lock()
	s.current = id
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
}

// AddMessage appends msg to the session. Unknown ids are ignored. The message
// is forwarded only when credentials are present and the session was synced
// before the append.
func (s *Store) AddMessage(sessionID string, msg models.ChatMessage, creds auth.Credentials) {
	now := s.now()

	s.mu.Lock()
	idx := s.indexLocked(sessionID)
	if idx < 0 {
		s.mu.Unlock()
		s.log.WithField("session_id", sessionID).Debug("add message to unknown session ignored")
		return
	}
	session := s.sessions[idx]
	forward := creds.Present() && session.Synced

	if msg.ID == "" {
		msg.ID = s.newID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.Role == models.RoleUser && len(session.Messages) == 0 {
		session.Title = DeriveTitle(msg.Content)
	}
	session.Messages = append(session.Messages, msg)
	session.UpdatedAt = now
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)

	if !forward {
		return
	}
	s.submit("append_message", sessionID, func(ctx context.Context) error {
		return s.remote.AppendMessage(ctx, creds, sessionID, msg)
	})
}

// UpdateSessionTitle renames a session locally.
func (s *Store) UpdateSessionTitle(id, title string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.sessions[idx].Title = title
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
}

// LoadFromServer replaces the whole local collection with the backend's
// list. Local-only sessions are dropped. On failure nothing changes.
func (s *Store) LoadFromServer(ctx context.Context, creds auth.Credentials) {
	remoteSessions, err := s.remote.ListSessions(ctx, creds)
	if err != nil {
		s.discard("list_sessions", "", err)
		return
	}

	s.mu.Lock()
	s.sessions = fromRemote(remoteSessions)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
	s.log.WithField("sessions", len(remoteSessions)).Info("sessions replaced from server")
}

// RefreshSession replaces one session with the backend's copy, or prepends
// it when it is not known locally. On failure nothing changes.
func (s *Store) RefreshSession(ctx context.Context, id string, creds auth.Credentials) {
	if !creds.Present() {
		return
	}
	rs, err := s.remote.GetSession(ctx, creds, id)
	if err != nil {
		s.discard("get_session", id, err)
		return
	}
	if rs == nil || rs.ID == "" {
		s.discard("get_session", id, &remote.SyncError{Kind: remote.KindNotFound, Op: "get_session", Message: "empty session"})
		return
	}
	fresh := rs.Local()

	s.mu.Lock()
	if idx := s.indexLocked(fresh.ID); idx >= 0 {
		s.sessions[idx] = &fresh
	} else {
		s.sessions = append([]*models.ChatSession{&fresh}, s.sessions...)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.save(snap)
	s.log.WithFields(logrus.Fields{
		"session_id": fresh.ID,
		"messages":   len(fresh.Messages),
	}).Debug("session refreshed from server")
}

// CurrentSession returns a copy of the selected session.
func (s *Store) CurrentSession() (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == "" {
		return models.ChatSession{}, false
	}
	idx := s.indexLocked(s.current)
	if idx < 0 {
		return models.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

func (s *Store) CurrentSessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Session returns a copy of one session.
func (s *Store) Session(id string) (models.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return models.ChatSession{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Sessions returns copies of all sessions, newest first.
func (s *Store) Sessions() []models.ChatSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ChatSession, 0, len(s.sessions))
	for _, se := range s.sessions {
		out = append(out, se.Clone())
	}
	return out
}

// Close stops issuing new remote calls. Queued and running calls complete
// before Close returns.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.runner.Close()
}

func (s *Store) indexLocked(id string) int {
	for i, se := range s.sessions {
		if se.ID == id {
			return i
		}
	}
	return -1
}

// DeriveTitle builds a session title from the first user message.
func DeriveTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRunes]) + titleSuffix
}
