// Package status holds the process-wide sync status singleton. Exactly one
// writer exists per store; any number of readers may subscribe.
package status

import (
	"sync"
	"time"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// State is the coarse sync state shown to the user.
type State string

const (
	StateNeverSynced State = "never_synced"
	StateIdle        State = "idle"
	StateSyncing     State = "syncing"
	StateOffline     State = "offline"
	StateError       State = "error"
)

// Snapshot is an immutable view of the status.
type Snapshot struct {
	State        State      `json:"state"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

func (s Snapshot) equal(o Snapshot) bool {
	if s.State != o.State || s.LastError != o.LastError {
		return false
	}
	if (s.LastSyncedAt == nil) != (o.LastSyncedAt == nil) {
		return false
	}
	return s.LastSyncedAt == nil || s.LastSyncedAt.Equal(*o.LastSyncedAt)
}

// Store keeps the current snapshot and fans changes out to subscribers.
type Store struct {
	mu       sync.Mutex
	current  Snapshot
	subs     map[uint64]func(Snapshot)
	nextID   uint64
	writer   *Writer
	notifyMu sync.Mutex
}

// NewStore creates a store initialised to never_synced.
func NewStore() *Store {
	return &Store{
		current: Snapshot{State: StateNeverSynced},
		subs:    make(map[uint64]func(Snapshot)),
	}
}

var (
	defaultOnce  sync.Once
	defaultStore *Store
)

// Default returns the process-wide store.
func Default() *Store {
	defaultOnce.Do(func() { defaultStore = NewStore() })
	return defaultStore
}

// Snapshot returns the current status.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Subscribe registers fn and immediately delivers the current snapshot. The
// returned function unsubscribes.
func (s *Store) Subscribe(fn func(Snapshot)) (unsubscribe func()) {
	s.notifyMu.Lock()
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs[id] = fn
	snap := s.current
	s.mu.Unlock()
	fn(snap)
	s.notifyMu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// ClaimWriter returns the single writer for this store. The claim holds
// until the writer is released.
func (s *Store) ClaimWriter() (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		return nil, apperrors.New(apperrors.ErrWriterClaimed, "sync status writer already claimed")
	}
	s.writer = &Writer{store: s}
	return s.writer, nil
}

func (s *Store) update(w *Writer, mutate func(*Snapshot)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	if s.writer != w {
		s.mu.Unlock()
		return
	}
	next := s.current
	mutate(&next)
	if next.equal(s.current) {
		s.mu.Unlock()
		return
	}
	s.current = next
	subs := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(next)
	}
}

// Writer is the only way to mutate a Store. A released writer no longer
// changes anything.
type Writer struct {
	store *Store
}

// Release hands the claim back so a new writer can be claimed. The current
// snapshot is kept.
func (w *Writer) Release() {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	if w.store.writer == w {
		w.store.writer = nil
	}
}

// SetState changes the state and keeps lastError and lastSyncedAt.
func (w *Writer) SetState(state State) {
	w.store.update(w, func(s *Snapshot) { s.State = state })
}

// SetError records err and moves to state (offline or error).
func (w *Writer) SetError(state State, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	w.store.update(w, func(s *Snapshot) {
		s.State = state
		s.LastError = msg
	})
}

// SetLastSyncedAt records a completed cycle. It also moves to idle and
// clears lastError.
func (w *Writer) SetLastSyncedAt(t time.Time) {
	w.store.update(w, func(s *Snapshot) {
		ts := t
		s.LastSyncedAt = &ts
		s.State = StateIdle
		s.LastError = ""
	})
}
