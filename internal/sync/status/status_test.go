package status

import (
	"errors"
	"testing"
	"time"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

func TestNewStore_NeverSynced(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	if snap.State != StateNeverSynced || snap.LastSyncedAt != nil || snap.LastError != "" {
		t.Errorf("initial snapshot = %+v", snap)
	}
}

func TestClaimWriter_Once(t *testing.T) {
	s := NewStore()
	if _, err := s.ClaimWriter(); err != nil {
		t.Fatalf("ClaimWriter() error = %v", err)
	}
	if _, err := s.ClaimWriter(); !apperrors.Is(err, apperrors.ErrWriterClaimed) {
		t.Errorf("second ClaimWriter() error = %v, want ErrWriterClaimed", err)
	}
}

func TestWriter_ReleaseAllowsReclaim(t *testing.T) {
	s := NewStore()
	first, err := s.ClaimWriter()
	if err != nil {
		t.Fatalf("ClaimWriter() error = %v", err)
	}
	first.SetState(StateSyncing)
	first.Release()
	first.Release()

	second, err := s.ClaimWriter()
	if err != nil {
		t.Fatalf("ClaimWriter() after Release error = %v", err)
	}
	if got := s.Snapshot().State; got != StateSyncing {
		t.Errorf("State after reclaim = %v, want %v", got, StateSyncing)
	}

	// A released writer must not clobber the new owner's state.
	first.SetState(StateError)
	if got := s.Snapshot().State; got != StateSyncing {
		t.Errorf("State after stale write = %v, want %v", got, StateSyncing)
	}
	first.Release()
	if _, err := s.ClaimWriter(); !apperrors.Is(err, apperrors.ErrWriterClaimed) {
		t.Errorf("stale Release() freed the live claim: %v", err)
	}
	second.SetState(StateIdle)
	if got := s.Snapshot().State; got != StateIdle {
		t.Errorf("State = %v, want %v", got, StateIdle)
	}
}

func TestWriter_Transitions(t *testing.T) {
	s := NewStore()
	w, _ := s.ClaimWriter()

	var got []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { got = append(got, snap) })
	defer unsubscribe()

	w.SetState(StateSyncing)
	w.SetError(StateOffline, errors.New("no route"))
	if snap := s.Snapshot(); snap.State != StateOffline || snap.LastError != "no route" {
		t.Errorf("after SetError = %+v", snap)
	}

	at := time.Unix(1700000000, 0)
	w.SetLastSyncedAt(at)
	snap := s.Snapshot()
	if snap.State != StateIdle || snap.LastError != "" || snap.LastSyncedAt == nil || !snap.LastSyncedAt.Equal(at) {
		t.Errorf("after SetLastSyncedAt = %+v", snap)
	}

	wantStates := []State{StateNeverSynced, StateSyncing, StateOffline, StateIdle}
	if len(got) != len(wantStates) {
		t.Fatalf("emissions = %d, want %d: %+v", len(got), len(wantStates), got)
	}
	for i, st := range wantStates {
		if got[i].State != st {
			t.Errorf("emission %d state = %q, want %q", i, got[i].State, st)
		}
	}
}

func TestWriter_IdempotentTransitions(t *testing.T) {
	s := NewStore()
	w, _ := s.ClaimWriter()

	count := 0
	unsubscribe := s.Subscribe(func(Snapshot) { count++ })
	w.SetState(StateSyncing)
	w.SetState(StateSyncing)
	w.SetError(StateError, errors.New("x"))
	w.SetError(StateError, errors.New("x"))
	if count != 3 {
		t.Errorf("emissions = %d, want 3", count)
	}

	unsubscribe()
	w.SetState(StateIdle)
	if count != 3 {
		t.Errorf("unsubscribed callback still called")
	}
}

func TestSetState_KeepsLastSyncedAt(t *testing.T) {
	s := NewStore()
	w, _ := s.ClaimWriter()
	w.SetLastSyncedAt(time.Unix(10, 0))
	w.SetState(StateSyncing)
	if s.Snapshot().LastSyncedAt == nil {
		t.Error("SetState() cleared LastSyncedAt")
	}
}

func TestDefault_Singleton(t *testing.T) {
	if Default() != Default() {
		t.Error("Default() returned different stores")
	}
}
