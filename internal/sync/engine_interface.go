// Package sync reconciles the local store with the remote backend.
package sync

import (
	"context"
	"encoding/json"
)

// Op is the mutation carried by a PushItem.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// PushItem is one dirty record sent to the server.
type PushItem struct {
	Collection string          `json:"collection"`
	Op         Op              `json:"op"`
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	UpdatedAt  int64           `json:"updated_at"`
}

// PushResult is the server verdict for one PushItem.
type PushResult struct {
	ID              string `json:"id"`
	Accepted        bool   `json:"accepted"`
	ServerID        string `json:"server_id,omitempty"`
	ServerUpdatedAt int64  `json:"server_updated_at,omitempty"`
	Error           string `json:"error,omitempty"`
}

// RemoteChange is one record version returned by a pull.
type RemoteChange struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
}

// PullPage is one page of changes after a cursor.
type PullPage struct {
	Changes    []RemoteChange `json:"changes"`
	NextCursor string         `json:"next_cursor"`
	HasMore    bool           `json:"has_more"`
}

// Remote is the backend the Manager talks to.
type Remote interface {
	// Push sends a batch and returns one result per item.
	Push(ctx context.Context, items []PushItem) ([]PushResult, error)

	// Pull returns changes in collection after cursor. An empty cursor starts
	// from the beginning.
	Pull(ctx context.Context, collection, cursor string, limit int) (*PullPage, error)
}

// TriggerReason records why a cycle was requested.
type TriggerReason string

const (
	TriggerStartup      TriggerReason = "startup"
	TriggerConnectivity TriggerReason = "connectivity"
	TriggerRefresh      TriggerReason = "refresh"
	TriggerPeriodic     TriggerReason = "periodic"
)

// Engine defines the sync operations used by the scheduler and the bridge.
// It allows for mocking in tests.
type Engine interface {
	// Trigger requests a cycle. Triggers during a running cycle coalesce into
	// one follow-up cycle.
	Trigger(reason TriggerReason)

	// SyncNow runs a cycle and waits for it.
	SyncNow(ctx context.Context) (*SyncResult, error)

	// WaitIdle blocks until no cycle is running or pending.
	WaitIdle(ctx context.Context) error

	// SetOnline reports connectivity. Going offline cancels the running cycle.
	SetOnline(online bool)

	// Reset cancels the running cycle.
	Reset()
}
