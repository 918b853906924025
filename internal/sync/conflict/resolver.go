// Package conflict decides which side wins when a pulled change meets a local
// record.
package conflict

import (
	"time"

	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
)

// ResolutionStrategy defines how conflicts are resolved.
type ResolutionStrategy string

const (
	ResolutionStrategyLastWriteWins ResolutionStrategy = "last_write_wins"
	ResolutionStrategyManual        ResolutionStrategy = "manual"
)

// Side names the winning version.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
)

// Version describes one side of a conflict. Timestamps are server
// timestamps in unix milliseconds; for the local side that is the server
// time of the last acknowledged or pulled version.
type Version struct {
	ID        string
	Exists    bool
	Pending   bool
	Deleted   bool
	Timestamp int64
}

// Conflict pairs the local and remote versions of one record.
type Conflict struct {
	Collection string
	Local      Version
	Remote     Version
}

// ResolveResult represents the outcome of conflict resolution.
type ResolveResult struct {
	Winner   Side
	Strategy ResolutionStrategy
	// ConflictLog is set only when the two sides actually diverged.
	ConflictLog *models.ConflictLog
}

// Resolver handles conflict resolution during synchronization.
type Resolver struct {
	strategy ResolutionStrategy
	now      func() time.Time
}

// NewResolver creates a new Resolver with the specified strategy.
func NewResolver(strategy ResolutionStrategy) *Resolver {
	return &Resolver{strategy: strategy, now: time.Now}
}

// Strategy returns the configured strategy.
func (r *Resolver) Strategy() ResolutionStrategy {
	return r.strategy
}

// Resolve decides between the local and remote versions. A local record with
// unacknowledged changes always wins so pulls never clobber pending edits.
func (r *Resolver) Resolve(c *Conflict) (*ResolveResult, error) {
	if c == nil || c.Remote.ID == "" {
		return nil, ErrInvalidConflict
	}
	if c.Local.Exists && c.Local.ID != c.Remote.ID {
		return nil, ErrItemIDMismatch
	}

	if !c.Local.Exists {
		return &ResolveResult{Winner: SideRemote, Strategy: r.strategy}, nil
	}

	if c.Local.Pending {
		resolution := models.ResolutionLocalPending
		if r.strategy == ResolutionStrategyManual {
			resolution = models.ResolutionManual
		}
		logging.Info("pulled change skipped, local edits pending", map[string]interface{}{
			"collection":       c.Collection,
			"item_id":          c.Local.ID,
			"local_timestamp":  c.Local.Timestamp,
			"remote_timestamp": c.Remote.Timestamp,
			"resolution":       resolution,
		})
		return r.result(c, SideLocal, resolution), nil
	}

	// Ties go to the server so re-applying a page is idempotent.
	if c.Remote.Timestamp >= c.Local.Timestamp {
		return &ResolveResult{Winner: SideRemote, Strategy: r.strategy}, nil
	}

	logging.Warn("pulled change older than local copy", map[string]interface{}{
		"collection":       c.Collection,
		"item_id":          c.Local.ID,
		"local_timestamp":  c.Local.Timestamp,
		"remote_timestamp": c.Remote.Timestamp,
	})
	return r.result(c, SideLocal, models.ResolutionLocalNewer), nil
}

func (r *Resolver) result(c *Conflict, winner Side, resolution string) *ResolveResult {
	return &ResolveResult{
		Winner:   winner,
		Strategy: r.strategy,
		ConflictLog: &models.ConflictLog{
			Collection:      c.Collection,
			ItemID:          c.Local.ID,
			LocalTimestamp:  c.Local.Timestamp,
			RemoteTimestamp: c.Remote.Timestamp,
			Resolution:      resolution,
			DetectedAt:      r.now().UnixMilli(),
		},
	}
}

// Errors
var (
	ErrInvalidConflict = &ConflictError{Message: "invalid conflict: remote version must carry an id"}
	ErrItemIDMismatch  = &ConflictError{Message: "item ID mismatch"}
)

// ConflictError represents a conflict resolution error.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// IsConflictError checks if an error is a ConflictError.
func IsConflictError(err error) bool {
	_, ok := err.(*ConflictError)
	return ok
}
