// Package models provides the record types stored and synchronized by FitSync.
package models

import "time"

// SyncStatus is the per-record mutation marker driving the push phase.
type SyncStatus string

const (
	StatusSynced  SyncStatus = "synced"
	StatusCreated SyncStatus = "created"
	StatusUpdated SyncStatus = "updated"
	StatusDeleted SyncStatus = "deleted"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusSynced, StatusCreated, StatusUpdated, StatusDeleted:
		return true
	}
	return false
}

// Pending reports whether s marks an unacknowledged local mutation.
func (s SyncStatus) Pending() bool {
	return s == StatusCreated || s == StatusUpdated || s == StatusDeleted
}

// PendingStatuses lists every status the push phase picks up.
func PendingStatuses() []SyncStatus {
	return []SyncStatus{StatusCreated, StatusUpdated, StatusDeleted}
}

// SyncMeta is embedded by every syncable entity.
type SyncMeta struct {
	ID         string     `json:"id"`
	CreatedAt  int64      `json:"created_at"`
	UpdatedAt  int64      `json:"updated_at"`
	DeletedAt  *int64     `json:"deleted_at,omitempty"`
	SyncStatus SyncStatus `json:"sync_status,omitempty"`
}

// Meta returns the embedded metadata.
func (m *SyncMeta) Meta() *SyncMeta {
	return m
}

// IsDeleted reports whether the record is a tombstone.
func (m *SyncMeta) IsDeleted() bool {
	return m.DeletedAt != nil
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (m *SyncMeta) UpdatedAtTime() time.Time {
	return MillisTime(m.UpdatedAt)
}

// Entity is implemented by pointers to every syncable record type.
type Entity interface {
	Collection() string
	Meta() *SyncMeta
}

// EntityPtr constrains generic code to *T where *T is an Entity.
type EntityPtr[T any] interface {
	*T
	Entity
}

// Patch is a typed partial update for T. Only non-nil fields are applied.
type Patch[T any] interface {
	Apply(*T)
}

// NowMillis returns the current wall time in unix milliseconds.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// MillisTime converts unix milliseconds to time.Time.
func MillisTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func set[V any](dst *V, src *V) {
	if src != nil {
		*dst = *src
	}
}
