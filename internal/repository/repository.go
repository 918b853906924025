// Package repository exposes typed CRUD and live queries over the local
// store. Every mutation stamps the sync metadata the sync manager relies on.
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kimhsiao/fitsync/internal/db"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/uuid"
)

// Repository provides CRUD operations for one entity type.
type Repository[T any, PT models.EntityPtr[T]] struct {
	store      *db.Store
	collection string
	now        func() time.Time
}

// New creates a repository for T backed by store.
func New[T any, PT models.EntityPtr[T]](store *db.Store) *Repository[T, PT] {
	var zero T
	return &Repository[T, PT]{
		store:      store,
		collection: PT(&zero).Collection(),
		now:        time.Now,
	}
}

// Collection returns the collection name the repository writes to.
func (r *Repository[T, PT]) Collection() string {
	return r.collection
}

// Option narrows reads.
type Option func(*db.Query)

// IncludeTombstones makes reads return soft-deleted records.
func IncludeTombstones() Option {
	return func(q *db.Query) { q.IncludeTombstones = true }
}

// Where filters by top-level payload field equality.
func Where(field string, value interface{}) Option {
	return func(q *db.Query) {
		if q.Where == nil {
			q.Where = make(map[string]interface{})
		}
		q.Where[field] = value
	}
}

// WithStatus filters by sync status.
func WithStatus(statuses ...models.SyncStatus) Option {
	return func(q *db.Query) { q.Statuses = append(q.Statuses, statuses...) }
}

// Limit caps the number of returned records.
func Limit(n int) Option {
	return func(q *db.Query) { q.Limit = n }
}

func (r *Repository[T, PT]) query(opts []Option) db.Query {
	q := db.Query{Collection: r.collection}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// Create stores a new record with syncStatus=created. An empty id is
// replaced by a fresh UUID.
func (r *Repository[T, PT]) Create(ctx context.Context, v *T) (*T, error) {
	if v == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "nil record")
	}
	out := *v
	meta := PT(&out).Meta()
	now := r.now().UnixMilli()
	meta.ID = uuid.OrNew(meta.ID)
	meta.CreatedAt = now
	meta.UpdatedAt = now
	meta.DeletedAt = nil
	meta.SyncStatus = models.StatusCreated

	err := r.store.Write(ctx, func(tx *db.Tx) error {
		if existing, err := tx.Get(r.collection, meta.ID); err == nil && existing != nil {
			return apperrors.Newf(apperrors.ErrInvalid, "%s/%s already exists", r.collection, meta.ID)
		} else if err != nil && !apperrors.IsNotFound(err) {
			return err
		}
		return r.put(tx, &out, "", 0)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies patch to a live record. The record becomes updated unless it
// is still an unsynced create.
func (r *Repository[T, PT]) Update(ctx context.Context, id string, patch models.Patch[T]) (*T, error) {
	var out T
	err := r.store.Write(ctx, func(tx *db.Tx) error {
		rec, err := tx.Get(r.collection, id)
		if err != nil {
			return err
		}
		if rec.IsDeleted() {
			return apperrors.Newf(apperrors.ErrNotFound, "%s/%s not found", r.collection, id)
		}
		if err := rec.Decode(PT(&out)); err != nil {
			return err
		}

		patch.Apply(&out)
		meta := PT(&out).Meta()
		meta.ID = id
		meta.CreatedAt = rec.CreatedAt
		meta.UpdatedAt = nextStamp(r.now().UnixMilli(), rec.UpdatedAt)
		meta.SyncStatus = NextStatus(rec.SyncStatus)
		return r.put(tx, &out, rec.SyncError, rec.ServerUpdatedAt)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete tombstones a live record. The row is purged only once the server
// acknowledges the delete.
func (r *Repository[T, PT]) Delete(ctx context.Context, id string) error {
	return r.store.Write(ctx, func(tx *db.Tx) error {
		rec, err := tx.Get(r.collection, id)
		if err != nil {
			return err
		}
		if rec.IsDeleted() {
			return apperrors.Newf(apperrors.ErrNotFound, "%s/%s not found", r.collection, id)
		}
		now := nextStamp(r.now().UnixMilli(), rec.UpdatedAt)
		rec.DeletedAt = &now
		rec.UpdatedAt = now
		rec.SyncStatus = models.StatusDeleted
		return tx.Put(rec)
	})
}

// Find returns one record. Tombstones are hidden unless IncludeTombstones is
// passed.
func (r *Repository[T, PT]) Find(ctx context.Context, id string, opts ...Option) (*T, error) {
	q := r.query(opts)
	rec, err := r.store.Find(ctx, r.collection, id, q.IncludeTombstones)
	if err != nil {
		return nil, err
	}
	var out T
	if err := rec.Decode(PT(&out)); err != nil {
		return nil, err
	}
	return &out, nil
}

// List returns a snapshot of matching records ordered by creation time.
func (r *Repository[T, PT]) List(ctx context.Context, opts ...Option) ([]*T, error) {
	records, err := r.store.Query(ctx, r.query(opts))
	if err != nil {
		return nil, err
	}
	return decodeAll[T, PT](records)
}

// Observe registers fn as a live query. fn fires immediately and after every
// committed change to the collection.
func (r *Repository[T, PT]) Observe(fn func([]*T, error), opts ...Option) (*db.Subscription, error) {
	return r.store.Observe(r.query(opts), func(records []db.Record, err error) {
		if err != nil {
			fn(nil, err)
			return
		}
		fn(decodeAll[T, PT](records))
	})
}

func (r *Repository[T, PT]) put(tx *db.Tx, v *T, syncError string, serverUpdatedAt int64) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to encode "+r.collection, err)
	}
	meta := PT(v).Meta()
	return tx.Put(&db.Record{
		Collection:      r.collection,
		ID:              meta.ID,
		Data:            data,
		CreatedAt:       meta.CreatedAt,
		UpdatedAt:       meta.UpdatedAt,
		DeletedAt:       meta.DeletedAt,
		SyncStatus:      meta.SyncStatus,
		SyncError:       syncError,
		ServerUpdatedAt: serverUpdatedAt,
	})
}

func decodeAll[T any, PT models.EntityPtr[T]](records []db.Record) ([]*T, error) {
	out := make([]*T, 0, len(records))
	for i := range records {
		var v T
		if err := records[i].Decode(PT(&v)); err != nil {
			return nil, err
		}
		out = append(out, &v)
	}
	return out, nil
}

// nextStamp returns the updated_at for an edit of a row last stamped at prev.
// Stamps strictly increase so an edit in the same millisecond as an in-flight
// push is still seen as newer.
func nextStamp(now, prev int64) int64 {
	if now <= prev {
		return prev + 1
	}
	return now
}

// NextStatus returns the status a live record takes after a local edit.
// An unsynced create stays created.
func NextStatus(current models.SyncStatus) models.SyncStatus {
	if current == models.StatusCreated {
		return models.StatusCreated
	}
	return models.StatusUpdated
}
