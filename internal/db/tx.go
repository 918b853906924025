package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/tidwall/sjson"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/uuid"
)

// Tx is the handle passed to Store.Write mutators.
type Tx struct {
	ctx     context.Context
	tx      *sql.Tx
	touched map[string]struct{}
	now     func() time.Time
}

// Now returns the store clock in unix milliseconds.
func (t *Tx) Now() int64 {
	return t.now().UnixMilli()
}

// Get returns a record including tombstones.
func (t *Tx) Get(collection, id string) (*Record, error) {
	return getRecord(t.ctx, t.tx, collection, id)
}

// Query runs q inside the transaction.
func (t *Tx) Query(q Query) ([]Record, error) {
	return queryRecords(t.ctx, t.tx, q)
}

// Put inserts or replaces a record.
func (t *Tx) Put(rec *Record) error {
	if rec.Collection == "" || rec.ID == "" {
		return apperrors.New(apperrors.ErrInvalid, "record requires collection and id")
	}
	if !rec.SyncStatus.Valid() {
		return apperrors.Newf(apperrors.ErrInvalid, "invalid sync status %q", rec.SyncStatus)
	}
	data := rec.Data
	if len(data) == 0 {
		data = []byte("{}")
	}

	var deletedAt sql.NullInt64
	if rec.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: *rec.DeletedAt, Valid: true}
	}

	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			data = excluded.data,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			sync_status = excluded.sync_status,
			sync_error = excluded.sync_error,
			server_updated_at = excluded.server_updated_at`,
		rec.Collection, rec.ID, string(data), rec.CreatedAt, rec.UpdatedAt, deletedAt,
		string(rec.SyncStatus), rec.SyncError, rec.ServerUpdatedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write "+rec.Collection+"/"+rec.ID, err)
	}
	t.touch(rec.Collection)
	return nil
}

// Purge physically removes a record. Purging a missing record is a no-op.
func (t *Tx) Purge(collection, id string) error {
	res, err := t.tx.ExecContext(t.ctx, "DELETE FROM records WHERE collection = ? AND id = ?", collection, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to purge "+collection+"/"+id, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		t.touch(collection)
	}
	return nil
}

// Rename moves a record to newID and rewrites the payload id. A row already
// stored under newID is replaced.
func (t *Tx) Rename(collection, oldID, newID string) error {
	if oldID == newID {
		return nil
	}
	rec, err := t.Get(collection, oldID)
	if err != nil {
		return err
	}
	data, err := sjson.SetBytes(rec.Data, "id", newID)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "failed to rewrite id", err)
	}
	if err := t.Purge(collection, oldID); err != nil {
		return err
	}
	rec.ID = newID
	rec.Data = data
	return t.Put(rec)
}

// SetCursor persists the pull watermark for collection.
func (t *Tx) SetCursor(collection, cursor string) error {
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO sync_cursors (collection, cursor, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET cursor = excluded.cursor, updated_at = excluded.updated_at`,
		collection, cursor, t.Now())
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to write cursor", err)
	}
	return nil
}

// LogConflict appends an entry to the conflict log.
func (t *Tx) LogConflict(c *models.ConflictLog) error {
	c.ID = uuid.OrNew(c.ID)
	if c.DetectedAt == 0 {
		c.DetectedAt = t.Now()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO conflict_log (id, collection, item_id, local_timestamp, remote_timestamp, resolution, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Collection, c.ItemID, c.LocalTimestamp, c.RemoteTimestamp, c.Resolution, c.DetectedAt)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to log conflict", err)
	}
	return nil
}

func (t *Tx) touch(collection string) {
	t.touched[collection] = struct{}{}
}
