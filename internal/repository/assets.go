package repository

import (
	"context"

	"github.com/tidwall/sjson"

	"github.com/kimhsiao/fitsync/internal/db"
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
)

// AttachAssetURL writes an uploaded asset URL into field of the owning record
// and marks the record dirty. A tombstoned or purged owner is reported as
// NotFound and left untouched.
func AttachAssetURL(ctx context.Context, store *db.Store, collection, id, field, url string) error {
	c, ok := models.LookupCollection(collection)
	if !ok {
		return apperrors.Newf(apperrors.ErrInvalid, "unknown collection %q", collection)
	}
	if !c.HasAssetField(field) {
		return apperrors.Newf(apperrors.ErrInvalid, "%s.%s does not hold assets", collection, field)
	}

	return store.Write(ctx, func(tx *db.Tx) error {
		rec, err := tx.Get(collection, id)
		if err != nil {
			return err
		}
		if rec.IsDeleted() {
			return apperrors.Newf(apperrors.ErrNotFound, "%s/%s not found", collection, id)
		}
		data, err := sjson.SetBytes(rec.Data, field, url)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "failed to set "+field, err)
		}
		now := nextStamp(tx.Now(), rec.UpdatedAt)
		data, _ = sjson.SetBytes(data, "updated_at", now)
		rec.Data = data
		rec.UpdatedAt = now
		rec.SyncStatus = NextStatus(rec.SyncStatus)
		return tx.Put(rec)
	})
}
