package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/models"
)

var bucketAssets = []byte("assets")

// journal persists queued assets so they survive restarts.
type journal struct {
	db *bolt.DB
}

func openJournal(path string) (*journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to open asset journal", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAssets)
		return err
	})
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to create asset bucket", err)
	}
	return &journal{db: db}, nil
}

func (j *journal) put(a *models.QueuedAsset) error {
	data, err := json.Marshal(a)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode asset", err)
	}
	err = j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).Put([]byte(a.ID), data)
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to persist asset "+a.ID, err)
	}
	return nil
}

func (j *journal) delete(id string) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).Delete([]byte(id))
	})
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "failed to delete asset "+id, err)
	}
	return nil
}

func (j *journal) load() ([]*models.QueuedAsset, error) {
	var out []*models.QueuedAsset
	err := j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssets).ForEach(func(k, v []byte) error {
			var a models.QueuedAsset
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("asset %s: %w", k, err)
			}
			out = append(out, &a)
			return nil
		})
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "failed to load asset journal", err)
	}
	return out, nil
}

func (j *journal) close() error {
	return j.db.Close()
}
