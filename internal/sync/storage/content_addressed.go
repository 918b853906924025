// Package storage stages captured media by content hash so queued uploads
// keep a stable local path and identical files share one remote object.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// ContentAddressedStorage stores files by their SHA-256 content hash.
type ContentAddressedStorage struct {
	baseDir string
}

// NewContentAddressedStorage creates a new ContentAddressedStorage.
func NewContentAddressedStorage(baseDir string) *ContentAddressedStorage {
	return &ContentAddressedStorage{baseDir: baseDir}
}

// CalculateHash calculates SHA-256 hash of data.
func CalculateHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CalculateHashFromReader calculates SHA-256 hash from an io.Reader.
func CalculateHashFromReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", apperrors.Wrap(apperrors.ErrInternal, "failed to calculate hash", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CalculateHashFromFile calculates SHA-256 hash of a file.
func CalculateHashFromFile(filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", openError(filePath, err)
	}
	defer file.Close()

	return CalculateHashFromReader(file)
}

// StoreFile copies sourcePath into the store and returns its hash and staged
// path. The file extension is kept so content types survive. A file already
// present is not rewritten.
func (s *ContentAddressedStorage) StoreFile(sourcePath string) (hash, staged string, err error) {
	hash, err = CalculateHashFromFile(sourcePath)
	if err != nil {
		return "", "", err
	}

	staged = s.Path(hash, filepath.Ext(sourcePath))
	if _, err := os.Stat(staged); err == nil {
		return hash, staged, nil
	}
	if err := os.MkdirAll(filepath.Dir(staged), 0o755); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to create staging directory", err)
	}

	src, err := os.Open(sourcePath)
	if err != nil {
		return "", "", openError(sourcePath, err)
	}
	defer src.Close()

	// Write under a temporary name so a crash never leaves a truncated file
	// at the content address.
	tmp, err := os.CreateTemp(filepath.Dir(staged), ".staging-*")
	if err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to create staged file", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to copy file", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to close staged file", err)
	}
	if err := os.Rename(tmp.Name(), staged); err != nil {
		return "", "", apperrors.Wrap(apperrors.ErrInternal, "failed to move staged file", err)
	}
	return hash, staged, nil
}

// Path returns baseDir/{hash[0:2]}/{hash[2:4]}/{hash}{ext}.
func (s *ContentAddressedStorage) Path(hash, ext string) string {
	if len(hash) < 4 {
		return filepath.Join(s.baseDir, hash+ext)
	}
	return filepath.Join(s.baseDir, hash[0:2], hash[2:4], hash+ext)
}

// Owns reports whether p lies inside the store.
func (s *ContentAddressedStorage) Owns(p string) bool {
	rel, err := filepath.Rel(s.baseDir, p)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// Delete removes a staged file and any directories it leaves empty. Deleting
// a missing file is a no-op.
func (s *ContentAddressedStorage) Delete(staged string) error {
	if !s.Owns(staged) {
		return apperrors.Newf(apperrors.ErrInvalid, "%s is outside the staging area", staged)
	}
	if err := os.Remove(staged); err != nil && !os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to delete staged file", err)
	}

	dir := filepath.Dir(staged)
	os.Remove(dir)
	os.Remove(filepath.Dir(dir))
	return nil
}

// ObjectKey returns the remote object key for staged content:
// {prefix}/{collection}/{hash[0:2]}/{hash}{ext}.
func ObjectKey(prefix, collection, localPath string) (string, error) {
	hash := strings.TrimSuffix(filepath.Base(localPath), filepath.Ext(localPath))
	if !isHexHash(hash) {
		var err error
		hash, err = CalculateHashFromFile(localPath)
		if err != nil {
			return "", err
		}
	}
	ext := strings.ToLower(filepath.Ext(localPath))
	return path.Join(strings.Trim(prefix, "/"), collection, hash[0:2], hash+ext), nil
}

func isHexHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func openError(p string, err error) error {
	if os.IsNotExist(err) {
		return apperrors.Wrap(apperrors.ErrNotFound, "file not found: "+p, err)
	}
	return apperrors.Wrap(apperrors.ErrInternal, "failed to open "+p, err)
}
