package s3

import (
	"fmt"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// R2Config holds Cloudflare R2-specific configuration.
type R2Config struct {
	AccountID string // Cloudflare Account ID
	Bucket    string
	AccessKey string // R2 API Token (Access Key ID)
	SecretKey string // R2 API Token (Secret Access Key)
}

// R2 returns a Config for Cloudflare R2. R2 serves the S3 API from an
// account-specific endpoint: https://<accountid>.r2.cloudflarestorage.com
func R2(config *R2Config) (Config, error) {
	if !IsValidR2AccountID(config.AccountID) {
		return Config{}, apperrors.Newf(apperrors.ErrInvalid, "invalid R2 account id %q", config.AccountID)
	}
	return Config{
		Endpoint:  "https://" + R2EndpointForAccount(config.AccountID),
		Bucket:    config.Bucket,
		Region:    "auto", // R2 doesn't use regions like AWS
		AccessKey: config.AccessKey,
		SecretKey: config.SecretKey,
	}, nil
}

// R2EndpointForAccount returns the R2 endpoint host for a given account ID.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID reports whether accountID is a 32-character hex string.
func IsValidR2AccountID(accountID string) bool {
	if len(accountID) != 32 {
		return false
	}
	for _, c := range accountID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
