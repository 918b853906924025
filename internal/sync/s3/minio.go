package s3

import (
	"strings"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// MinIOConfig holds MinIO-specific configuration.
type MinIOConfig struct {
	Endpoint  string // "localhost:9000" or "https://minio.example.com"
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool // applies only when Endpoint has no scheme
}

// MinIO returns a Config for a self-hosted MinIO server, which requires
// path-style URLs (endpoint/bucket/key).
func MinIO(config *MinIOConfig) (Config, error) {
	endpoint, err := ParseMinIOEndpoint(config.Endpoint, config.UseSSL)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Endpoint:       endpoint,
		Bucket:         config.Bucket,
		Region:         "us-east-1", // MinIO ignores regions but the signer needs one
		AccessKey:      config.AccessKey,
		SecretKey:      config.SecretKey,
		ForcePathStyle: true,
	}, nil
}

// ParseMinIOEndpoint returns the endpoint with a scheme and without a
// trailing slash.
func ParseMinIOEndpoint(endpoint string, useSSL bool) (string, error) {
	if endpoint == "" {
		return "", apperrors.New(apperrors.ErrInvalid, "minio endpoint cannot be empty")
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/"), nil
}
