// Package s3 uploads queued assets to S3-compatible object storage.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"

	apperrors "github.com/kimhsiao/fitsync/internal/errors"
	"github.com/kimhsiao/fitsync/internal/logging"
	"github.com/kimhsiao/fitsync/internal/models"
	"github.com/kimhsiao/fitsync/internal/sync/storage"
)

// Providers accepted by Settings.Provider.
const (
	ProviderAWS   = "aws"
	ProviderMinIO = "minio"
	ProviderR2    = "r2"
)

// ObjectAPI is the subset of the S3 client used for uploads.
type ObjectAPI interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
}

// Config holds S3 connection configuration.
type Config struct {
	// Endpoint is a full URL. Empty means the AWS regional endpoint.
	Endpoint       string
	Bucket         string
	Region         string
	AccessKey      string
	SecretKey      string
	ForcePathStyle bool // path-style URLs (minio, localstack)
	// PublicBaseURL, when set, prefixes returned object URLs (CDN or custom
	// domain) instead of the API endpoint.
	PublicBaseURL string
	KeyPrefix     string
}

// Settings is the provider-level storage configuration.
type Settings struct {
	Provider      string `mapstructure:"provider"`
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	AccountID     string `mapstructure:"account_id"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

// ConfigFor resolves provider settings into a Config.
func ConfigFor(s Settings) (Config, error) {
	var (
		cfg Config
		err error
	)
	switch strings.ToLower(s.Provider) {
	case "", ProviderAWS:
		cfg = AWS(&AWSConfig{Bucket: s.Bucket, AccessKey: s.AccessKey, SecretKey: s.SecretKey, Region: s.Region})
		if !IsSupportedAWSRegion(cfg.Region) {
			return Config{}, apperrors.Newf(apperrors.ErrInvalid, "unknown AWS region: %s", cfg.Region)
		}
	case ProviderMinIO:
		cfg, err = MinIO(&MinIOConfig{Endpoint: s.Endpoint, Bucket: s.Bucket, AccessKey: s.AccessKey, SecretKey: s.SecretKey, UseSSL: s.UseSSL})
	case ProviderR2:
		cfg, err = R2(&R2Config{AccountID: s.AccountID, Bucket: s.Bucket, AccessKey: s.AccessKey, SecretKey: s.SecretKey})
	default:
		return Config{}, apperrors.Newf(apperrors.ErrInvalid, "unknown storage provider %q", s.Provider)
	}
	if err != nil {
		return Config{}, err
	}
	if s.Bucket == "" {
		return Config{}, apperrors.New(apperrors.ErrInvalid, "storage bucket is required")
	}
	cfg.PublicBaseURL = strings.TrimRight(s.PublicBaseURL, "/")
	cfg.KeyPrefix = s.KeyPrefix
	return cfg, nil
}

// Uploader implements queue.Uploader on top of S3.
type Uploader struct {
	api ObjectAPI
	cfg Config
}

// NewUploader builds an S3 client for cfg.
func NewUploader(ctx context.Context, cfg Config) (*Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "failed to load storage credentials", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewUploaderWithAPI(client, cfg), nil
}

// NewUploaderWithAPI wraps an existing client.
func NewUploaderWithAPI(api ObjectAPI, cfg Config) *Uploader {
	return &Uploader{api: api, cfg: cfg}
}

// Upload puts the asset file under its content-addressed key and returns
// the object URL.
func (u *Uploader) Upload(ctx context.Context, asset models.QueuedAsset) (string, error) {
	key, err := storage.ObjectKey(u.cfg.KeyPrefix, asset.OwnerCollection, asset.LocalPath)
	if err != nil {
		return "", err
	}

	f, err := os.Open(asset.LocalPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", apperrors.Wrap(apperrors.ErrNotFound, "asset file missing: "+asset.LocalPath, err)
		}
		return "", apperrors.Wrap(apperrors.ErrAssetUploadFailed, "failed to open asset", err)
	}
	defer f.Close()

	input := &awss3.PutObjectInput{
		Bucket: aws.String(u.cfg.Bucket),
		Key:    aws.String(key),
		Body:   f,
	}
	if asset.ContentType != "" {
		input.ContentType = aws.String(asset.ContentType)
	}

	if _, err := u.api.PutObject(ctx, input); err != nil {
		return "", classify(key, err)
	}

	objectURL := u.ObjectURL(key)
	logging.Debug("asset uploaded", map[string]interface{}{
		"asset_id": asset.ID,
		"key":      key,
	})
	return objectURL, nil
}

// ObjectURL returns the durable URL for key.
func (u *Uploader) ObjectURL(key string) string {
	if u.cfg.PublicBaseURL != "" {
		return u.cfg.PublicBaseURL + "/" + key
	}
	if u.cfg.Endpoint == "" {
		endpoint, err := AWSEndpointForRegion(u.cfg.Region)
		if err != nil {
			endpoint = "s3.amazonaws.com"
		}
		if u.cfg.ForcePathStyle {
			return fmt.Sprintf("https://%s/%s/%s", endpoint, u.cfg.Bucket, key)
		}
		return fmt.Sprintf("https://%s.%s/%s", u.cfg.Bucket, endpoint, key)
	}

	base, err := url.Parse(u.cfg.Endpoint)
	if err != nil || base.Host == "" {
		return strings.TrimRight(u.cfg.Endpoint, "/") + "/" + u.cfg.Bucket + "/" + key
	}
	if u.cfg.ForcePathStyle {
		return fmt.Sprintf("%s://%s/%s/%s", base.Scheme, base.Host, u.cfg.Bucket, key)
	}
	return fmt.Sprintf("%s://%s.%s/%s", base.Scheme, u.cfg.Bucket, base.Host, key)
}

func classify(key string, err error) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return apperrors.Wrap(apperrors.ErrConnectivity, "upload of "+key+" failed", err)
	}
	var respErr *awshttp.ResponseError
	if stderrors.As(err, &respErr) {
		return apperrors.Wrap(apperrors.ErrAssetUploadFailed,
			fmt.Sprintf("upload of %s failed with status %d", key, respErr.HTTPStatusCode()), err)
	}
	return apperrors.Wrap(apperrors.ErrAssetUploadFailed, "upload of "+key+" failed", err)
}
