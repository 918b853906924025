package s3

import (
	apperrors "github.com/kimhsiao/fitsync/internal/errors"
)

// Regional S3 endpoints. us-east-1 keeps the legacy global host.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-west-2":      "s3.eu-west-2.amazonaws.com",
	"eu-west-3":      "s3.eu-west-3.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"eu-north-1":     "s3.eu-north-1.amazonaws.com",
	"eu-south-1":     "s3.eu-south-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"ap-northeast-2": "s3.ap-northeast-2.amazonaws.com",
	"ap-northeast-3": "s3.ap-northeast-3.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-southeast-2": "s3.ap-southeast-2.amazonaws.com",
	"ap-south-1":     "s3.ap-south-1.amazonaws.com",
	"ca-central-1":   "s3.ca-central-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
	"me-south-1":     "s3.me-south-1.amazonaws.com",
	"af-south-1":     "s3.af-south-1.amazonaws.com",
}

// AWSConfig holds AWS S3-specific configuration.
type AWSConfig struct {
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string // Default: us-east-1
}

// AWS returns a Config for AWS S3. AWS uses virtual-host style URLs
// (bucket.s3.amazonaws.com) and the SDK's regional endpoint resolution.
// Empty keys fall back to the default credential chain.
func AWS(config *AWSConfig) Config {
	region := config.Region
	if region == "" {
		region = "us-east-1"
	}
	return Config{
		Bucket:    config.Bucket,
		Region:    region,
		AccessKey: config.AccessKey,
		SecretKey: config.SecretKey,
	}
}

// AWSEndpointForRegion returns the S3 endpoint for a given region.
func AWSEndpointForRegion(region string) (string, error) {
	endpoint, ok := awsEndpoints[region]
	if !ok {
		return "", apperrors.Newf(apperrors.ErrInvalid, "unknown AWS region: %s", region)
	}
	return endpoint, nil
}

// IsSupportedAWSRegion reports whether region has a known endpoint.
func IsSupportedAWSRegion(region string) bool {
	_, ok := awsEndpoints[region]
	return ok
}
