package assets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Fetcher downloads assets from an S3 bucket (or any S3-compatible
// store such as MinIO) using concurrent multipart downloads.
type S3Fetcher struct {
	bucket     string
	prefix     string
	downloader *manager.Downloader
}

// S3Config configures the S3 asset source. Endpoint and static keys are
// for S3-compatible stores; leave them empty to use the default AWS
// credential chain.
type S3Config struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Fetcher creates a fetcher backed by the given bucket.
func NewS3Fetcher(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Fetcher{
		bucket:     cfg.Bucket,
		prefix:     cfg.Prefix,
		downloader: manager.NewDownloader(client),
	}, nil
}

// Fetch downloads s3://bucket/prefix/name into destDir, skipping if
// already present.
func (f *S3Fetcher) Fetch(ctx context.Context, name, destDir string) (string, error) {
	path, done := fetched(destDir, name)
	if done {
		slog.Debug("asset already present", "asset", name, "path", path)
		return path, nil
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create asset dir: %w", err)
	}

	key := name
	if f.prefix != "" {
		key = f.prefix + "/" + name
	}

	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create asset file: %w", err)
	}

	n, err := f.downloader.Download(ctx, out, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("download s3 asset %s: %w", key, err)
	}
	if closeErr != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("flush s3 asset %s: %w", key, closeErr)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("finalize asset %s: %w", name, err)
	}
	if err := markFetched(path); err != nil {
		return "", fmt.Errorf("mark asset %s: %w", name, err)
	}

	slog.Info("asset downloaded", "asset", name, "bytes", n, "bucket", f.bucket, "path", filepath.Clean(path))
	return path, nil
}
