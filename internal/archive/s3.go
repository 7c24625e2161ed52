// Package archive mirrors rendered videos to an S3-compatible bucket.
package archive

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectPutter is the subset of the S3 client used here.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config configures an S3 archive.
type Config struct {
	Bucket          string
	Prefix          string
	Endpoint        string // non-empty for R2, MinIO and friends
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Client          ObjectPutter // optional, for tests
	Logger          *slog.Logger
}

// S3 uploads finished videos.
type S3 struct {
	client ObjectPutter
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds the archive. Static keys are used when given; otherwise the
// default AWS credential chain applies.
func New(ctx context.Context, cfg Config) (*S3, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}

	client := cfg.Client
	if client == nil {
		var err error
		client, err = newClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	cfg.Logger.Info("archive enabled", "bucket", cfg.Bucket, "endpoint", cfg.Endpoint)
	return &S3{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: cfg.Logger,
	}, nil
}

func newClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	withEndpoint := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		return s3.New(s3.Options{
			Region:      cfg.Region,
			Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		}, withEndpoint), nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, withEndpoint), nil
}

// Key is the object key for a transport file id.
func (a *S3) Key(fileID string) string {
	name := fileID + ".mp4"
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Upload stores the file at localPath under Key(fileID).
func (a *S3) Upload(ctx context.Context, fileID, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", localPath, err)
	}

	key := a.Key(fileID)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String("video/mp4"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	a.logger.Debug("archived video", "key", key, "bytes", info.Size())
	return nil
}
