// Package publish uploads finished session archives to object storage.
package publish

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/coral-mesh/idleprof/internal/config"
	"github.com/coral-mesh/idleprof/internal/errors"
)

// putObjectAPI is the subset of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads archives to s3://<bucket>/<prefix>/<session-id>/<name>.
type S3Publisher struct {
	api    putObjectAPI
	bucket string
	prefix string
	logger zerolog.Logger
}

// NewS3Publisher builds a publisher from the default AWS credential chain.
func NewS3Publisher(ctx context.Context, cfg config.S3Config, logger zerolog.Logger) (*S3Publisher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &S3Publisher{
		api:    client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: logger.With().Str("component", "publish").Logger(),
	}, nil
}

// Key returns the object key for an archive of the given session.
func (p *S3Publisher) Key(sessionID, archivePath string) string {
	return path.Join(p.prefix, sessionID, filepath.Base(archivePath))
}

// Publish uploads the archive and returns its s3:// URI.
func (p *S3Publisher) Publish(ctx context.Context, sessionID, archivePath string) (string, error) {
	//nolint:gosec // G304: Path is the archive this process just wrote.
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer errors.DeferClose(p.logger, f, "failed to close archive")

	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := p.Key(sessionID, archivePath)
	_, err = p.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(st.Size()),
		ContentType:   aws.String(contentType(archivePath)),
		Metadata:      map[string]string{"session-id": sessionID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to s3://%s/%s: %w", p.bucket, key, err)
	}

	uri := fmt.Sprintf("s3://%s/%s", p.bucket, key)
	p.logger.Info().Str("uri", uri).Int64("bytes", st.Size()).Msg("Archive published")
	return uri, nil
}

func contentType(name string) string {
	switch filepath.Ext(name) {
	case ".gz", ".tgz":
		return "application/gzip"
	case ".zst":
		return "application/zstd"
	default:
		return "application/octet-stream"
	}
}
