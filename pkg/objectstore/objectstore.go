// Package objectstore publishes run artifacts to MinIO or any S3-compatible store.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"golang.org/x/time/rate"

	"github.com/wonny/edukpi/pkg/config"
	"github.com/wonny/edukpi/pkg/logger"
)

// ErrNotConfigured is returned when MINIO_ENDPOINT is unset
var ErrNotConfigured = errors.New("object store not configured")

// Store is the subset of object storage the publisher needs
type Store interface {
	EnsureBucket(ctx context.Context, bucket string) error
	PutFile(ctx context.Context, bucket, key, filePath, contentType string) error
}

// Client implements Store with the minio-go SDK
type Client struct {
	client *minio.Client
	region string
}

// New creates a MinIO/S3 client from config
func New(cfg config.MinIOConfig) (*Client, error) {
	if !cfg.Enabled() {
		return nil, ErrNotConfigured
	}

	// accept both "host:port" and "http(s)://host:port"
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		endpoint = u.Host
		if u.Scheme == "https" {
			useSSL = true
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &Client{client: client, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket when it does not exist
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("make bucket: %w", err)
	}
	return nil
}

// PutFile uploads a local file
func (c *Client) PutFile(ctx context.Context, bucket, key, filePath, contentType string) error {
	_, err := c.client.FPutObject(ctx, bucket, key, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Publisher uploads the artifacts of a run under <prefix>/<run_id>/
type Publisher struct {
	store   Store
	bucket  string
	prefix  string
	limiter *rate.Limiter // nil = unlimited
	logger  *logger.Logger
}

// NewPublisher creates a publisher for the configured bucket and prefix
func NewPublisher(store Store, cfg config.MinIOConfig, log *logger.Logger) *Publisher {
	p := &Publisher{
		store:  store,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		logger: log.WithField("module", "objectstore"),
	}
	if cfg.UploadRPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(cfg.UploadRPS), cfg.UploadRPS)
	}
	return p
}

// Publish uploads every file and returns the object URIs
func (p *Publisher) Publish(ctx context.Context, runID string, paths []string) ([]string, error) {
	if err := p.store.EnsureBucket(ctx, p.bucket); err != nil {
		return nil, err
	}

	uris := make([]string, 0, len(paths))
	for _, fp := range paths {
		name := filepath.Base(fp)
		key := ObjectKey(p.prefix, runID, name)
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return uris, fmt.Errorf("upload %s: %w", key, err)
			}
		}
		if err := p.store.PutFile(ctx, p.bucket, key, fp, ContentType(name)); err != nil {
			return uris, err
		}
		uris = append(uris, fmt.Sprintf("s3://%s/%s", p.bucket, key))
	}

	p.logger.WithFields(map[string]interface{}{
		"bucket":  p.bucket,
		"run_id":  runID,
		"objects": len(uris),
	}).Info("Artifacts published")

	return uris, nil
}

// ObjectKey joins the key parts, ignoring empty ones
func ObjectKey(prefix, runID, name string) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{prefix, runID, name} {
		p = strings.Trim(p, "/")
		if p != "" {
			parts = append(parts, p)
		}
	}
	return path.Join(parts...)
}

// ContentType guesses the MIME type of an artifact
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	case ".parquet":
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
