// Package storage stores job manifests in an S3-compatible bucket.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/target/job-launcher/config"
	"github.com/target/job-launcher/internal/domain/model"
)

const (
	contentTypeJSON = "application/json"
	// maxDownloadBytes caps manifests fetched from foreign hosts.
	maxDownloadBytes = 8 << 20
)

var (
	// ErrEmptyPayload is returned when asked to upload a zero-length object.
	ErrEmptyPayload = errors.New("payload is empty")
	// ErrInvalidObjectURL is returned for URLs that do not name a bucket and key.
	ErrInvalidObjectURL = errors.New("object url must be <endpoint>/<bucket>/<key>")
)

// ClientOptions configures a MinIO-backed Client.
type ClientOptions struct {
	Config config.StorageConfig
	Logger *slog.Logger

	// HTTPClient fetches manifests stored on hosts other than the configured endpoint.
	HTTPClient *http.Client
}

// Client implements core.ObjectStorage with minio-go.
type Client struct {
	mc         *minio.Client
	endpoint   *url.URL
	region     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient builds a Client. It does not contact the server.
func NewClient(opts ClientOptions) (*Client, error) {
	cfg := opts.Config
	if cfg.Endpoint == "" {
		return nil, errors.New("storage endpoint is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		mc:         mc,
		endpoint:   mc.EndpointURL(),
		region:     cfg.Region,
		httpClient: httpClient,
		logger:     logger.With("component", "object_storage"),
	}, nil
}

// EnsureBucket creates bucket when it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", bucket, err)
	}
	c.logger.InfoContext(ctx, "created bucket", "bucket", bucket)
	return nil
}

// ObjectKey is the content-addressed key a payload is stored under.
func ObjectKey(payload []byte) (key, hash string) {
	sum := sha256.Sum256(payload)
	hash = hex.EncodeToString(sum[:])
	return "s3" + hash + ".json", hash
}

// UploadFiles stores each payload under its content hash and returns the
// path-style URL of every stored object.
func (c *Client) UploadFiles(ctx context.Context, payloads [][]byte, bucket string) ([]model.UploadedFile, error) {
	out := make([]model.UploadedFile, 0, len(payloads))
	for i, payload := range payloads {
		if len(payload) == 0 {
			return nil, fmt.Errorf("payload %d: %w", i, ErrEmptyPayload)
		}
		key, hash := ObjectKey(payload)

		_, err := c.mc.PutObject(ctx, bucket, key, bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: contentTypeJSON})
		if err != nil {
			return nil, fmt.Errorf("put %s/%s: %w", bucket, key, err)
		}

		out = append(out, model.UploadedFile{
			Key:  key,
			URL:  c.objectURL(bucket, key),
			Hash: hash,
		})
		c.logger.DebugContext(ctx, "uploaded object", "bucket", bucket, "key", key, "bytes", len(payload))
	}
	return out, nil
}

// DownloadFileFromURL fetches an object by URL. Objects on the configured
// endpoint are read with credentials; other hosts are fetched anonymously.
// A missing object yields nil, nil.
func (c *Client) DownloadFileFromURL(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse object url: %w", err)
	}
	if strings.EqualFold(u.Host, c.endpoint.Host) {
		bucket, key, splitErr := splitObjectPath(u.Path)
		if splitErr != nil {
			return nil, splitErr
		}
		return c.getObject(ctx, bucket, key)
	}
	return c.fetch(ctx, u.String())
}

func (c *Client) getObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.mc.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMissing(err, bucket, key)
	}
	defer func() {
		if cerr := obj.Close(); cerr != nil {
			c.logger.DebugContext(ctx, "close object", "error", cerr)
		}
	}()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMissing(err, bucket, key)
	}
	return body, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", rawURL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return body, nil
}

func (c *Client) objectURL(bucket, key string) string {
	u := url.URL{
		Scheme: c.endpoint.Scheme,
		Host:   c.endpoint.Host,
		Path:   "/" + bucket + "/" + key,
	}
	return u.String()
}

func splitObjectPath(p string) (bucket, key string, err error) {
	bucket, key, ok := strings.Cut(strings.TrimPrefix(p, "/"), "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidObjectURL, p)
	}
	return bucket, key, nil
}

func mapMissing(err error, bucket, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return nil
	}
	return fmt.Errorf("get %s/%s: %w", bucket, key, err)
}
