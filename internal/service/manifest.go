package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/target/job-launcher/internal/core"
	"github.com/target/job-launcher/internal/domain/model"
	apperrors "github.com/target/job-launcher/internal/errors"
)

const defaultManifestCacheTTL = 24 * time.Hour

// ManifestServiceOptions groups dependencies for ManifestService.
type ManifestServiceOptions struct {
	Storage  core.ObjectStorage   // Required: object storage
	Cache    core.CacheRepository // Optional: read-through cache for Load
	CacheTTL time.Duration        // Optional: defaults to 24h
	Logger   *slog.Logger         // Optional: structured logger
}

// ManifestService persists job manifests and reads them back.
type ManifestService struct {
	storage  core.ObjectStorage
	cache    core.CacheRepository
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewManifestService constructs a new ManifestService.
func NewManifestService(opts ManifestServiceOptions) (*ManifestService, error) {
	if opts.Storage == nil {
		return nil, errors.New("ObjectStorage is required")
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = defaultManifestCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ManifestService{
		storage:  opts.Storage,
		cache:    opts.Cache,
		cacheTTL: ttl,
		logger:   logger.With("component", "manifest_service"),
	}, nil
}

// Save uploads manifest as JSON into bucket and returns where it lives and its hash.
func (s *ManifestService) Save(ctx context.Context, manifest *model.Manifest, bucket string) (string, string, error) {
	if manifest == nil {
		return "", "", apperrors.Validation("manifest is required")
	}
	payload, err := json.Marshal(manifest)
	if err != nil {
		return "", "", fmt.Errorf("encode manifest: %w", err)
	}

	files, err := s.storage.UploadFiles(ctx, [][]byte{payload}, bucket)
	if err != nil {
		s.logger.ErrorContext(ctx, "manifest upload failed", "bucket", bucket, "error", err)
		return "", "", apperrors.Wrap(fmt.Errorf("%w: %w", ErrManifestUpload, err), apperrors.ErrCodeUpstream, ErrManifestUpload.Error())
	}
	if len(files) == 0 || files[0].URL == "" {
		s.logger.ErrorContext(ctx, "manifest upload returned no file", "bucket", bucket)
		return "", "", apperrors.Wrap(ErrManifestUpload, apperrors.ErrCodeUpstream, ErrManifestUpload.Error())
	}

	if s.cache != nil {
		// the object is immutable, so its bytes can seed the cache
		if cerr := s.cache.Set(ctx, core.ManifestCacheKey(files[0].URL), payload, s.cacheTTL); cerr != nil {
			s.logger.WarnContext(ctx, "manifest cache seed failed", "url", files[0].URL, "error", cerr)
		}
	}
	return files[0].URL, files[0].Hash, nil
}

// Load returns the manifest stored at url. Repeated loads of the same URL
// return identical values.
func (s *ManifestService) Load(ctx context.Context, url string) (*model.Manifest, error) {
	body, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	var manifest model.Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", url, err)
	}
	return &manifest, nil
}

func (s *ManifestService) fetch(ctx context.Context, url string) ([]byte, error) {
	key := core.ManifestCacheKey(url)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.WarnContext(ctx, "manifest cache read failed", "url", url, "error", err)
		} else if len(cached) > 0 {
			return cached, nil
		}
	}

	body, err := s.storage.DownloadFileFromURL(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("download manifest %s: %w", url, err)
	}
	if len(body) == 0 {
		return nil, apperrors.Wrap(ErrManifestNotFound, apperrors.ErrCodeNotFound, ErrManifestNotFound.Error())
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, body, s.cacheTTL); err != nil {
			s.logger.WarnContext(ctx, "manifest cache write failed", "url", url, "error", err)
		}
	}
	return body, nil
}
