package storage

import (
	"context"
	"path/filepath"

	"upscaler/internal/infra"
)

// Open builds the blob store selected by cfg.StorageDriver. For the
// filesystem driver the returned directory should be served under
// StorageBaseURL; it is empty for minio.
func Open(ctx context.Context, cfg *infra.Config) (BlobStore, string, error) {
	if cfg.StorageDriver == infra.StorageDriverMinio {
		store, err := NewMinioStore(MinioOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.StorageBaseURL,
		})
		if err != nil {
			return nil, "", err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, "", err
		}
		return store, "", nil
	}

	path := cfg.StoragePath
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	store, err := NewFileStore(path, cfg.StorageBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.BasePath(), nil
}
