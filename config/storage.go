package config

import (
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// NewStorage returns nil when mirroring to object storage is disabled.
func NewStorage(cfg MinIO) (*minio.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessID, cfg.SecretAccessKey, ""),
		Secure: false,
	})
}
