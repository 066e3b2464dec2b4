package storage

import (
	"context"
	"io"
)

// Backend is the object store the upload pipeline assembles files into.
// Chunk buffers and finished gallery files go through the same interface.
type Backend interface {
	Store(ctx context.Context, path string, reader io.Reader) error
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

type BackendType string

const (
	BackendTypeLocal BackendType = "local"
	BackendTypeS3    BackendType = "s3"
)

type BackendConfig struct {
	Type        BackendType
	LocalPath   string
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string
	S3UseSSL    bool
}

func NewBackend(config *BackendConfig) (Backend, error) {
	switch config.Type {
	case BackendTypeS3:
		return NewS3Storage(config)
	default:
		return NewLocalStorage(config)
	}
}
