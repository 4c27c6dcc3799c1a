package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// MinIOConfig holds connection settings for the export bucket.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIOStorage struct {
	Client     *minio.Client
	BucketName string
	logger     *zap.Logger
}

// NewMinIOStorage connects to MinIO and creates the bucket when it does not exist.
func NewMinIOStorage(ctx context.Context, cfg MinIOConfig, logger *zap.Logger) (*MinIOStorage, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	minioClient, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := minioClient.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("error checking bucket existence: %w", err)
	}
	if !exists {
		if err := minioClient.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &MinIOStorage{
		Client:     minioClient,
		BucketName: cfg.Bucket,
		logger:     logger,
	}, nil
}

// UploadFile uploads a CSV object to the bucket.
func (m *MinIOStorage) UploadFile(ctx context.Context, objectName string, data io.Reader) error {
	info, err := m.Client.PutObject(ctx, m.BucketName, objectName, data, -1, minio.PutObjectOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return fmt.Errorf("failed to upload file '%s' to MinIO: %w", objectName, err)
	}
	m.logger.Info("file uploaded",
		zap.String("bucket", m.BucketName),
		zap.String("object", objectName),
		zap.Int64("size", info.Size),
	)
	return nil
}
