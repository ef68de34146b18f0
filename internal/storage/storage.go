// Package storage archives rendered documents to S3-compatible object
// storage. Archival is best-effort and off the request path: a storage
// failure costs the archive copy, never the response.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/bfitz887/pdf-api/internal/config"
)

const contentTypePDF = "application/pdf"

// Archive stores rendered documents
type Archive struct {
	client *minio.Client
	bucket string
}

// New creates an archive client and ensures the bucket exists
func New(cfg *config.StorageConfig) (*Archive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	log.Info().Str("bucket", cfg.Bucket).Msg("Document archive ready")
	return &Archive{client: client, bucket: cfg.Bucket}, nil
}

// Put stores one rendered document and returns its object name
func (a *Archive) Put(ctx context.Context, accountID uuid.UUID, data []byte) (string, error) {
	objectName := fmt.Sprintf("%s/%s.pdf", accountID, uuid.New())

	_, err := a.client.PutObject(ctx, a.bucket, objectName,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentTypePDF})
	if err != nil {
		return "", fmt.Errorf("failed to archive document: %w", err)
	}
	return objectName, nil
}

// ArchiveAsync stores a document off the request path, logging failures
func (a *Archive) ArchiveAsync(accountID uuid.UUID, data []byte) {
	go func() {
		name, err := a.Put(context.Background(), accountID, data)
		if err != nil {
			log.Warn().Err(err).Str("account_id", accountID.String()).
				Msg("Failed to archive document")
			return
		}
		log.Debug().Str("object", name).Msg("Document archived")
	}()
}
