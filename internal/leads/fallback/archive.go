package fallback

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"lead_waterfall_backend/platform/config"
	"lead_waterfall_backend/platform/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOArchive writes one JSON object per queued lead to an S3-compatible bucket.
type MinIOArchive struct {
	client *minio.Client
	bucket string
}

// NewMinIOArchive connects to the object store and makes sure the bucket exists.
func NewMinIOArchive(ctx context.Context, cfg config.MinIOConfig) (*MinIOArchive, error) {
	if !cfg.IsMinIOEnabled() {
		return nil, fmt.Errorf("MinIO is not configured")
	}

	client, err := minio.New(cfg.GetMinIOEndpoint(), &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.GetMinIOAccessKey(), cfg.GetMinIOSecretKey(), ""),
		Secure: cfg.GetMinIOUseSSL(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	a := &MinIOArchive{client: client, bucket: cfg.GetMinIOBucketFallback()}
	if err := a.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MinIOArchive) ensureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
		}
	}
	return nil
}

// Archive uploads the entry as leads/YYYY/MM/DD/<id>.json.
func (a *MinIOArchive) Archive(ctx context.Context, entry Entry) error {
	payload, err := encodeLead(entry)
	if err != nil {
		return err
	}
	key := objectKey(entry)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(payload), int64(len(payload)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func objectKey(entry Entry) string {
	return path.Join("leads", entry.SavedAt.UTC().Format("2006/01/02"), entry.Lead.ID.String()+".json")
}

// Archiver receives a copy of every queued entry.
type Archiver interface {
	Archive(ctx context.Context, entry Entry) error
}

// ArchivedQueue saves to the local queue first, then copies to the archive.
// An archive failure is logged; the local copy is what the replayer reads.
type ArchivedQueue struct {
	Queue
	archive Archiver
	log     *logger.Logger
}

func NewArchivedQueue(local Queue, archive Archiver, log *logger.Logger) *ArchivedQueue {
	return &ArchivedQueue{Queue: local, archive: archive, log: log}
}

func (q *ArchivedQueue) Save(ctx context.Context, entry Entry) error {
	if err := q.Queue.Save(ctx, entry); err != nil {
		return err
	}
	if err := q.archive.Archive(ctx, entry); err != nil {
		q.log.WithLead(entry.Lead.ID.String()).Warn("fallback archive upload failed", "error", err)
	}
	return nil
}
