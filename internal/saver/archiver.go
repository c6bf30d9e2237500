package saver

import (
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/example/doc-collab-engine/internal/types"
)

// Archiver uploads a content snapshot to object storage after each
// successful save. Failures are logged by the caller and never block or
// fail the save itself.
type Archiver struct {
	client *minio.Client
	bucket string
}

// NewArchiver constructs an Archiver writing to the provided bucket.
func NewArchiver(client *minio.Client, bucket string) *Archiver {
	return &Archiver{client: client, bucket: bucket}
}

// Archive stores the versioned content under documents/<id>/v<version>.txt.
func (a *Archiver) Archive(ctx context.Context, docID types.DocumentID, version int64, content string) error {
	if a.client == nil {
		return fmt.Errorf("object storage client not configured")
	}

	objectPath := fmt.Sprintf("documents/%s/v%d.txt", docID, version)
	reader := strings.NewReader(content)
	_, err := a.client.PutObject(ctx, a.bucket, objectPath, reader, int64(len(content)),
		minio.PutObjectOptions{ContentType: "text/plain; charset=utf-8"})
	if err != nil {
		return fmt.Errorf("upload content snapshot: %w", err)
	}
	return nil
}
