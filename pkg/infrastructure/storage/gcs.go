// Package storage archives sync artifacts to Google Cloud Storage.
package storage

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// StorageAdapter writes artifact objects such as snapshot bundles and
// derive reports. All artifacts in this pipeline are JSON.
type StorageAdapter struct {
	Client *storage.Client
}

func (a *StorageAdapter) Write(ctx context.Context, bucketName, objectName string, data []byte) error {
	wc := a.Client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = "application/json"
	if _, err := wc.Write(data); err != nil {
		return fmt.Errorf("write %s/%s: %w", bucketName, objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize %s/%s: %w", bucketName, objectName, err)
	}
	return nil
}
