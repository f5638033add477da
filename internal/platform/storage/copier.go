package storage

import (
	"context"
	"errors"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// Copier moves objects between Cloud Storage locations. The return workflow
// uses it to archive evidence photos out of the guest upload bucket once a
// refund settles.
type Copier struct {
	client *gcs.Client
}

func NewCopier(client *gcs.Client) (*Copier, error) {
	if client == nil {
		return nil, errors.New("storage copier: client is required")
	}
	return &Copier{client: client}, nil
}

// CopyObject copies src bucket/object to dst. Copying an object onto itself
// is a no-op so retried archive jobs stay idempotent.
func (c *Copier) CopyObject(ctx context.Context, sourceBucket, sourceObject, destBucket, destObject string) error {
	if c == nil || c.client == nil {
		return errors.New("storage copier: client is not initialised")
	}

	src := objectRef{bucket: strings.TrimSpace(sourceBucket), name: strings.TrimSpace(sourceObject)}
	dst := objectRef{bucket: strings.TrimSpace(destBucket), name: strings.TrimSpace(destObject)}
	if !src.valid() || !dst.valid() {
		return errors.New("storage copier: source and destination must be provided")
	}
	if src == dst {
		return nil
	}

	source := c.client.Bucket(src.bucket).Object(src.name)
	_, err := c.client.Bucket(dst.bucket).Object(dst.name).CopierFrom(source).Run(ctx)
	return err
}

type objectRef struct {
	bucket string
	name   string
}

func (r objectRef) valid() bool {
	return r.bucket != "" && r.name != ""
}
