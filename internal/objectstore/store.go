// Package objectstore keeps worker inputs and rendered audio in a NATS
// JetStream object store bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
)

// ErrObjectNotFound is returned when a key is missing from the bucket.
var ErrObjectNotFound = errors.New("object not found")

// NatsObjectStore implements core.ObjectStore on a JetStream bucket.
type NatsObjectStore struct {
	bucket string
	store  jetstream.ObjectStore
}

// New binds to the bucket, creating it first when it does not exist yet.
func New(ctx context.Context, js jetstream.JetStream, bucket string) (*NatsObjectStore, error) {
	store, err := js.CreateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "Text input and rendered audio for " + bucket,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
	})
	if errors.Is(err, jetstream.ErrBucketExists) {
		store, err = js.ObjectStore(ctx, bucket)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open object store bucket '%s': %w", bucket, err)
	}

	return &NatsObjectStore{
		bucket: bucket,
		store:  store,
	}, nil
}

// Bucket returns the bucket name.
func (n *NatsObjectStore) Bucket() string {
	return n.bucket
}

// Download returns the object stored under key.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := n.store.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: '%s' in bucket '%s'", ErrObjectNotFound, key, n.bucket)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return data, nil
}

// Upload stores data under key, replacing any previous object.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	_, err := n.store.PutBytes(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Delete removes the object under key. Missing objects are not an error.
func (n *NatsObjectStore) Delete(ctx context.Context, key string) error {
	err := n.store.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}
