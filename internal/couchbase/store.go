// Package couchbase wraps a single Couchbase collection as a typed document store.
package couchbase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

// Store is a typed view over one collection. Documents are JSON encoded by the SDK.
type Store[T any] struct {
	cluster    *gocb.Cluster
	collection *gocb.Collection
	expiry     time.Duration
}

// NewStore creates a store over collection. A non-zero expiry is applied to
// every inserted document.
func NewStore[T any](cluster *gocb.Cluster, collection *gocb.Collection, expiry time.Duration) (*Store[T], error) {
	if cluster == nil || collection == nil {
		return nil, errors.New("invalid Couchbase parameters: cluster and collection must not be nil")
	}

	return &Store[T]{
		cluster:    cluster,
		collection: collection,
		expiry:     expiry,
	}, nil
}

// Insert creates the document at key. The returned error wraps
// gocb.ErrDocumentExists when the key is already taken.
func (s *Store[T]) Insert(ctx context.Context, key string, value T) error {
	opts := &gocb.InsertOptions{
		Context: ctx,
		Expiry:  s.expiry,
	}

	if _, err := s.collection.Insert(key, value, opts); err != nil {
		return fmt.Errorf("failed to insert document with key %s: %w", key, err)
	}

	return nil
}

// Close closes the cluster connection shared by the store.
func (s *Store[T]) Close() error {
	return s.cluster.Close(nil)
}
