// Package storage holds the durable key/value snapshots the cart is persisted
// to. Every backend stores whole values; there are no partial updates.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("snapshot not found")

type KV interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte) error
}
