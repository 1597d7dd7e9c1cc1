package storage

import (
	"context"
)

// Storage persists encoded diff images
type Storage interface {
	// Put stores data with the given key and returns where it landed
	Put(ctx context.Context, key string, data []byte) (string, error)
}
