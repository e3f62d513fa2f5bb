// Package storage provides the durable object store captured audio is
// flushed into.
package storage

import "context"

// ObjectStore uploads binary blobs under a caller-chosen key and returns the
// stored path. Implementations must be safe for concurrent use.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}
