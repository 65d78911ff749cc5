package identity

import (
	"context"

	"github.com/cloudward/azkit-go/pipeline"
)

// TokenCache is an optional shared token store consulted before a
// credential contacts its identity source and updated after every
// successful acquisition. Implementations live under tokencache/;
// the in-process default needs no shared cache at all.
//
// Cache failures are always treated as best-effort by credentials: a
// broken cache never fails a token request.
type TokenCache interface {
	// Get returns the cached token for key, reporting whether a live
	// entry existed.
	Get(ctx context.Context, key string) (pipeline.AccessToken, bool, error)
	// Put stores a token under key until its expiry.
	Put(ctx context.Context, key string, token pipeline.AccessToken) error
	// Delete drops the entry for key.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the cache.
	Close() error
}
