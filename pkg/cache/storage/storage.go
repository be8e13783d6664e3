// Package storage provides the byte-blob stores underneath the token
// cache. A PathStorage knows nothing about tokens: it stores opaque
// content under hierarchical forward-slash keys. The Worker layers JSON
// and encryption on top and is what the cache manager talks to.
package storage

import "context"

// PathStorage is a namespaced byte-blob store. Keys are forward-slash
// delimited path segments; backends map them to directories/files, table
// rows, or keychain items.
//
// Read returns (nil, nil) for absent keys: absence is a normal state for
// a cache, not an error. ReadModifyWrite must be linearizable per key:
// the modify function always sees the latest stored content and its
// result is written back without losing a concurrent writer's update.
type PathStorage interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) error
	ReadModifyWrite(ctx context.Context, path string, modify func([]byte) ([]byte, error)) error
	Delete(ctx context.Context, path string) error

	// List returns every key under prefix (prefix itself included when it
	// is a key).
	List(ctx context.Context, prefix string) ([]string, error)
	// DeleteContent removes every key under prefix.
	DeleteContent(ctx context.Context, prefix string) error
}
