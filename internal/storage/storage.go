// Package storage abstracts the blob store holding template binaries,
// uploaded source documents and generated artifacts.
package storage

import "context"

// StorageError reports a blob operation failure. Upload failures are fatal
// to a generation attempt; delete failures are logged and swallowed by
// callers per the retention policy.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return "storage: " + e.Op + " " + e.Key + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// Storage is the blob store interface the engine and retention policy use.
type Storage interface {
	// Upload writes a binary under key and returns its public URL.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// Download fetches a binary by key (template binaries at fill time).
	Download(ctx context.Context, key string) ([]byte, error)
	// Delete removes one object. Callers treat failures as non-fatal.
	Delete(ctx context.Context, key string) error
	// KeyFromURL maps a public URL produced by Upload back to its key.
	KeyFromURL(url string) string
}
