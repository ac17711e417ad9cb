// internal/storage/archive/archive.go
package archive

import "context"

// Backend mirrors save games to cold storage, so a long campaign survives
// the host. The primary save store stays local; the backend is a copy.
type Backend interface {
	// Write stores a serialized save under its name.
	Write(ctx context.Context, name string, data []byte) error

	// Read retrieves a save by name.
	Read(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all archived saves.
	List(ctx context.Context) ([]string, error)

	// Delete removes an archived save.
	Delete(ctx context.Context, name string) error

	// Exists checks whether a save is archived.
	Exists(ctx context.Context, name string) (bool, error)
}
