// internal/storage/save/save.go
package save

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newthinker/marketsim/internal/core"
)

// Store defines the interface for save-game persistence.
type Store interface {
	// Save persists a serialized snapshot under a name.
	Save(name string, data []byte) error

	// Load retrieves a snapshot by name.
	Load(name string) ([]byte, error)

	// List returns the available saves, newest first.
	List() ([]Info, error)

	// Delete removes a save.
	Delete(name string) error
}

// Info describes one stored save.
type Info struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	SavedAt time.Time `json:"saved_at"`
}

// FileStore keeps each save as one JSON file in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating save directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes atomically: a temp file is renamed over the target so a
// crash mid-write never corrupts an existing save.
func (s *FileStore) Save(name string, data []byte) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".save-*")
	if err != nil {
		return fmt.Errorf("creating temp save: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing save: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing save: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("committing save: %w", err)
	}
	return nil
}

// Load reads a save by name.
func (s *FileStore) Load(name string) ([]byte, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, core.WrapError(core.ErrBadSnapshot, fmt.Errorf("no save named %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("reading save: %w", err)
	}
	return data, nil
}

// List returns available saves sorted newest first.
func (s *FileStore) List() ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing saves: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:    strings.TrimSuffix(e.Name(), ".json"),
			Size:    fi.Size(),
			SavedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SavedAt.After(out[j].SavedAt) })
	return out, nil
}

// Delete removes a save by name.
func (s *FileStore) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); os.IsNotExist(err) {
		return core.WrapError(core.ErrBadSnapshot, fmt.Errorf("no save named %q", name))
	} else if err != nil {
		return fmt.Errorf("deleting save: %w", err)
	}
	return nil
}

// path validates the name and maps it into the store directory. Names must
// not escape the directory.
func (s *FileStore) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", core.WrapError(core.ErrConfigInvalid, fmt.Errorf("invalid save name %q", name))
	}
	return filepath.Join(s.dir, name+".json"), nil
}
