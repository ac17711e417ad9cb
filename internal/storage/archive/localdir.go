// internal/storage/archive/localdir.go
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalDir implements Backend on a local directory, for single-host
// deployments and tests.
type LocalDir struct {
	dir string
}

// NewLocalDir creates the directory if needed.
func NewLocalDir(dir string) (*LocalDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalDir{dir: dir}, nil
}

func (l *LocalDir) path(name string) string {
	return filepath.Join(l.dir, name+".json")
}

func (l *LocalDir) Write(ctx context.Context, name string, data []byte) error {
	return os.WriteFile(l.path(name), data, 0o644)
}

func (l *LocalDir) Read(ctx context.Context, name string) ([]byte, error) {
	return os.ReadFile(l.path(name))
}

func (l *LocalDir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	return names, nil
}

func (l *LocalDir) Delete(ctx context.Context, name string) error {
	return os.Remove(l.path(name))
}

func (l *LocalDir) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(l.path(name))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}
