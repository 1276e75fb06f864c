// Package scratch manages the temporary files of a single computation.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/forest-guardian/ldn-engine/internal/log"
)

// Dir is a per-call directory removed by Cleanup.
type Dir struct {
	path string
}

func New(root string) (*Dir, error) {
	if root == "" {
		root = os.TempDir()
	}
	path := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	return &Dir{path: path}, nil
}

func (d *Dir) Root() string { return d.path }

// Path returns a fresh file name with the given extension, e.g. ".tif".
func (d *Dir) Path(ext string) string {
	return filepath.Join(d.path, uuid.NewString()+ext)
}

// WriteFile stores data under a fresh name and returns the path.
func (d *Dir) WriteFile(ext string, data []byte) (string, error) {
	p := d.Path(ext)
	if err := os.WriteFile(p, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write scratch file: %w", err)
	}
	return p, nil
}

func (d *Dir) Cleanup() {
	if err := os.RemoveAll(d.path); err != nil {
		log.Warn("[scratch] cleanup failed", zap.String("dir", d.path), zap.Error(err))
	}
}
