// Package replay serves exported dataset snapshots over the same HTTP API as
// the AIS data service, so recorded loads can be replayed offline.
package replay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/unklstewy/ais-scope/pkg/ais"
	"github.com/unklstewy/ais-scope/pkg/dataset"
)

// ErrUnknownFile is returned for names that are not snapshots in the catalog.
var ErrUnknownFile = errors.New("unknown file")

// snapshotExts are the extensions recognised as snapshot files
var snapshotExts = []string{".json", ".msgpack", ".mpk"}

// Catalog is a directory of snapshot files. Decoded snapshots are cached.
type Catalog struct {
	dir string

	mu    sync.Mutex
	cache map[string]*dataset.Dataset
}

// NewCatalog creates a catalog over dir.
func NewCatalog(dir string) *Catalog {
	return &Catalog{
		dir:   dir,
		cache: make(map[string]*dataset.Dataset),
	}
}

// Dir returns the snapshot directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Files lists the snapshots in the catalog sorted by name.
func (c *Catalog) Files() ([]ais.FileInfo, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	files := make([]ais.FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isSnapshot(e.Name()) {
			continue
		}
		files = append(files, ais.FileInfo{Name: e.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Open returns the dataset stored in the snapshot called name.
func (c *Catalog) Open(name string) (*dataset.Dataset, error) {
	// Only plain names inside dir are served
	if name == "" || filepath.Base(name) != name || !isSnapshot(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if d, ok := c.cache[name]; ok {
		return d, nil
	}

	f, err := os.Open(filepath.Join(c.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFile, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	d, _, err := dataset.ReadSnapshot(f, dataset.FormatFromPath(name))
	if err != nil {
		return nil, err
	}
	c.cache[name] = d
	return d, nil
}

func isSnapshot(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range snapshotExts {
		if ext == e {
			return true
		}
	}
	return false
}
