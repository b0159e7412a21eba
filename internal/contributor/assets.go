package contributor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/logger"
)

const (
	assetsMappingsEntry = "assets/mappings.json"
	assetsBlobPrefix    = "assets/blobs/"
	assetsMappingsFile  = "mappings.json"
	assetsBlobDir       = "blobs"
)

// ErrAssetNotFound is returned for paths with no mapping.
var ErrAssetNotFound = errors.New("asset not found")

// Assets is a content-addressed store: blobs are kept once under their
// SHA-256 and a mapping table points asset paths at them.
//
// Regular archives only carry the mapping table. Consolidated archives also
// carry every referenced blob, so they can seed an empty store.
type Assets struct {
	root string
	log  logger.Logger

	mu       sync.RWMutex
	mappings map[string]string
}

// NewAssets opens the store at root, reading its mapping table if present.
func NewAssets(root string, log logger.Logger) (*Assets, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := os.MkdirAll(filepath.Join(root, assetsBlobDir), 0o755); err != nil {
		return nil, fmt.Errorf("create asset store %q: %w", root, err)
	}

	a := &Assets{root: root, log: log.With("contributor", KindAssets), mappings: map[string]string{}}
	data, err := os.ReadFile(filepath.Join(root, assetsMappingsFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read asset mappings: %w", err)
	default:
		if err := json.Unmarshal(data, &a.mappings); err != nil {
			return nil, fmt.Errorf("decode asset mappings: %w", err)
		}
	}
	return a, nil
}

func (a *Assets) Name() string { return KindAssets }

// Put stores data under assetPath and returns its hash.
func (a *Assets) Put(assetPath string, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.writeBlob(hash, data); err != nil {
		return "", err
	}
	a.mappings[assetPath] = hash
	if err := a.saveMappings(); err != nil {
		return "", err
	}
	return hash, nil
}

// Get returns the content mapped at assetPath.
func (a *Assets) Get(assetPath string) ([]byte, error) {
	a.mu.RLock()
	hash, ok := a.mappings[assetPath]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, assetPath)
	}
	return os.ReadFile(a.blobPath(hash))
}

// Mappings returns a copy of the path to hash table.
func (a *Assets) Mappings() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.mappings))
	for k, v := range a.mappings {
		out[k] = v
	}
	return out
}

// CreateBackup stores the mapping table only.
func (a *Assets) CreateBackup(_ context.Context, ar *archive.Archive) error {
	a.mu.RLock()
	data, err := json.MarshalIndent(a.mappings, "", "  ")
	n := len(a.mappings)
	a.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode asset mappings: %w", err)
	}
	if err := ar.WriteFile(assetsMappingsEntry, data); err != nil {
		return err
	}
	a.log.Debug("asset mappings stored", "mappings", n)
	return nil
}

// ConsolidateBackup adds every blob the archived mapping table references.
// Blobs missing from the store are reported but do not stop the others.
func (a *Assets) ConsolidateBackup(ctx context.Context, ar *archive.Archive) error {
	mappings, ok, err := readMappings(ar)
	if err != nil || !ok {
		return err
	}

	var errs []error
	for _, hash := range uniqueHashes(mappings) {
		if err := ctx.Err(); err != nil {
			return err
		}
		entry := assetsBlobPrefix + hash
		if ar.Has(entry) {
			continue
		}
		data, err := os.ReadFile(a.blobPath(hash))
		if err != nil {
			errs = append(errs, fmt.Errorf("blob %s: %w", hash, err))
			continue
		}
		if err := ar.WriteFile(entry, data); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

// LoadBackup replaces the mapping table with the archived one and restores
// blobs the store is missing when the archive carries them.
func (a *Assets) LoadBackup(ctx context.Context, ar *archive.Archive) error {
	mappings, ok, err := readMappings(ar)
	if err != nil || !ok {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	missing := 0
	for _, hash := range uniqueHashes(mappings) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := os.Stat(a.blobPath(hash)); err == nil {
			continue
		}
		entry := assetsBlobPrefix + hash
		if !ar.Has(entry) {
			missing++
			continue
		}
		data, err := ar.ReadFile(entry)
		if err != nil {
			return err
		}
		if err := a.writeBlob(hash, data); err != nil {
			return err
		}
	}
	if missing > 0 {
		a.log.Warn("archive references blobs that are not available",
			"archive", filepath.Base(ar.Path()),
			"missing", missing,
		)
	}

	a.mappings = mappings
	return a.saveMappings()
}

func (a *Assets) blobPath(hash string) string {
	return filepath.Join(a.root, assetsBlobDir, hash)
}

func (a *Assets) writeBlob(hash string, data []byte) error {
	p := a.blobPath(hash)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return writeFileAtomic(p, data)
}

// saveMappings must be called with mu held.
func (a *Assets) saveMappings() error {
	data, err := json.MarshalIndent(a.mappings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asset mappings: %w", err)
	}
	return writeFileAtomic(filepath.Join(a.root, assetsMappingsFile), data)
}

func readMappings(ar *archive.Archive) (map[string]string, bool, error) {
	if !ar.Has(assetsMappingsEntry) {
		return nil, false, nil
	}
	data, err := ar.ReadFile(assetsMappingsEntry)
	if err != nil {
		return nil, false, err
	}
	mappings := map[string]string{}
	if err := json.Unmarshal(data, &mappings); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", assetsMappingsEntry, err)
	}
	return mappings, true, nil
}

func uniqueHashes(mappings map[string]string) []string {
	seen := make(map[string]bool, len(mappings))
	hashes := make([]string, 0, len(mappings))
	for _, h := range mappings {
		if !seen[h] && isHash(h) {
			seen[h] = true
			hashes = append(hashes, h)
		}
	}
	sort.Strings(hashes)
	return hashes
}

func isHash(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func writeFileAtomic(dst string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()           //nolint:errcheck // already failing
		os.Remove(tmp.Name()) //nolint:errcheck // already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) //nolint:errcheck // already failing
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
