package contributor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/logger"
)

// DefaultEntryPrefix is where file content lives inside an archive when no
// prefix is configured. Other contributors and the manifest use their own
// top-level names, so content is never stored at the archive root.
const DefaultEntryPrefix = "content/"

// ErrUnsafeEntry is returned for archive entries that would escape the
// restore root.
var ErrUnsafeEntry = errors.New("unsafe archive entry")

// Files snapshots a directory tree. Every regular file under Root is stored
// as <EntryPrefix><slash separated relative path>.
type Files struct {
	root   string
	prefix string
	log    logger.Logger
}

// NewFiles returns a contributor for the tree at root. An empty entryPrefix
// selects DefaultEntryPrefix.
func NewFiles(root, entryPrefix string, log logger.Logger) *Files {
	if log == nil {
		log = logger.Nop()
	}
	entryPrefix = strings.Trim(entryPrefix, "/")
	if entryPrefix == "" {
		entryPrefix = DefaultEntryPrefix
	} else {
		entryPrefix += "/"
	}
	return &Files{root: root, prefix: entryPrefix, log: log.With("contributor", KindFiles)}
}

func (f *Files) Name() string { return KindFiles }

// CreateBackup stores the current tree. A missing root is an empty tree.
func (f *Files) CreateBackup(ctx context.Context, ar *archive.Archive) error {
	count := 0
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == f.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		if err := f.addFile(ar, f.prefix+filepath.ToSlash(rel), p); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("snapshot %s: %w", f.root, err)
	}
	f.log.Debug("content stored", "root", f.root, "files", count)
	return nil
}

func (f *Files) addFile(ar *archive.Archive, entry, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := ar.CreateEntry(entry)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return nil
}

// LoadBackup replaces the tree with the archive's content. The new tree is
// extracted next to root and swapped in with renames, so a failed extraction
// leaves the current tree untouched. Archives without content are skipped.
func (f *Files) LoadBackup(ctx context.Context, ar *archive.Archive) error {
	var entries []string
	for _, name := range ar.Entries() {
		if strings.HasPrefix(name, f.prefix) && !strings.HasSuffix(name, "/") {
			entries = append(entries, name)
		}
	}
	if len(entries) == 0 {
		f.log.Debug("no content in archive", "archive", ar.Path())
		return nil
	}

	parent := filepath.Dir(filepath.Clean(f.root))
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", parent, err)
	}
	staging, err := os.MkdirTemp(parent, "."+filepath.Base(f.root)+".restore-")
	if err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, name := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := safeRelPath(strings.TrimPrefix(name, f.prefix))
		if err != nil {
			return fmt.Errorf("%w: %q", err, name)
		}
		if err := extract(ar, name, filepath.Join(staging, rel)); err != nil {
			return err
		}
	}

	if err := swapDir(f.root, staging); err != nil {
		return err
	}
	f.log.Info("content restored", "root", f.root, "archive", filepath.Base(ar.Path()), "files", len(entries))
	return nil
}

// ConsolidateBackup has nothing to add; the tree is stored in full every time.
func (f *Files) ConsolidateBackup(context.Context, *archive.Archive) error {
	return nil
}

func safeRelPath(name string) (string, error) {
	clean := path.Clean("/" + name)[1:]
	if clean == "" || clean != name || strings.HasPrefix(name, "/") {
		return "", ErrUnsafeEntry
	}
	return filepath.FromSlash(clean), nil
}

func extract(ar *archive.Archive, entry, dst string) error {
	rc, err := ar.OpenEntry(entry)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("extract %s: %w", entry, err)
	}
	return out.Close()
}

// swapDir moves staging into place at root and removes the previous tree.
func swapDir(root, staging string) error {
	old := ""
	if _, err := os.Stat(root); err == nil {
		old = staging + ".old"
		if err := os.Rename(root, old); err != nil {
			return fmt.Errorf("move current tree aside: %w", err)
		}
	}
	if err := os.Rename(staging, root); err != nil {
		if old != "" {
			os.Rename(old, root) //nolint:errcheck // best effort rollback
		}
		return fmt.Errorf("move restored tree into place: %w", err)
	}
	if old != "" {
		return os.RemoveAll(old)
	}
	return nil
}
