// Package archive implements the container that backup snapshots are stored
// in: a zip file holding named byte entries.
//
// An Archive is opened in one of three modes. Read mode exposes the entries
// of an existing file. Rewrite mode (Create) builds a brand new file. Add
// mode (OpenAdd) keeps the entries of an existing file and lets the caller
// add or replace entries. Both write modes stage their output in a hidden
// temporary file next to the target and rename it into place on Close, so a
// crash never leaves a truncated file under the final name.
package archive

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrEntryNotFound is returned when a named entry is absent from the archive.
	ErrEntryNotFound = errors.New("archive entry not found")

	// ErrWrongMode is returned when an operation is not allowed in the archive's mode.
	ErrWrongMode = errors.New("operation not allowed in this archive mode")

	// ErrDuplicateEntry is returned when the same entry is written twice in one session.
	ErrDuplicateEntry = errors.New("archive entry already written")

	// ErrClosed is returned by operations on a closed archive.
	ErrClosed = errors.New("archive is closed")
)

// Mode describes how an archive was opened.
type Mode int

const (
	ModeRead Mode = iota
	ModeAdd
	ModeRewrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeAdd:
		return "add"
	case ModeRewrite:
		return "rewrite"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Compression selects the method used for entries written by this process.
type Compression string

const (
	Deflate Compression = "deflate"
	Zstd    Compression = "zstd"
)

// ParseCompression maps a configuration value to a Compression. The empty
// string selects Deflate.
func ParseCompression(s string) (Compression, error) {
	switch Compression(s) {
	case "", Deflate:
		return Deflate, nil
	case Zstd:
		return Zstd, nil
	default:
		return "", fmt.Errorf("unknown compression %q", s)
	}
}

func (c Compression) method() uint16 {
	if c == Zstd {
		return zstd.ZipMethodWinZip
	}
	return zip.Deflate
}

// TempPattern is the os.CreateTemp pattern used for staged writes of path.
func TempPattern(path string) string {
	return "." + filepath.Base(path) + ".*.tmp"
}

// Option configures a writable archive.
type Option func(*Archive)

// WithCompression sets the compression used for new entries.
func WithCompression(c Compression) Option {
	return func(a *Archive) {
		if c != "" {
			a.compression = c
		}
	}
}

// WithClock overrides the modification time stamped on new entries.
func WithClock(now func() time.Time) Option {
	return func(a *Archive) {
		if now != nil {
			a.now = now
		}
	}
}

// Archive is a zip container of named entries.
type Archive struct {
	path        string
	mode        Mode
	compression Compression
	now         func() time.Time

	// existing entries (read and add modes)
	reader  *zip.ReadCloser
	entries map[string]*zip.File

	// staged output (add and rewrite modes)
	tmp     *os.File
	writer  *zip.Writer
	written map[string]bool

	closed bool
}

// Open opens an existing archive for reading.
func Open(path string) (*Archive, error) {
	a := &Archive{path: path, mode: ModeRead}
	if err := a.openReader(); err != nil {
		return nil, err
	}
	return a, nil
}

// Create starts a new archive at path, replacing any existing file on Close.
func Create(path string, opts ...Option) (*Archive, error) {
	a := newWritable(path, ModeRewrite, opts)
	if err := a.openWriter(); err != nil {
		return nil, err
	}
	return a, nil
}

// OpenAdd opens path in add mode. Existing entries are kept unless replaced.
// A missing file is treated as an empty archive.
func OpenAdd(path string, opts ...Option) (*Archive, error) {
	a := newWritable(path, ModeAdd, opts)
	if _, err := os.Stat(path); err == nil {
		if err := a.openReader(); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat archive %q: %w", path, err)
	}
	if err := a.openWriter(); err != nil {
		a.closeReader()
		return nil, err
	}
	return a, nil
}

func newWritable(path string, mode Mode, opts []Option) *Archive {
	a := &Archive{
		path:        path,
		mode:        mode,
		compression: Deflate,
		now:         time.Now,
		written:     make(map[string]bool),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Archive) openReader() error {
	rc, err := zip.OpenReader(a.path)
	if err != nil {
		return fmt.Errorf("open archive %q: %w", a.path, err)
	}
	rc.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	a.reader = rc
	a.entries = make(map[string]*zip.File, len(rc.File))
	for _, f := range rc.File {
		// first occurrence wins, matching zip readers in general
		if _, ok := a.entries[f.Name]; !ok {
			a.entries[f.Name] = f
		}
	}
	return nil
}

func (a *Archive) openWriter() error {
	tmp, err := os.CreateTemp(filepath.Dir(a.path), TempPattern(a.path))
	if err != nil {
		return fmt.Errorf("create staging file for %q: %w", a.path, err)
	}
	a.tmp = tmp
	a.writer = zip.NewWriter(tmp)
	a.writer.RegisterCompressor(zstd.ZipMethodWinZip, zstd.ZipCompressor())
	return nil
}

// Path returns the final location of the archive.
func (a *Archive) Path() string { return a.path }

// Mode returns the mode the archive was opened in.
func (a *Archive) Mode() Mode { return a.mode }

// Entries lists the readable entry names in sorted order.
func (a *Archive) Entries() []string {
	names := make([]string, 0, len(a.entries))
	for name := range a.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether a readable entry with the given name exists.
func (a *Archive) Has(name string) bool {
	_, ok := a.entries[name]
	return ok
}

// OpenEntry opens a readable entry. In add mode only the entries that were
// present when the archive was opened can be read.
func (a *Archive) OpenEntry(name string) (io.ReadCloser, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.mode == ModeRewrite {
		return nil, fmt.Errorf("%w: read %q in %s mode", ErrWrongMode, name, a.mode)
	}
	f, ok := a.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrEntryNotFound, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry %q: %w", name, err)
	}
	return rc, nil
}

// ReadFile returns the full contents of a readable entry.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	rc, err := a.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry %q: %w", name, err)
	}
	return data, nil
}

// CreateEntry adds a new entry and returns a writer for its contents. The
// writer is valid until the next CreateEntry, WriteFile or Close call. In add
// mode an entry with the same name as an existing one replaces it.
func (a *Archive) CreateEntry(name string) (io.Writer, error) {
	if a.closed {
		return nil, ErrClosed
	}
	if a.mode == ModeRead {
		return nil, fmt.Errorf("%w: write %q in %s mode", ErrWrongMode, name, a.mode)
	}
	if a.written[name] {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateEntry, name)
	}
	w, err := a.writer.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   a.compression.method(),
		Modified: a.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("create entry %q: %w", name, err)
	}
	a.written[name] = true
	return w, nil
}

// WriteFile adds an entry with the given contents.
func (a *Archive) WriteFile(name string, data []byte) error {
	w, err := a.CreateEntry(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write entry %q: %w", name, err)
	}
	return nil
}

// Close finalizes the archive. For writable archives the staged file is
// synced and renamed over the target path.
func (a *Archive) Close() (err error) {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.mode == ModeRead {
		return a.closeReader()
	}

	defer func() {
		if err != nil {
			a.discard()
		}
	}()

	if err := a.carryOver(); err != nil {
		return err
	}
	if err := a.writer.Close(); err != nil {
		return fmt.Errorf("finish archive %q: %w", a.path, err)
	}
	if err := a.tmp.Chmod(0o640); err != nil {
		return fmt.Errorf("chmod archive %q: %w", a.path, err)
	}
	if err := a.tmp.Sync(); err != nil {
		return fmt.Errorf("sync archive %q: %w", a.path, err)
	}
	if err := a.tmp.Close(); err != nil {
		return fmt.Errorf("close archive %q: %w", a.path, err)
	}
	if err := a.closeReader(); err != nil {
		return err
	}
	if err := os.Rename(a.tmp.Name(), a.path); err != nil {
		return fmt.Errorf("rename archive into %q: %w", a.path, err)
	}
	return nil
}

// Abort discards a writable archive without touching the target path.
func (a *Archive) Abort() {
	if a.closed {
		return
	}
	a.closed = true
	if a.mode == ModeRead {
		a.closeReader() //nolint:errcheck // nothing to report on abort
		return
	}
	a.discard()
}

// carryOver copies the entries that were not replaced in add mode.
func (a *Archive) carryOver() error {
	if a.reader == nil {
		return nil
	}
	for _, f := range a.reader.File {
		if a.written[f.Name] {
			continue
		}
		if err := a.copyEntry(f); err != nil {
			return err
		}
		a.written[f.Name] = true
	}
	return nil
}

func (a *Archive) copyEntry(f *zip.File) error {
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open existing entry %q: %w", f.Name, err)
	}
	defer src.Close()

	dst, err := a.writer.CreateHeader(&zip.FileHeader{
		Name:     f.Name,
		Method:   f.Method,
		Modified: f.Modified,
	})
	if err != nil {
		return fmt.Errorf("copy entry %q: %w", f.Name, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy entry %q: %w", f.Name, err)
	}
	return nil
}

func (a *Archive) closeReader() error {
	if a.reader == nil {
		return nil
	}
	err := a.reader.Close()
	a.reader = nil
	if err != nil {
		return fmt.Errorf("close archive %q: %w", a.path, err)
	}
	return nil
}

func (a *Archive) discard() {
	if a.tmp != nil {
		a.tmp.Close()           //nolint:errcheck // best effort cleanup
		os.Remove(a.tmp.Name()) //nolint:errcheck // best effort cleanup
	}
	a.closeReader() //nolint:errcheck // best effort cleanup
}
