package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func writeArchive(t *testing.T, path string, entries map[string]string, opts ...Option) {
	t.Helper()

	a, err := Create(path, opts...)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for name, body := range entries {
		if err := a.WriteFile(name, []byte(body)); err != nil {
			t.Fatalf("WriteFile(%q): %v", name, err)
		}
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func readAll(t *testing.T, path string) map[string]string {
	t.Helper()

	a, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer a.Close()

	got := make(map[string]string)
	for _, name := range a.Entries() {
		data, err := a.ReadFile(name)
		if err != nil {
			t.Fatalf("ReadFile(%q): %v", name, err)
		}
		got[name] = string(data)
	}
	return got
}

func TestCreateAndOpen_RoundTrip(t *testing.T) {
	for _, c := range []Compression{Deflate, Zstd} {
		t.Run(string(c), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "snap.zip")
			want := map[string]string{
				"settings.json":        `{"a":1}`,
				"content/dir/file.txt": strings.Repeat("payload ", 100),
			}
			writeArchive(t, path, want, WithCompression(c))

			if diff := cmp.Diff(want, readAll(t, path)); diff != "" {
				t.Fatalf("entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCreate_LeavesNoFileUntilClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snap.zip")

	a, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := a.WriteFile("x", []byte("y")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("target exists before Close: %v", err)
	}
	a.Abort()

	files, _ := os.ReadDir(dir)
	if len(files) != 0 {
		t.Fatalf("Abort left %d files behind", len(files))
	}
}

func TestOpenAdd_KeepsAndReplacesEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.zip")
	writeArchive(t, path, map[string]string{
		"keep":    "old-keep",
		"replace": "old-replace",
	}, WithCompression(Zstd))

	a, err := OpenAdd(path)
	if err != nil {
		t.Fatalf("OpenAdd: %v", err)
	}
	old, err := a.ReadFile("replace")
	if err != nil {
		t.Fatalf("ReadFile existing: %v", err)
	}
	if string(old) != "old-replace" {
		t.Fatalf("existing entry = %q", old)
	}
	if err := a.WriteFile("replace", []byte("new-replace")); err != nil {
		t.Fatalf("WriteFile replace: %v", err)
	}
	if err := a.WriteFile("added", []byte("new-added")); err != nil {
		t.Fatalf("WriteFile added: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := map[string]string{
		"keep":    "old-keep",
		"replace": "new-replace",
		"added":   "new-added",
	}
	if diff := cmp.Diff(want, readAll(t, path)); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenAdd_MissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.zip")

	a, err := OpenAdd(path)
	if err != nil {
		t.Fatalf("OpenAdd: %v", err)
	}
	if len(a.Entries()) != 0 {
		t.Fatalf("expected no entries, got %v", a.Entries())
	}
	if err := a.WriteFile("one", []byte("1")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := readAll(t, path); got["one"] != "1" {
		t.Fatalf("entries = %v", got)
	}
}

func TestModeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snap.zip")
	writeArchive(t, path, map[string]string{"a": "b"})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if err := r.WriteFile("x", nil); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("write in read mode: got %v, want ErrWrongMode", err)
	}
	if _, err := r.ReadFile("missing"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("missing entry: got %v, want ErrEntryNotFound", err)
	}

	w, err := Create(filepath.Join(t.TempDir(), "other.zip"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Abort()

	if _, err := w.ReadFile("a"); !errors.Is(err, ErrWrongMode) {
		t.Fatalf("read in rewrite mode: got %v, want ErrWrongMode", err)
	}
	if err := w.WriteFile("dup", nil); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := w.WriteFile("dup", nil); !errors.Is(err, ErrDuplicateEntry) {
		t.Fatalf("duplicate write: got %v, want ErrDuplicateEntry", err)
	}
}

func TestOpen_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error opening a non-zip file")
	}
}

func TestParseCompression(t *testing.T) {
	tests := []struct {
		in      string
		want    Compression
		wantErr bool
	}{
		{"", Deflate, false},
		{"deflate", Deflate, false},
		{"zstd", Zstd, false},
		{"lzma", "", true},
	}
	for _, tt := range tests {
		got, err := ParseCompression(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseCompression(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseCompression(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
