package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("touch %s: %v", name, err)
		}
	}
}

func TestRulePrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Daily", "daily-"},
		{"Half Hourly", "half_hourly-"},
		{"  Two  Spaces", "__two__spaces-"},
		{"", "-"},
	}
	for _, tt := range tests {
		if got := RulePrefix(tt.name); got != tt.want {
			t.Errorf("RulePrefix(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestArchiveName_RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 7, 4, 5, 6, 0, time.UTC)

	name := ArchiveName("daily-", ts)
	if name != "backup-daily-2024-03-07_04-05-06.zip" {
		t.Fatalf("ArchiveName = %q", name)
	}

	got, ok := ParseArchiveTime(name, "daily-", time.UTC)
	if !ok {
		t.Fatalf("ParseArchiveTime(%q) did not match", name)
	}
	if !got.Equal(ts) {
		t.Fatalf("ParseArchiveTime = %v, want %v", got, ts)
	}
}

func TestParseArchiveTime_Rejects(t *testing.T) {
	names := []string{
		"backup-daily-not-a-date.zip",
		"backup-daily-2024-13-01_00-00-00.zip",
		"backup-daily-2024-02-30_00-00-00.zip",
		"backup-daily-2024-01-01_00-00-00.zip.tmp",
		"daily-2024-01-01_00-00-00.zip",
		"backup-weekly-2024-01-01_00-00-00.zip",
		"backup-daily-2024-1-01_00-00-00.zip",
	}
	for _, name := range names {
		if _, ok := ParseArchiveTime(name, "daily-", time.UTC); ok {
			t.Errorf("ParseArchiveTime(%q) matched, want no match", name)
		}
	}
}

func TestParseArchiveTime_PrefixIsNotAmbiguous(t *testing.T) {
	// "a-" must not claim the archives of rule "a b" ("a_b-") or "a-b" ("a-b-").
	for _, name := range []string{
		"backup-a_b-2024-01-01_00-00-00.zip",
		"backup-a-b-2024-01-01_00-00-00.zip",
	} {
		if _, ok := ParseArchiveTime(name, "a-", time.UTC); ok {
			t.Errorf("%q matched prefix a-", name)
		}
	}
}

func TestMostRecentArchive(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"backup-daily-2024-01-01_00-00-00.zip",
		"backup-daily-2024-01-03_00-00-00.zip",
		"backup-daily-2024-01-02_23-59-59.zip",
		"backup-daily-not-a-date.zip",
		"backup-daily-2099-99-99_99-99-99.zip",
		"backup-weekly-2030-01-01_00-00-00.zip",
		"running.lock",
	)
	if err := os.Mkdir(filepath.Join(dir, "backup-daily-2031-01-01_00-00-00.zip"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, ok, err := MostRecentArchive(dir, "daily-", time.UTC)
	if err != nil {
		t.Fatalf("MostRecentArchive: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Name != "backup-daily-2024-01-03_00-00-00.zip" {
		t.Fatalf("most recent = %q", got.Name)
	}
	if want := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC); !got.Time.Equal(want) {
		t.Fatalf("time = %v, want %v", got.Time, want)
	}
}

func TestMostRecentArchive_None(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "backup-daily-not-a-date.zip")

	_, ok, err := MostRecentArchive(dir, "daily-", time.UTC)
	if err != nil {
		t.Fatalf("MostRecentArchive: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestListArchives_SortedByName(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir,
		"backup-daily-2024-01-03_00-00-00.zip",
		"backup-daily-2023-12-31_23-00-00.zip",
		"backup-daily-2024-01-01_12-00-00.zip",
	)

	files, err := ListArchives(dir, "daily-", time.UTC)
	if err != nil {
		t.Fatalf("ListArchives: %v", err)
	}
	if len(files) != 3 {
		t.Fatalf("len = %d, want 3", len(files))
	}
	for i := 1; i < len(files); i++ {
		if !files[i-1].Time.Before(files[i].Time) {
			t.Fatalf("files not chronological: %q then %q", files[i-1].Name, files[i].Name)
		}
	}
}

func TestListArchives_MissingDirectory(t *testing.T) {
	if _, err := ListArchives(filepath.Join(t.TempDir(), "nope"), "daily-", time.UTC); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestIsArchiveName(t *testing.T) {
	tests := map[string]bool{
		"backup-daily-2024-01-01_00-00-00.zip": true,
		"backup-daily-not-a-date.zip":          true,
		"backup-.zip":                          true,
		".backup-daily-x.zip.123.tmp":          false,
		"running.lock":                         false,
		"snapshot.zip":                         false,
	}
	for name, want := range tests {
		if got := IsArchiveName(name); got != want {
			t.Errorf("IsArchiveName(%q) = %v, want %v", name, got, want)
		}
	}
}
