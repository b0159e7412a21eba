package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write YAML: %v", err)
	}
	return path
}

func TestLoad_ParsesRulesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
backup:
  directory: "/tmp/backups"
  compression: zstd
backups:
  - name: Daily
    backupInterval: 86400
    maxBackupVersions: "7"
  - Name: "Half Hourly"
    backupInterval: "1800"
contributors:
  files:
    enabled: true
    root: /srv/content
`)

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Backup.Directory != "/tmp/backups" {
		t.Errorf("Directory = %q", cfg.Backup.Directory)
	}
	if cfg.Backup.PersistInterval != 30*time.Second {
		t.Errorf("PersistInterval = %v, want 30s", cfg.Backup.PersistInterval)
	}
	if cfg.Backup.PollInterval != 10*time.Millisecond {
		t.Errorf("PollInterval = %v, want 10ms", cfg.Backup.PollInterval)
	}
	if cfg.Contributors.Files.EntryPrefix != "content/" {
		t.Errorf("EntryPrefix = %q", cfg.Contributors.Files.EntryPrefix)
	}
	if len(cfg.Rules) != 2 {
		t.Fatalf("len(Rules) = %d, want 2", len(cfg.Rules))
	}
	if cfg.Rules[0].Name != "Daily" || cfg.Rules[1].Name != "Half Hourly" {
		t.Errorf("rule names = %q, %q", cfg.Rules[0].Name, cfg.Rules[1].Name)
	}
	if cfg.Rules[0].MaxBackupVersions != "7" {
		t.Errorf("MaxBackupVersions = %#v, want string \"7\"", cfg.Rules[0].MaxBackupVersions)
	}
	if cfg.Rules[1].MaxBackupVersions != nil {
		t.Errorf("missing MaxBackupVersions = %#v, want nil", cfg.Rules[1].MaxBackupVersions)
	}
}

func TestLoad_MergesIncludes(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(inc, []byte("backup:\n  persist_interval: 5s\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, "include:\n  - "+inc+"\nbackup:\n  directory: /data\n")

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Backup.PersistInterval != 5*time.Second {
		t.Errorf("PersistInterval = %v, want 5s", cfg.Backup.PersistInterval)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"unknown key", "bogus: 1\n", ErrLoadConfig},
		{"bad compression", "backup:\n  compression: lzma\n", ErrValidateConfig},
		{"bad timezone", "backup:\n  timezone: Mars/Olympus\n", ErrValidateConfig},
		{"files without root", "contributors:\n  files:\n    enabled: true\n", ErrValidateConfig},
		{"files with empty entry prefix", "contributors:\n  files:\n    enabled: true\n    root: /srv\n    entry_prefix: \"\"\n", ErrValidateConfig},
		{"files with slash entry prefix", "contributors:\n  files:\n    enabled: true\n    root: /srv\n    entry_prefix: /\n", ErrValidateConfig},
		{"files inside vault entries", "contributors:\n  files:\n    enabled: true\n    root: /srv\n    entry_prefix: vault/content/\n", ErrValidateConfig},
		{"command without dump", "contributors:\n  commands:\n    - name: pg\n", ErrValidateConfig},
		{"command without name", "contributors:\n  commands:\n    - dump: [pg_dump]\n", ErrValidateConfig},
		{"duplicate command", "contributors:\n  commands:\n    - {name: pg, dump: [a]}\n    - {name: pg, dump: [b]}\n", ErrValidateConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			err := cfg.Load(writeConfig(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Load error = %v, want %v", err, tt.want)
			}
		})
	}

	var cfg Config
	if err := cfg.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, ErrLoadConfig) {
		t.Fatalf("missing file error = %v, want ErrLoadConfig", err)
	}
}

func TestLoad_Commands(t *testing.T) {
	path := writeConfig(t, `
contributors:
  commands:
    - name: orders-db
      dump: [pg_dump, --format=custom, orders]
      restore: [pg_restore, --clean, --dbname=orders]
      env:
        PGHOST: db.internal
      timeout: 10m
      vault_role: database/creds/backup
`)

	var cfg Config
	if err := cfg.Load(path); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Contributors.Commands) != 1 {
		t.Fatalf("len(Commands) = %d, want 1", len(cfg.Contributors.Commands))
	}
	cmd := cfg.Contributors.Commands[0]
	if cmd.Name != "orders-db" || len(cmd.Dump) != 3 || cmd.Dump[0] != "pg_dump" {
		t.Errorf("command = %+v", cmd)
	}
	if cmd.Timeout != 10*time.Minute {
		t.Errorf("Timeout = %v, want 10m", cmd.Timeout)
	}
	if cmd.Env["pghost"] != "db.internal" && cmd.Env["PGHOST"] != "db.internal" {
		t.Errorf("Env = %v", cmd.Env)
	}
	if !cfg.NeedsVault() {
		t.Error("NeedsVault = false with a vault_role set")
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	var cfg Config
	if err := cfg.Load(filepath.Join("..", "..", "configs", "config.yaml")); err != nil {
		t.Fatalf("sample config does not load: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		t.Fatal(err)
	}
	if loc != time.UTC {
		t.Fatalf("sample timezone = %v, want UTC", loc)
	}
}
