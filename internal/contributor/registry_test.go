package contributor

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/kebairia/contentbackup/internal/config"
)

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	var cfg config.Config
	cfg.Contributors.Files = config.FilesConfig{Enabled: true, Root: filepath.Join(dir, "content"), EntryPrefix: "content/"}
	cfg.Contributors.Assets = config.AssetsConfig{Enabled: true, Root: filepath.Join(dir, "assets")}
	cfg.Contributors.Commands = []config.CommandConfig{
		{Name: "orders", Dump: []string{"pg_dump", "orders"}},
		{Name: "sessions", Dump: []string{"redis-cli", "--rdb", "-"}},
	}

	cs, err := Build(cfg, Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var names []string
	for _, c := range cs {
		names = append(names, c.Name())
	}
	want := []string{"files", "assets", "command:orders", "command:sessions"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("contributors mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_NothingEnabled(t *testing.T) {
	cs, err := Build(config.Config{}, Deps{})
	if err != nil || len(cs) != 0 {
		t.Fatalf("Build = %v, %v", cs, err)
	}
}

func TestBuild_VaultRequired(t *testing.T) {
	var cfg config.Config
	cfg.Contributors.Vault = config.VaultConfig{Enabled: true, Mount: "secret", Paths: []string{"app"}}
	if _, err := Build(cfg, Deps{}); !errors.Is(err, ErrVaultRequired) {
		t.Fatalf("vault contributor error = %v, want ErrVaultRequired", err)
	}

	cfg = config.Config{}
	cfg.Contributors.Commands = []config.CommandConfig{{Name: "db", Dump: []string{"pg_dump"}, VaultRole: "database/creds/backup"}}
	if _, err := Build(cfg, Deps{}); !errors.Is(err, ErrVaultRequired) {
		t.Fatalf("command with vault_role error = %v, want ErrVaultRequired", err)
	}
}

func TestKinds(t *testing.T) {
	want := []string{KindFiles, KindAssets, KindVault, KindCommand}
	if diff := cmp.Diff(want, Kinds()); diff != "" {
		t.Fatalf("kinds mismatch (-want +got):\n%s", diff)
	}
}
