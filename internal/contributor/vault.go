package contributor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/goccy/go-json"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/logger"
	"github.com/kebairia/contentbackup/internal/vault"
)

const vaultSecretsEntry = "vault/secrets.json"

// KVClient is the part of the Vault client the secrets contributor uses.
type KVClient interface {
	ReadKV(ctx context.Context, mount, path string) (vault.KVSecret, error)
	WriteKV(ctx context.Context, mount, path string, data map[string]any) error
}

// SecretSnapshot is one archived KV secret.
type SecretSnapshot struct {
	Version int            `json:"version"`
	Data    map[string]any `json:"data"`
}

// VaultSecrets snapshots KV v2 secrets. Restored snapshots are kept in memory
// and only written back to Vault when restoreOnLoad is set.
type VaultSecrets struct {
	client        KVClient
	mount         string
	paths         []string
	restoreOnLoad bool
	log           logger.Logger

	mu       sync.RWMutex
	restored map[string]SecretSnapshot
}

// NewVaultSecrets returns a contributor for the given secret paths.
func NewVaultSecrets(client KVClient, mount string, paths []string, restoreOnLoad bool, log logger.Logger) *VaultSecrets {
	if log == nil {
		log = logger.Nop()
	}
	return &VaultSecrets{
		client:        client,
		mount:         mount,
		paths:         paths,
		restoreOnLoad: restoreOnLoad,
		log:           log.With("contributor", KindVault, "mount", mount),
	}
}

func (v *VaultSecrets) Name() string { return KindVault }

// Restored returns the snapshots read by the last load, keyed by path.
func (v *VaultSecrets) Restored() map[string]SecretSnapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]SecretSnapshot, len(v.restored))
	for k, s := range v.restored {
		out[k] = s
	}
	return out
}

// CreateBackup reads every configured path. Missing secrets are skipped;
// read failures are returned after the readable ones have been stored.
func (v *VaultSecrets) CreateBackup(ctx context.Context, ar *archive.Archive) error {
	snapshot := make(map[string]SecretSnapshot, len(v.paths))
	var errs []error
	for _, p := range v.paths {
		secret, err := v.client.ReadKV(ctx, v.mount, p)
		if errors.Is(err, vault.ErrSecretNotFound) {
			v.log.Debug("secret not found, skipping", "path", p)
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snapshot[p] = SecretSnapshot{Version: secret.Version, Data: secret.Data}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode secrets: %w", err)
	}
	if err := ar.WriteFile(vaultSecretsEntry, data); err != nil {
		return err
	}
	v.log.Debug("secrets stored", "secrets", len(snapshot))
	return errors.Join(errs...)
}

// LoadBackup reads the archived secrets and, when configured, writes them
// back to Vault as new versions.
func (v *VaultSecrets) LoadBackup(ctx context.Context, ar *archive.Archive) error {
	if !ar.Has(vaultSecretsEntry) {
		return nil
	}
	data, err := ar.ReadFile(vaultSecretsEntry)
	if err != nil {
		return err
	}
	snapshot := map[string]SecretSnapshot{}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode %s: %w", vaultSecretsEntry, err)
	}

	v.mu.Lock()
	v.restored = snapshot
	v.mu.Unlock()

	if !v.restoreOnLoad {
		v.log.Info("secrets loaded", "archive", filepath.Base(ar.Path()), "secrets", len(snapshot))
		return nil
	}

	paths := make([]string, 0, len(snapshot))
	for p := range snapshot {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var errs []error
	for _, p := range paths {
		if err := v.client.WriteKV(ctx, v.mount, p, snapshot[p].Data); err != nil {
			errs = append(errs, err)
			continue
		}
	}
	v.log.Info("secrets restored to vault",
		"archive", filepath.Base(ar.Path()),
		"secrets", len(paths)-len(errs),
	)
	return errors.Join(errs...)
}

// ConsolidateBackup has nothing to add; secrets are stored in full.
func (v *VaultSecrets) ConsolidateBackup(context.Context, *archive.Archive) error {
	return nil
}
