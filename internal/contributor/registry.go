// Package contributor provides the built-in backup contributors and builds
// them from configuration.
package contributor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kebairia/contentbackup/internal/backup"
	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/logger"
	"github.com/kebairia/contentbackup/internal/vault"
)

// Contributor kinds. They double as contributor names.
const (
	KindFiles   = "files"
	KindAssets  = "assets"
	KindVault   = "vault"
	KindCommand = "command"
)

// ErrVaultRequired is returned when a contributor needs Vault but no client
// was provided.
var ErrVaultRequired = errors.New("vault client required")

// Deps are the shared services contributors are built with.
type Deps struct {
	Vault *vault.Client
	Log   logger.Logger
}

type initializer func(cfg config.Config, deps Deps) ([]backup.Contributor, error)

// initializers run in this order, which is also the order contributors are
// registered and invoked in.
var initializers = []struct {
	kind string
	init initializer
}{
	{KindFiles, initFiles},
	{KindAssets, initAssets},
	{KindVault, initVault},
	{KindCommand, initCommands},
}

// Kinds lists the known contributor kinds.
func Kinds() []string {
	kinds := make([]string, 0, len(initializers))
	for _, i := range initializers {
		kinds = append(kinds, i.kind)
	}
	return kinds
}

// Build returns the contributors enabled in cfg.
func Build(cfg config.Config, deps Deps) ([]backup.Contributor, error) {
	if deps.Log == nil {
		deps.Log = logger.Nop()
	}

	var out []backup.Contributor
	for _, i := range initializers {
		cs, err := i.init(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("initialize %s contributor: %w", i.kind, err)
		}
		out = append(out, cs...)
	}

	names := make([]string, 0, len(out))
	for _, c := range out {
		names = append(names, c.Name())
	}
	deps.Log.Info("contributors initialized", "contributors", strings.Join(names, ","))
	return out, nil
}

func initFiles(cfg config.Config, deps Deps) ([]backup.Contributor, error) {
	fc := cfg.Contributors.Files
	if !fc.Enabled {
		return nil, nil
	}
	return []backup.Contributor{NewFiles(fc.Root, fc.EntryPrefix, deps.Log)}, nil
}

func initAssets(cfg config.Config, deps Deps) ([]backup.Contributor, error) {
	ac := cfg.Contributors.Assets
	if !ac.Enabled {
		return nil, nil
	}
	a, err := NewAssets(ac.Root, deps.Log)
	if err != nil {
		return nil, err
	}
	return []backup.Contributor{a}, nil
}

func initVault(cfg config.Config, deps Deps) ([]backup.Contributor, error) {
	vc := cfg.Contributors.Vault
	if !vc.Enabled {
		return nil, nil
	}
	if deps.Vault == nil {
		return nil, ErrVaultRequired
	}
	return []backup.Contributor{
		NewVaultSecrets(deps.Vault, vc.Mount, vc.Paths, vc.RestoreOnLoad, deps.Log),
	}, nil
}

func initCommands(cfg config.Config, deps Deps) ([]backup.Contributor, error) {
	var out []backup.Contributor
	for _, cc := range cfg.Contributors.Commands {
		opts := []CommandOption{
			WithRestore(cc.Restore, cc.RestoreOnLoad),
			WithEnv(cc.Env),
			WithTimeout(cc.Timeout),
			WithCommandLogger(deps.Log),
		}
		if cc.VaultRole != "" {
			if deps.Vault == nil {
				return nil, fmt.Errorf("%w: command %q uses vault_role", ErrVaultRequired, cc.Name)
			}
			client, role := deps.Vault, cc.VaultRole
			opts = append(opts, WithCredentials(func(ctx context.Context) (vault.DynamicCredentials, error) {
				return client.GetDynamicCredentials(ctx, role)
			}))
		}
		c, err := NewCommand(cc.Name, cc.Dump, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
