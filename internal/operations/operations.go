package operations

import (
	"context"
	"fmt"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/backup"
	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/contributor"
	"github.com/kebairia/contentbackup/internal/logger"
	"github.com/kebairia/contentbackup/internal/metrics"
	"github.com/kebairia/contentbackup/internal/vault"
)

// Operator assembles the backup manager, its contributors and the shared
// clients from a loaded configuration.
type Operator struct {
	cfg         config.Config
	vaultClient *vault.Client
	metrics     *metrics.Recorder
	manager     *backup.Manager
	log         logger.Logger
}

// Option lets you override default settings on an Operator.
type Option func(*settings)

type settings struct {
	log       logger.Logger
	recovery  bool
	exportDir string
	extra     []backup.Contributor
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(s *settings) {
		if log != nil {
			s.log = log
		}
	}
}

// WithRecovery controls whether leftovers of an interrupted persist are
// cleared at startup. Only the process owning the backup directory should
// enable it.
func WithRecovery(enabled bool) Option {
	return func(s *settings) {
		s.recovery = enabled
	}
}

// WithExportDir overrides backup.export_directory.
func WithExportDir(dir string) Option {
	return func(s *settings) {
		if dir != "" {
			s.exportDir = dir
		}
	}
}

// WithContributors registers additional contributors after the configured ones.
func WithContributors(cs ...backup.Contributor) Option {
	return func(s *settings) {
		s.extra = append(s.extra, cs...)
	}
}

// NewOperator validates cfg, connects to Vault when a contributor needs it
// and registers every enabled contributor with a new backup manager.
func NewOperator(ctx context.Context, cfg config.Config, opts ...Option) (*Operator, error) {
	s := &settings{
		log:       logger.Global(),
		recovery:  true,
		exportDir: cfg.Backup.ExportDirectory,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	compression, err := archive.ParseCompression(cfg.Backup.Compression)
	if err != nil {
		return nil, err
	}

	var vaultClient *vault.Client
	if cfg.NeedsVault() {
		vc := cfg.Contributors.Vault
		vaultClient, err = vault.NewClient(ctx,
			vault.WithAddress(vc.Address),
			vault.WithToken(vc.Token),
			vault.WithAppRole(vc.ApproleID, vc.ApproleName),
		)
		if err != nil {
			return nil, fmt.Errorf("vault client init: %w", err)
		}
		s.log.Info("vault client ready", "address", vaultClient.Address())
	}

	recorder := metrics.New()
	manager, err := backup.NewManager(cfg.Backup.Directory, cfg.Rules,
		backup.WithLogger(s.log.With("component", "backup")),
		backup.WithPersistInterval(cfg.Backup.PersistInterval),
		backup.WithPollInterval(cfg.Backup.PollInterval),
		backup.WithCompression(compression),
		backup.WithLocation(loc),
		backup.WithMetrics(recorder),
		backup.WithExportDir(s.exportDir),
		backup.WithExclusiveMarker(cfg.Backup.ExclusiveMarker),
		backup.WithRecovery(s.recovery),
	)
	if err != nil {
		return nil, err
	}

	contributors, err := contributor.Build(cfg, contributor.Deps{
		Vault: vaultClient,
		Log:   s.log.With("component", "contributor"),
	})
	if err != nil {
		return nil, err
	}
	for _, c := range append(contributors, s.extra...) {
		if err := manager.Register(c); err != nil {
			return nil, err
		}
	}

	return &Operator{
		cfg:         cfg,
		vaultClient: vaultClient,
		metrics:     recorder,
		manager:     manager,
		log:         s.log,
	}, nil
}

// Manager returns the backup manager.
func (o *Operator) Manager() *backup.Manager { return o.manager }

// Metrics returns the Prometheus recorder the manager reports to.
func (o *Operator) Metrics() *metrics.Recorder { return o.metrics }

// Config returns the configuration the Operator was built from.
func (o *Operator) Config() config.Config { return o.cfg }
