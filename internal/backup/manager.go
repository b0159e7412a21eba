package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/logger"
)

var (
	// ErrAlreadyStarted is returned when registering or starting after the
	// worker is already running.
	ErrAlreadyStarted = errors.New("backup manager already started")

	// ErrInterrupted is returned when the context ends while contributors are
	// writing an archive. The partial archive is discarded.
	ErrInterrupted = errors.New("backup interrupted")

	// ErrInvalidArchiveName is returned by Consolidate for names that are not
	// archives of this engine.
	ErrInvalidArchiveName = errors.New("invalid archive name")
)

// Manager owns the backup directory: it restores the archives found there at
// startup, writes new archives when rules are due and prunes old ones.
//
// Rule state is only touched by the goroutine running Run (or by the caller
// of Tick/Persist when the host drives scheduling itself); those entry points
// must not be used concurrently.
type Manager struct {
	dir             string
	persistInterval time.Duration
	pollInterval    time.Duration
	compression     archive.Compression
	exportDir       string
	exclusive       bool
	recovery        bool
	loc             *time.Location
	now             func() time.Time
	log             logger.Logger
	metrics         Metrics

	rules        []*Rule
	contributors []Contributor
	lastCheck    time.Time
	loaded       bool

	mu      sync.Mutex // guards started, cancel and done
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewManager prepares the backup directory and builds the rule set from cfgs.
func NewManager(dir string, cfgs []config.RuleConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		dir:             dir,
		persistInterval: DefaultPersistInterval,
		pollInterval:    DefaultPollInterval,
		compression:     archive.Deflate,
		exportDir:       os.TempDir(),
		recovery:        true,
		loc:             time.Local,
		now:             time.Now,
		log:             logger.Global(),
		metrics:         nopMetrics{},
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory %q: %w", dir, err)
	}
	if m.recovery {
		m.recoverDirectory()
	}

	m.rules = ParseRules(dir, cfgs, m.loc, m.now(), m.log)
	m.lastCheck = m.now()
	return m, nil
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Rules returns a copy of the rule set.
func (m *Manager) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, r := range m.rules {
		out[i] = *r
	}
	return out
}

// Register adds a contributor. Contributors are invoked in registration order.
func (m *Manager) Register(c Contributor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("register %q: %w", c.Name(), ErrAlreadyStarted)
	}
	m.contributors = append(m.contributors, c)
	m.log.Debug("contributor registered", "contributor", c.Name())
	return nil
}

// Load restores every archive in the backup directory, oldest name first,
// through all contributors. Archives that cannot be opened are skipped. It
// returns the number of archives loaded.
func (m *Manager) Load(ctx context.Context) int {
	m.loaded = true

	entries, err := os.ReadDir(m.dir)
	if err != nil {
		m.log.Error("read backup directory failed", "directory", m.dir, "error", err.Error())
		return 0
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsArchiveName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	loaded := 0
	for _, name := range names {
		path := filepath.Join(m.dir, name)
		ar, err := archive.Open(path)
		if err != nil {
			m.log.Error("could not open backup archive",
				"archive", path,
				"error", err.Error(),
			)
			continue
		}
		m.invoke(ctx, opLoad, ar)
		if err := ar.Close(); err != nil {
			m.log.Warn("close backup archive failed", "archive", path, "error", err.Error())
		}
		loaded++
	}

	m.log.Info("backups loaded", "directory", m.dir, "archives", loaded)
	return loaded
}

// Tick persists when more than the persist interval has passed since the
// last check. It reports whether a cycle ran.
func (m *Manager) Tick(ctx context.Context) bool {
	now := m.now()
	if now.Sub(m.lastCheck) <= m.persistInterval {
		return false
	}
	m.lastCheck = now
	if err := m.Persist(ctx, false); err != nil {
		m.log.Warn("persist cycle skipped", "error", err.Error())
	}
	return true
}

// Persist runs one backup cycle under the lock marker. With force set every
// rule is backed up regardless of its interval. The returned error only
// reports a cycle that could not start; per-rule failures are logged.
func (m *Manager) Persist(ctx context.Context, force bool) error {
	start := time.Now()

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory %q: %w", m.dir, err)
	}
	release, err := acquireMarker(m.dir, m.exclusive)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			m.log.Error("release lock marker failed", "error", err.Error())
		}
	}()

	m.backup(ctx, force)
	m.metrics.CycleCompleted(time.Since(start))
	return nil
}

func (m *Manager) backup(ctx context.Context, force bool) {
	now := m.now()

	for _, rule := range m.rules {
		if !force && !rule.Due(now) {
			m.log.Debug("backup not needed",
				"rule", rule.Name,
				"since_last_backup", now.Unix()-rule.LastBackup,
				"interval", rule.IntervalSeconds,
			)
			continue
		}

		name, err := m.createArchive(ctx, rule, now)
		if err != nil {
			m.metrics.ArchiveFailed(rule.Name)
			m.log.Error("backup failed",
				"rule", rule.Name,
				"error", err.Error(),
			)
			continue
		}

		rule.LastBackup = now.Unix()
		m.metrics.ArchiveCreated(rule.Name, now)
		m.log.Info("backup created", "rule", rule.Name, "archive", name, "forced", force)

		m.prune(rule)
	}
}

// createArchive writes one archive for rule through every contributor.
func (m *Manager) createArchive(ctx context.Context, rule *Rule, now time.Time) (string, error) {
	name := ArchiveName(rule.Prefix, now.In(m.loc))
	path := filepath.Join(m.dir, name)

	ar, err := archive.Create(path,
		archive.WithCompression(m.compression),
		archive.WithClock(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("could not open backup archive %q: %w", name, err)
	}

	start := time.Now()
	statuses := m.invoke(ctx, opCreate, ar)
	if err := ctx.Err(); err != nil {
		ar.Abort()
		return "", fmt.Errorf("%w: %q: %w", ErrInterrupted, name, err)
	}

	manifest := Manifest{
		ID:           uuid.NewString(),
		Rule:         rule.Name,
		Archive:      name,
		CreatedAt:    now,
		DurationMS:   time.Since(start).Milliseconds(),
		Contributors: statuses,
	}
	if err := manifest.Write(ar); err != nil {
		m.log.Warn("archive manifest not written", "archive", name, "error", err.Error())
	}

	if err := ar.Close(); err != nil {
		return "", fmt.Errorf("could not finish backup archive %q: %w", name, err)
	}
	return name, nil
}

// Run is the persist worker. It restores existing archives once, then checks
// the rules every poll interval until ctx is done, and finishes with one
// forced cycle so nothing since the last periodic backup is lost.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.started = true
	m.mu.Unlock()

	if !m.loaded {
		m.Load(ctx)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info("persist worker about to finish")
			if err := m.Persist(context.WithoutCancel(ctx), true); err != nil {
				m.log.Error("final persist failed", "error", err.Error())
			}
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Serve lets a supervisor run the worker.
func (m *Manager) Serve(ctx context.Context) error {
	return m.Run(ctx)
}

// String names the worker in supervisor logs.
func (m *Manager) String() string {
	return "backup-manager(" + m.dir + ")"
}

// Start launches Run on its own goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	m.started = true

	go func() {
		defer close(m.done)
		m.Run(ctx) //nolint:errcheck // Run only returns nil
	}()
	return nil
}

// Shutdown stops a worker launched by Start and waits for its final cycle.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Consolidate produces a standalone copy of an existing archive in the export
// directory and returns its path. It does not touch rule state.
func (m *Manager) Consolidate(ctx context.Context, archiveName string) (string, error) {
	if archiveName != filepath.Base(archiveName) || !IsArchiveName(archiveName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidArchiveName, archiveName)
	}

	src := filepath.Join(m.dir, archiveName)
	dst := filepath.Join(m.exportDir, archiveName)
	if sameFile(src, dst) {
		return "", fmt.Errorf("%w: export directory is the backup directory", ErrInvalidArchiveName)
	}

	if err := os.MkdirAll(m.exportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export directory %q: %w", m.exportDir, err)
	}
	if err := copyFile(src, dst); err != nil {
		m.log.Error("failed to create full backup", "archive", archiveName, "error", err.Error())
		return "", err
	}

	ar, err := archive.OpenAdd(dst, archive.WithCompression(m.compression), archive.WithClock(m.now))
	if err != nil {
		return "", fmt.Errorf("could not open backup archive %q: %w", dst, err)
	}
	m.invoke(ctx, opConsolidate, ar)
	if err := ar.Close(); err != nil {
		return "", fmt.Errorf("could not finish consolidated archive %q: %w", dst, err)
	}

	m.log.Info("consolidated backup created", "archive", archiveName, "path", dst)
	return dst, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create %q: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck // already failing
		return fmt.Errorf("copy %q to %q: %w", src, dst, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %q: %w", dst, err)
	}
	return nil
}
