package backup

import (
	"time"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/logger"
)

const (
	// DefaultPersistInterval is how often due rules are evaluated.
	DefaultPersistInterval = 30 * time.Second
	// DefaultPollInterval is the worker wake-up granularity. It only bounds
	// shutdown latency; it does not change the backup cadence.
	DefaultPollInterval = 10 * time.Millisecond
)

// Metrics receives engine events. The metrics package provides a Prometheus
// implementation.
type Metrics interface {
	ArchiveCreated(rule string, at time.Time)
	ArchiveFailed(rule string)
	ArchivesPruned(rule string, n int)
	ContributorFailed(contributor, operation string)
	CycleCompleted(d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ArchiveCreated(string, time.Time) {}
func (nopMetrics) ArchiveFailed(string) {}
func (nopMetrics) ArchivesPruned(string, int) {}
func (nopMetrics) ContributorFailed(string, string) {}
func (nopMetrics) CycleCompleted(time.Duration) {}

// Option lets you override default settings on a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithPersistInterval overrides how often rules are evaluated.
func WithPersistInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.persistInterval = d
		}
	}
}

// WithPollInterval overrides the worker wake-up granularity.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithLocation sets the timezone archive timestamps are written and parsed in.
func WithLocation(loc *time.Location) Option {
	return func(m *Manager) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithCompression sets the entry compression of new archives.
func WithCompression(c archive.Compression) Option {
	return func(m *Manager) {
		if c != "" {
			m.compression = c
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) {
		if mt != nil {
			m.metrics = mt
		}
	}
}

// WithExportDir sets where Consolidate writes standalone copies.
func WithExportDir(dir string) Option {
	return func(m *Manager) {
		if dir != "" {
			m.exportDir = dir
		}
	}
}

// WithExclusiveMarker makes the lock marker create-exclusive. A second
// process then skips its cycle instead of persisting alongside.
func WithExclusiveMarker(exclusive bool) Option {
	return func(m *Manager) {
		m.exclusive = exclusive
	}
}

// WithRecovery controls whether NewManager clears the lock marker and staged
// archives an interrupted persist left behind. It is on by default and should
// be turned off for tools that inspect a directory another process owns.
func WithRecovery(enabled bool) Option {
	return func(m *Manager) {
		m.recovery = enabled
	}
}
