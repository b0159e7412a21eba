package backup

import (
	"context"

	"github.com/kebairia/contentbackup/internal/archive"
)

// Contributor is a subsystem that stores its own content in backup archives.
// The archive handle is only valid for the duration of the call.
type Contributor interface {
	Name() string
	// LoadBackup restores state from an existing archive. A missing entry is
	// not an error; older archives may predate the contributor.
	LoadBackup(ctx context.Context, ar *archive.Archive) error
	// CreateBackup writes the current state into a fresh archive.
	CreateBackup(ctx context.Context, ar *archive.Archive) error
	// ConsolidateBackup completes a copy of an existing archive so that it
	// can stand on its own, e.g. for export.
	ConsolidateBackup(ctx context.Context, ar *archive.Archive) error
}

// ContributorFuncs adapts plain functions to Contributor. Nil funcs are no-ops.
type ContributorFuncs struct {
	Label       string
	Load        func(ctx context.Context, ar *archive.Archive) error
	Create      func(ctx context.Context, ar *archive.Archive) error
	Consolidate func(ctx context.Context, ar *archive.Archive) error
}

var _ Contributor = ContributorFuncs{}

func (f ContributorFuncs) Name() string { return f.Label }

func (f ContributorFuncs) LoadBackup(ctx context.Context, ar *archive.Archive) error {
	if f.Load == nil {
		return nil
	}
	return f.Load(ctx, ar)
}

func (f ContributorFuncs) CreateBackup(ctx context.Context, ar *archive.Archive) error {
	if f.Create == nil {
		return nil
	}
	return f.Create(ctx, ar)
}

func (f ContributorFuncs) ConsolidateBackup(ctx context.Context, ar *archive.Archive) error {
	if f.Consolidate == nil {
		return nil
	}
	return f.Consolidate(ctx, ar)
}

// operation names used in logs and metrics
const (
	opLoad        = "load"
	opCreate      = "create"
	opConsolidate = "consolidate"
)

// invoke runs op on every contributor in registration order against one
// archive. Failures are logged and collected, never short-circuited.
func (m *Manager) invoke(ctx context.Context, op string, ar *archive.Archive) []ContributorStatus {
	m.log.Debug("invoking contributors",
		"operation", op,
		"archive", ar.Path(),
		"mode", ar.Mode().String(),
		"contributors", len(m.contributors),
	)
	statuses := make([]ContributorStatus, 0, len(m.contributors))
	for _, c := range m.contributors {
		var err error
		switch op {
		case opLoad:
			err = c.LoadBackup(ctx, ar)
		case opCreate:
			err = c.CreateBackup(ctx, ar)
		case opConsolidate:
			err = c.ConsolidateBackup(ctx, ar)
		}

		status := ContributorStatus{Name: c.Name(), OK: err == nil}
		if err != nil {
			status.Error = err.Error()
			m.metrics.ContributorFailed(c.Name(), op)
			m.log.Error("contributor failed",
				"contributor", c.Name(),
				"operation", op,
				"archive", ar.Path(),
				"error", err.Error(),
			)
		}
		statuses = append(statuses, status)
	}
	return statuses
}
