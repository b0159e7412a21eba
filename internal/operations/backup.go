package operations

import (
	"context"
	"fmt"
	"time"
)

// BackupAll writes one archive for every rule right away, regardless of the
// rule intervals, and prunes each rule afterwards.
func (o *Operator) BackupAll(ctx context.Context) error {
	start := time.Now()
	if err := o.manager.Persist(ctx, true); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	o.log.Info("backup finished",
		"directory", o.manager.Dir(),
		"rules", len(o.manager.Rules()),
		"duration", time.Since(start).String(),
	)
	return nil
}

// Consolidate exports a standalone copy of the named archive and returns the
// path of the copy.
func (o *Operator) Consolidate(ctx context.Context, archiveName string) (string, error) {
	return o.manager.Consolidate(ctx, archiveName)
}
