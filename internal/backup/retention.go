package backup

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// removeFile is swapped in tests to simulate deletions that fail.
var removeFile = os.Remove

// PruneArchives deletes the oldest archives of a rule so that at most
// maxVersions remain. maxVersions <= 0 means unlimited. A failed deletion
// does not stop the remaining ones; all failures are returned joined.
func PruneArchives(dir, rulePrefix string, maxVersions int, loc *time.Location) ([]string, error) {
	if maxVersions <= 0 {
		return nil, nil
	}

	files, err := ListArchives(dir, rulePrefix, loc)
	if err != nil {
		return nil, err
	}

	excess := len(files) - maxVersions
	if excess <= 0 {
		return nil, nil
	}

	var (
		removed []string
		errs    []error
	)
	for _, f := range files[:excess] {
		if err := removeFile(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("remove %q: %w", f.Name, err))
			continue
		}
		removed = append(removed, f.Name)
	}
	return removed, errors.Join(errs...)
}

// prune runs retention for one rule and logs the outcome.
func (m *Manager) prune(rule *Rule) {
	if rule.MaxVersions <= 0 {
		m.log.Debug("retention unlimited, nothing to prune",
			"rule", rule.Name,
			"max_versions", rule.MaxVersions,
		)
		return
	}

	removed, err := PruneArchives(m.dir, rule.Prefix, rule.MaxVersions, m.loc)
	for _, name := range removed {
		m.log.Info("old backup removed", "rule", rule.Name, "archive", name)
	}
	if len(removed) > 0 {
		m.metrics.ArchivesPruned(rule.Name, len(removed))
	}
	if err != nil {
		m.log.Error("prune old backups failed",
			"rule", rule.Name,
			"error", err.Error(),
		)
	}
}
