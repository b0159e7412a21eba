package operations

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/backup"
	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/logger"
)

// ErrUnknownRule is returned when a rule name does not match any configured rule.
var ErrUnknownRule = errors.New("unknown backup rule")

// RuleStatus summarizes the archives of one rule on disk.
type RuleStatus struct {
	Name        string        `json:"name"`
	Prefix      string        `json:"prefix"`
	Interval    time.Duration `json:"interval"`
	MaxVersions int           `json:"max_versions"`
	LastBackup  time.Time     `json:"last_backup"`
	// NextDue is the first instant the rule is due again, zero when it is
	// due right away.
	NextDue   time.Time            `json:"next_due"`
	Archives  []backup.ArchiveFile `json:"archives"`
	SizeBytes int64                `json:"size_bytes"`
}

// Status inspects the backup directory described by cfg without modifying
// it. It is safe to call while another process owns the directory.
func Status(cfg config.Config) ([]RuleStatus, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rules := backup.ParseRules(cfg.Backup.Directory, cfg.Rules, loc, time.Now(), logger.Nop())
	out := make([]RuleStatus, 0, len(rules))
	for _, r := range rules {
		files, err := backup.ListArchives(cfg.Backup.Directory, r.Prefix, loc)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		st := RuleStatus{
			Name:        r.Name,
			Prefix:      r.Prefix,
			Interval:    time.Duration(r.IntervalSeconds) * time.Second,
			MaxVersions: r.MaxVersions,
			LastBackup:  r.LastBackupTime(),
			Archives:    files,
		}
		if !st.LastBackup.IsZero() {
			// Due is strict, so the rule fires one second after the interval.
			st.NextDue = st.LastBackup.Add(st.Interval + time.Second)
		}
		for _, f := range files {
			if info, err := os.Stat(f.Path); err == nil {
				st.SizeBytes += info.Size()
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// LatestArchive returns the filename of the newest archive of the named rule.
func LatestArchive(cfg config.Config, rule string) (string, error) {
	statuses, err := Status(cfg)
	if err != nil {
		return "", err
	}
	for _, st := range statuses {
		if st.Name != rule {
			continue
		}
		if len(st.Archives) == 0 {
			return "", fmt.Errorf("rule %q: %w", rule, ErrNothingToRestore)
		}
		return st.Archives[len(st.Archives)-1].Name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRule, rule)
}

// Describe reads the manifest stored in one archive of the backup directory.
// The name must be a bare archive filename as listed by Status.
func Describe(cfg config.Config, archiveName string) (*backup.Manifest, error) {
	if archiveName != filepath.Base(archiveName) || !backup.IsArchiveName(archiveName) {
		return nil, fmt.Errorf("%w: %q", backup.ErrInvalidArchiveName, archiveName)
	}

	ar, err := archive.Open(filepath.Join(cfg.Backup.Directory, archiveName))
	if err != nil {
		return nil, err
	}
	defer ar.Close()

	m, err := backup.ReadManifest(ar)
	if err != nil {
		return nil, fmt.Errorf("archive %q: %w", archiveName, err)
	}
	return m, nil
}
