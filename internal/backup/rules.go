package backup

import (
	"strconv"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/spf13/cast"

	"github.com/kebairia/contentbackup/internal/config"
	"github.com/kebairia/contentbackup/internal/logger"
)

// Rule is one configured backup class.
type Rule struct {
	Name            string
	IntervalSeconds int64
	Prefix          string
	MaxVersions     int
	// LastBackup is the epoch second of the newest archive, 0 when none exists.
	LastBackup int64
}

// Due reports whether the rule's interval has elapsed at now.
func (r *Rule) Due(now time.Time) bool {
	return now.Unix()-r.LastBackup > r.IntervalSeconds
}

// LastBackupTime returns LastBackup as a time, or the zero time if the rule
// has never been backed up.
func (r *Rule) LastBackupTime() time.Time {
	if r.LastBackup <= 0 {
		return time.Time{}
	}
	return time.Unix(r.LastBackup, 0)
}

// ParseRules builds the rule set from configuration and rehydrates each
// rule's last backup time from the archives already in dir. now is only used
// to report how long ago each rule last ran. Malformed values become 0;
// nothing here fails.
func ParseRules(dir string, cfgs []config.RuleConfig, loc *time.Location, now time.Time, log logger.Logger) []*Rule {
	if log == nil {
		log = logger.Nop()
	}
	if len(cfgs) == 0 {
		log.Info("no backup rules configured")
	}

	rules := make([]*Rule, 0, len(cfgs))
	for _, c := range cfgs {
		rule := &Rule{
			Name:            c.Name,
			IntervalSeconds: coerceInt(c.BackupInterval),
			Prefix:          RulePrefix(c.Name),
			MaxVersions:     int(coerceInt(c.MaxBackupVersions)),
		}

		latest, found, err := MostRecentArchive(dir, rule.Prefix, loc)
		if err != nil {
			log.Warn("scan for previous backups failed",
				"rule", rule.Name,
				"error", err.Error(),
			)
		}
		if found {
			rule.LastBackup = latest.Time.Unix()
		}

		fields := []any{
			"rule", rule.Name,
			"prefix", rule.Prefix,
			"interval", time.Duration(rule.IntervalSeconds) * time.Second,
			"max_versions", rule.MaxVersions,
			"last_backup", lastBackupAge(rule, now),
		}
		log.Info("backup rule loaded", fields...)

		rules = append(rules, rule)
	}
	return rules
}

// lastBackupAge renders how long before now the rule last ran.
func lastBackupAge(r *Rule, now time.Time) string {
	if r.LastBackup <= 0 {
		return "never"
	}
	ago := now.Sub(r.LastBackupTime()).Truncate(time.Second)
	if ago < 0 {
		ago = 0
	}
	return durafmt.Parse(ago).LimitFirstN(2).String() + " ago"
}

// coerceInt accepts numbers and numeric strings. Anything else is 0.
func coerceInt(v any) int64 {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		n, err := cast.ToInt64E(t)
		if err != nil {
			return 0
		}
		return n
	}
}
