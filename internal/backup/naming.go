package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

const (
	// ArchivePrefix starts every archive filename written by the engine.
	ArchivePrefix = "backup-"
	// ArchiveExt ends every archive filename.
	ArchiveExt = ".zip"
	// TimestampLayout is fixed width so that lexical order is chronological.
	TimestampLayout = "2006-01-02_15-04-05"
)

const timestampPattern = `\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}`

// ArchiveFile is an archive on disk that belongs to a rule.
type ArchiveFile struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Time time.Time `json:"time"`
}

// RulePrefix derives the filename prefix of a rule from its display name.
func RulePrefix(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, " ", "_")) + "-"
}

// ArchiveName returns the filename of the archive a rule writes at t.
func ArchiveName(rulePrefix string, t time.Time) string {
	return ArchivePrefix + rulePrefix + t.Format(TimestampLayout) + ArchiveExt
}

func archivePattern(rulePrefix string) *regexp.Regexp {
	return regexp.MustCompile(
		"^" + regexp.QuoteMeta(ArchivePrefix+rulePrefix) + "(" + timestampPattern + ")" + regexp.QuoteMeta(ArchiveExt) + "$",
	)
}

// ParseArchiveTime extracts the timestamp embedded in fileName. It reports
// false when the name does not follow the rule's pattern or the timestamp is
// not a valid calendar time.
func ParseArchiveTime(fileName, rulePrefix string, loc *time.Location) (time.Time, bool) {
	return parseWith(archivePattern(rulePrefix), fileName, loc)
}

func parseWith(re *regexp.Regexp, fileName string, loc *time.Location) (time.Time, bool) {
	m := re.FindStringSubmatch(fileName)
	if m == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(TimestampLayout, m[1], loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// IsArchiveName reports whether name looks like any engine archive
// (backup-*.zip), regardless of rule or timestamp validity.
func IsArchiveName(name string) bool {
	return strings.HasPrefix(name, ArchivePrefix) && strings.HasSuffix(name, ArchiveExt) &&
		len(name) >= len(ArchivePrefix)+len(ArchiveExt)
}

// ListArchives returns the archives in dir that belong to the rule, sorted by
// name. Directories, symlinks and names that do not parse are skipped.
func ListArchives(dir, rulePrefix string, loc *time.Location) ([]ArchiveFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read backup directory %q: %w", dir, err)
	}

	re := archivePattern(rulePrefix)
	var files []ArchiveFile
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		t, ok := parseWith(re, e.Name(), loc)
		if !ok {
			continue
		}
		files = append(files, ArchiveFile{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Time: t,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// MostRecentArchive finds the rule's archive with the latest embedded
// timestamp. On equal timestamps the last one encountered wins.
func MostRecentArchive(dir, rulePrefix string, loc *time.Location) (ArchiveFile, bool, error) {
	files, err := ListArchives(dir, rulePrefix, loc)
	if err != nil {
		return ArchiveFile{}, false, err
	}

	var (
		best  ArchiveFile
		found bool
	)
	for _, f := range files {
		if !found || !f.Time.Before(best.Time) {
			best = f
			found = true
		}
	}
	return best, found, nil
}
