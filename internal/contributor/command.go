package contributor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/logger"
	"github.com/kebairia/contentbackup/internal/vault"
)

const (
	commandEntryPrefix = "commands/"
	commandEntrySuffix = ".dump"

	// Environment variables carrying credentials from a Vault role.
	EnvUsername = "CBK_USERNAME"
	EnvPassword = "CBK_PASSWORD"

	stderrLimit = 4 << 10
	waitDelay   = 5 * time.Second
)

var (
	// ErrTimeout is the cause attached to commands that exceed their timeout.
	ErrTimeout = errors.New("command timed out")

	ErrDumpFailed    = errors.New("dump failed")
	ErrRestoreFailed = errors.New("restore failed")
)

// CredentialsFunc issues credentials for a single command run.
type CredentialsFunc func(ctx context.Context) (vault.DynamicCredentials, error)

// CommandOption lets you override default settings on a Command.
type CommandOption func(*Command)

// Command stores the standard output of an external dump tool, e.g.
// `pg_dump --format=custom orders`, and can feed it back to a restore tool.
type Command struct {
	name          string
	dump          []string
	restore       []string
	env           map[string]string
	timeout       time.Duration
	restoreOnLoad bool
	credentials   CredentialsFunc
	log           logger.Logger
}

// NewCommand returns a contributor running dump on every backup.
func NewCommand(name string, dump []string, opts ...CommandOption) (*Command, error) {
	if name == "" || len(dump) == 0 {
		return nil, fmt.Errorf("command contributor needs a name and a dump command")
	}
	c := &Command{
		name:    name,
		dump:    dump,
		timeout: 30 * time.Minute,
		log:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("contributor", c.Name())
	return c, nil
}

// WithRestore sets the command that receives a stored dump on stdin. It only
// runs on load when enabled is set.
func WithRestore(argv []string, enabled bool) CommandOption {
	return func(c *Command) {
		c.restore = argv
		c.restoreOnLoad = enabled && len(argv) > 0
	}
}

// WithEnv adds environment variables. Values may reference other variables
// as ${NAME}, including CBK_USERNAME and CBK_PASSWORD. Names are upper-cased.
func WithEnv(env map[string]string) CommandOption {
	return func(c *Command) {
		c.env = env
	}
}

// WithTimeout overrides how long a single run may take.
func WithTimeout(d time.Duration) CommandOption {
	return func(c *Command) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCredentials sets where per-run credentials come from.
func WithCredentials(fn CredentialsFunc) CommandOption {
	return func(c *Command) {
		c.credentials = fn
	}
}

// WithCommandLogger sets the logger.
func WithCommandLogger(log logger.Logger) CommandOption {
	return func(c *Command) {
		if log != nil {
			c.log = log
		}
	}
}

func (c *Command) Name() string { return KindCommand + ":" + c.name }

func (c *Command) entry() string {
	return commandEntryPrefix + c.name + commandEntrySuffix
}

// CreateBackup runs the dump tool and stores its output. The output is spooled
// to a temporary file first so a failed run leaves no partial entry.
func (c *Command) CreateBackup(ctx context.Context, ar *archive.Archive) error {
	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	env, err := c.environ(ctx)
	if err != nil {
		return err
	}

	spool, err := os.CreateTemp("", "cbk-"+sanitize(c.name)+"-*.dump")
	if err != nil {
		return fmt.Errorf("create spool file: %w", err)
	}
	defer func() {
		spool.Close()           //nolint:errcheck // removed below
		os.Remove(spool.Name()) //nolint:errcheck // temp file
	}()

	cmd := exec.CommandContext(ctx, c.dump[0], c.dump[1:]...)
	cmd.Env = env
	cmd.Stdout = spool
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	c.log.Info("dump started", "command", c.dump[0])
	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			err = cause
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrDumpFailed, c.dump[0], err, stderr.String())
	}

	size, err := spool.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w, err := ar.CreateEntry(c.entry())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, spool); err != nil {
		return fmt.Errorf("store dump: %w", err)
	}

	c.log.Info("dump completed",
		"entry", c.entry(),
		"size_bytes", size,
		"duration", time.Since(startTime).String(),
	)
	return nil
}

// LoadBackup feeds the stored dump to the restore tool when restore on load
// is enabled. Archives are loaded oldest first, so the newest dump is the
// last one applied.
func (c *Command) LoadBackup(ctx context.Context, ar *archive.Archive) error {
	if !ar.Has(c.entry()) {
		return nil
	}
	if !c.restoreOnLoad {
		c.log.Debug("dump available, restore on load disabled", "archive", filepath.Base(ar.Path()))
		return nil
	}

	ctx, cancel := context.WithTimeoutCause(ctx, c.timeout, ErrTimeout)
	defer cancel()

	env, err := c.environ(ctx)
	if err != nil {
		return err
	}
	rc, err := ar.OpenEntry(c.entry())
	if err != nil {
		return err
	}
	defer rc.Close()

	cmd := exec.CommandContext(ctx, c.restore[0], c.restore[1:]...)
	cmd.Env = env
	cmd.Stdin = rc
	cmd.Stdout = io.Discard
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay

	c.log.Info("restore started", "command", c.restore[0], "archive", filepath.Base(ar.Path()))
	startTime := time.Now()
	if err := cmd.Run(); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrTimeout) {
			err = cause
		}
		return fmt.Errorf("%w: %s: %v: %s", ErrRestoreFailed, c.restore[0], err, stderr.String())
	}
	c.log.Info("restore completed",
		"archive", filepath.Base(ar.Path()),
		"duration", time.Since(startTime).String(),
	)
	return nil
}

// ConsolidateBackup has nothing to add; dumps are complete on their own.
func (c *Command) ConsolidateBackup(context.Context, *archive.Archive) error {
	return nil
}

func (c *Command) environ(ctx context.Context) ([]string, error) {
	vars := map[string]string{}
	if c.credentials != nil {
		creds, err := c.credentials(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch credentials: %w", err)
		}
		vars[EnvUsername] = creds.Username
		vars[EnvPassword] = creds.Password
	}
	lookup := func(name string) string {
		if v, ok := vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	}

	env := os.Environ()
	for name, v := range vars {
		env = append(env, name+"="+v)
	}
	for name, v := range c.env {
		env = append(env, strings.ToUpper(name)+"="+os.Expand(v, lookup))
	}
	return env, nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == os.PathSeparator || r == '*' {
			return '_'
		}
		return r
	}, s)
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return strings.TrimSpace(b.buf.String())
}
