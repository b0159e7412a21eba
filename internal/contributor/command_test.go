package contributor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kebairia/contentbackup/internal/archive"
	"github.com/kebairia/contentbackup/internal/vault"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestCommand_DumpAndRestore(t *testing.T) {
	requireShell(t)
	out := filepath.Join(t.TempDir(), "restored.sql")

	c, err := NewCommand("orders",
		[]string{"sh", "-c", `printf 'user=%s\n' "$PGUSER"; printf 'pass=%s' "$PGPASSWORD"`},
		WithEnv(map[string]string{"pguser": "${CBK_USERNAME}", "PGPASSWORD": "${CBK_PASSWORD}"}),
		WithCredentials(func(context.Context) (vault.DynamicCredentials, error) {
			return vault.DynamicCredentials{Username: "v-backup", Password: "s3cret"}, nil
		}),
		WithRestore([]string{"sh", "-c", "cat > " + out}, true),
	)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name() != "command:orders" {
		t.Fatalf("Name = %q", c.Name())
	}

	path := newArchive(t, func(ar *archive.Archive) {
		if err := c.CreateBackup(context.Background(), ar); err != nil {
			t.Fatalf("CreateBackup: %v", err)
		}
	})

	ar := openArchive(t, path)
	dump, err := ar.ReadFile("commands/orders.dump")
	if err != nil {
		t.Fatalf("dump entry: %v", err)
	}
	want := "user=v-backup\npass=s3cret"
	if string(dump) != want {
		t.Fatalf("dump = %q, want %q", dump, want)
	}

	if err := c.LoadBackup(context.Background(), ar); err != nil {
		t.Fatalf("LoadBackup: %v", err)
	}
	restored, err := os.ReadFile(out)
	if err != nil || string(restored) != want {
		t.Fatalf("restored = %q, %v", restored, err)
	}
}

func TestCommand_FailedDumpLeavesNoEntry(t *testing.T) {
	requireShell(t)
	c, err := NewCommand("broken", []string{"sh", "-c", "echo partial; echo 'no such database' >&2; exit 3"})
	if err != nil {
		t.Fatal(err)
	}

	var createErr error
	path := newArchive(t, func(ar *archive.Archive) {
		createErr = c.CreateBackup(context.Background(), ar)
	})
	if !errors.Is(createErr, ErrDumpFailed) {
		t.Fatalf("CreateBackup error = %v, want ErrDumpFailed", createErr)
	}
	if got := createErr.Error(); !strings.Contains(got, "no such database") {
		t.Fatalf("error %q does not carry stderr", got)
	}
	if openArchive(t, path).Has("commands/broken.dump") {
		t.Fatal("failed dump left an entry behind")
	}
}

func TestCommand_Timeout(t *testing.T) {
	requireShell(t)
	c, err := NewCommand("slow", []string{"sh", "-c", "exec sleep 5"}, WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	var createErr error
	newArchive(t, func(ar *archive.Archive) {
		createErr = c.CreateBackup(context.Background(), ar)
	})
	if !errors.Is(createErr, ErrDumpFailed) {
		t.Fatalf("CreateBackup error = %v, want ErrDumpFailed", createErr)
	}
	if !strings.Contains(createErr.Error(), ErrTimeout.Error()) {
		t.Fatalf("error %q does not mention the timeout", createErr)
	}
}

func TestCommand_LoadWithoutRestoreIsNoop(t *testing.T) {
	requireShell(t)
	c, err := NewCommand("orders", []string{"sh", "-c", "echo data"},
		WithRestore([]string{"sh", "-c", "exit 1"}, false))
	if err != nil {
		t.Fatal(err)
	}
	path := newArchive(t, func(ar *archive.Archive) {
		if err := c.CreateBackup(context.Background(), ar); err != nil {
			t.Fatal(err)
		}
	})
	if err := c.LoadBackup(context.Background(), openArchive(t, path)); err != nil {
		t.Fatalf("LoadBackup ran the restore command: %v", err)
	}
}

func TestCommand_CredentialsFailure(t *testing.T) {
	boom := errors.New("vault sealed")
	c, err := NewCommand("orders", []string{"true"},
		WithCredentials(func(context.Context) (vault.DynamicCredentials, error) {
			return vault.DynamicCredentials{}, boom
		}))
	if err != nil {
		t.Fatal(err)
	}
	var createErr error
	newArchive(t, func(ar *archive.Archive) {
		createErr = c.CreateBackup(context.Background(), ar)
	})
	if !errors.Is(createErr, boom) {
		t.Fatalf("CreateBackup error = %v, want %v", createErr, boom)
	}
}

func TestNewCommand_Validates(t *testing.T) {
	if _, err := NewCommand("", []string{"x"}); err == nil {
		t.Error("empty name accepted")
	}
	if _, err := NewCommand("x", nil); err == nil {
		t.Error("empty dump command accepted")
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{limit: 4}
	n, err := b.Write([]byte("abcdef"))
	if n != 6 || err != nil {
		t.Fatalf("Write = %d, %v", n, err)
	}
	b.Write([]byte("gh")) //nolint:errcheck
	if b.String() != "abcd" {
		t.Fatalf("String = %q", b.String())
	}
}
