package operations

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/thejerf/suture/v4"

	"github.com/kebairia/contentbackup/internal/logger"
)

type entry struct {
	level string
	msg   string
}

// recordingLogger keeps the level and message of every call.
type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

func (l *recordingLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry{level, msg})
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.add("error", msg) }
func (l *recordingLogger) With(...any) logger.Logger  { return l }

func TestEventHook_Levels(t *testing.T) {
	log := &recordingLogger{}
	hook := eventHook(log)

	backoff := suture.EventBackoff{SupervisorName: "cbk"}
	resume := suture.EventResume{SupervisorName: "cbk"}
	hook(backoff)
	hook(resume)

	want := []entry{
		{"warn", backoff.String()},
		{"info", resume.String()},
	}
	if diff := cmp.Diff(want, log.entries, cmp.AllowUnexported(entry{})); diff != "" {
		t.Fatalf("entries mismatch (-want +got):\n%s", diff)
	}
}
