package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []LogEntry
}

func (s *recordingSink) Write(entry LogEntry, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelInfo, FormatJSON)
	logger.SetOutput(&buf)

	logger.WithEvent("job_scheduled").WithField("jobId", "asi3:abc").Info("Job scheduled")

	var entry LogEntry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "info", entry.Level)
	assert.Equal(t, "Job scheduled", entry.Message)
	assert.Equal(t, "job_scheduled", entry.Fields["event"])
	assert.Equal(t, "asi3:abc", entry.Fields["jobId"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LevelWarn, FormatText)
	logger.SetOutput(&buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "warn: shown")
}

func TestLogger_WithFieldDoesNotMutateParent(t *testing.T) {
	parent := NewDiscardLogger()
	child := parent.WithField("site", "asi3")

	assert.Empty(t, parent.fields)
	assert.Equal(t, "asi3", child.fields["site"])
}

func TestLogger_SinksSharedWithDerivedLoggers(t *testing.T) {
	logger := NewDiscardLogger()
	derived := logger.WithField("jobId", "j1")

	sink := &recordingSink{}
	logger.AddSink(sink)

	derived.Warn("fetch failed")

	require.Len(t, sink.entries, 1)
	assert.Equal(t, "fetch failed", sink.entries[0].Message)
	assert.Equal(t, "j1", sink.entries[0].Fields["jobId"])
}

func TestParseLogLevelAndFormat(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LevelInfo, ParseLogLevel("bogus"))
	assert.Equal(t, FormatText, ParseLogFormat("text"))
	assert.Equal(t, FormatJSON, ParseLogFormat("bogus"))
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(10)
	first, unsubFirst := b.Subscribe()
	second, unsubSecond := b.Subscribe()
	defer unsubSecond()

	assert.Equal(t, "log stream connected", <-first)
	assert.Equal(t, "log stream connected", <-second)

	b.Publish("line 1")
	assert.Equal(t, "line 1", <-first)
	assert.Equal(t, "line 1", <-second)

	unsubFirst()
	unsubFirst()
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcaster_DropsOldestWhenFull(t *testing.T) {
	b := NewBroadcaster(2)
	ch, unsub := b.Subscribe()
	defer unsub()

	// buffer holds "connected" + "a"; "b" and "c" evict the oldest each time
	b.Publish("a")
	b.Publish("b")
	b.Publish("c")

	got := []string{<-ch, <-ch}
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestBroadcaster_AsLoggerSink(t *testing.T) {
	logger := NewLogger(LevelInfo, FormatText)
	logger.SetOutput(&bytes.Buffer{})
	b := NewBroadcaster(10)
	logger.AddSink(b)

	ch, unsub := b.Subscribe()
	defer unsub()
	<-ch

	logger.Info("scheduler started")
	line := <-ch
	assert.True(t, strings.Contains(line, "scheduler started"))
}
