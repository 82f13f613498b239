package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestWriteAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Consensus_reports.txt")
	l := New(path)

	ts := time.Date(2013, 7, 1, 8, 0, 0, 0, time.UTC)
	assert.NilError(t, l.Write(Note{Time: ts, Component: "consensus-rt", Iteration: 2000, Escalation: 16, Detail: "failed"}))
	assert.NilError(t, l.Write(Note{Time: ts, Component: "auction", Detail: "FAILURE"}))

	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	assert.Equal(t, len(lines), 2)
	assert.Equal(t, lines[0], "2013-07-01T08:00:00Z consensus-rt iteration=2000 escalation=16 failed")
	assert.Assert(t, strings.HasPrefix(lines[1], "2013-07-01T08:00:00Z auction"))
}

func TestNilLogDiscards(t *testing.T) {
	var l *Log
	assert.NilError(t, l.Write(Note{Component: "auction"}))
	assert.Equal(t, l.Path(), "")
}

func TestWriteStampsTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failures.txt")
	l := New(path)
	assert.NilError(t, l.Write(Note{Component: "auction"}))

	b, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Assert(t, !strings.HasPrefix(string(b), "0001-01-01"))
}
