// Package report keeps the append-only failure log written when a clearing or
// consensus solve fails.
package report

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Note is one failure record
type Note struct {
	Time       time.Time
	Component  string
	Iteration  int
	Escalation int
	Detail     string
}

func (n Note) String() string {
	return fmt.Sprintf("%s %s iteration=%d escalation=%d %s",
		n.Time.UTC().Format(time.RFC3339), n.Component, n.Iteration, n.Escalation, n.Detail)
}

// Log appends notes to a plain text file. A nil *Log discards notes.
type Log struct {
	mux  *sync.Mutex
	path string
}

// New returns a Log writing to path. The file is created on first write.
func New(path string) *Log {
	return &Log{mux: &sync.Mutex{}, path: path}
}

// Path returns the file the log appends to
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Write appends n as a single line.
func (l *Log) Write(n Note) error {
	if l == nil {
		return nil
	}
	if n.Time.IsZero() {
		n.Time = time.Now()
	}
	l.mux.Lock()
	defer l.mux.Unlock()
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = fmt.Fprintln(f, n.String())
	return err
}
