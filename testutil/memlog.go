// Package testutil holds helpers shared by the tests of the fault
// packages.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

// MemLog is an in memory log of formatted lines. It implements the
// Printf logger interface of the fault packages and can be used by
// multiple go-routines.
type MemLog struct {
	mu    sync.Mutex
	lines []string
	t     testing.TB
}

// NewMemLog that also writes each line to the test's log, t may be
// nil.
func NewMemLog(t testing.TB) *MemLog {
	return &MemLog{t: t}
}

func (m *MemLog) Printf(format string, v ...interface{}) {
	line := fmt.Sprintf(format, v...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
	if m.t != nil {
		m.t.Log(line)
	}
}

// Lines logged so far, in order.
func (m *MemLog) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.lines))
	copy(out, m.lines)
	return out
}

// Len is the number of lines logged.
func (m *MemLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.lines)
}

// Contains returns true if some line contains substr.
func (m *MemLog) Contains(substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, line := range m.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}
