package shell

import (
	"context"
	"fmt"
	"regexp"
	"sync"
)

// MockCommand is a canned response for commands whose rendered line matches Pattern.
type MockCommand struct {
	Pattern  string
	Output   string
	Stderr   string
	ExitCode int
	Error    error
}

// MockExecutor answers commands from a list of MockCommand and records every call.
type MockExecutor struct {
	mu       sync.Mutex
	Commands []MockCommand
	Calls    []string
}

// NewMockExecutor returns a MockExecutor serving cmds in order of precedence.
func NewMockExecutor(cmds []MockCommand) *MockExecutor {
	return &MockExecutor{Commands: cmds}
}

func (m *MockExecutor) Run(_ context.Context, _ string, _ []string, name string, args ...string) (Result, error) {
	cmdStr := FormatCmd(name, args...)

	m.mu.Lock()
	m.Calls = append(m.Calls, cmdStr)
	m.mu.Unlock()

	for _, c := range m.Commands {
		matched, err := regexp.MatchString(c.Pattern, cmdStr)
		if err != nil || !matched {
			continue
		}
		res := Result{Stdout: c.Output, Stderr: c.Stderr, ExitCode: c.ExitCode}
		if c.Error != nil {
			return res, c.Error
		}
		if c.ExitCode != 0 {
			return res, &ExitError{Cmd: cmdStr, Code: c.ExitCode}
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("unexpected command: %s", cmdStr)
}

// CallsSnapshot returns a copy of the recorded calls.
func (m *MockExecutor) CallsSnapshot() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}
