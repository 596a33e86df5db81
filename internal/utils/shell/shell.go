package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/open-edge-platform/pyenv-composer/internal/utils/logger"
)

// Result holds the captured streams and exit status of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Executor runs external commands. Tests replace Default with a MockExecutor.
type Executor interface {
	Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Cmd  string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q exited with status %d", e.Cmd, e.Code)
}

// HostExecutor runs commands directly on the host without a shell.
type HostExecutor struct{}

// Default is the executor used by ExecCmd and Run.
var Default Executor = &HostExecutor{}

// Run executes name with args, capturing stdout and stderr separately.
// A non-zero exit returns the populated Result together with an *ExitError.
func (h *HostExecutor) Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error) {
	log := logger.Logger()
	cmdStr := FormatCmd(name, args...)
	log.Debugf("Exec: [%s]", cmdStr)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			if res.Stderr != "" {
				log.Info(res.Stderr)
			}
			return res, &ExitError{Cmd: cmdStr, Code: res.ExitCode}
		}
		return res, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}

	if res.Stdout != "" {
		log.Debug(res.Stdout)
	}
	return res, nil
}

// Run executes a command with the Default executor.
func Run(ctx context.Context, dir string, env []string, name string, args ...string) (Result, error) {
	return Default.Run(ctx, dir, env, name, args...)
}

// ExecCmd splits cmdStr on whitespace and runs it with the Default executor,
// returning stdout.
func ExecCmd(cmdStr string) (string, error) {
	fields := strings.Fields(cmdStr)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty command")
	}
	res, err := Default.Run(context.Background(), "", nil, fields[0], fields[1:]...)
	if err != nil {
		return res.Stdout, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	return res.Stdout, nil
}

// IsCommandExist reports whether cmd is found on PATH.
func IsCommandExist(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// FormatCmd renders a command line for logs and error messages.
func FormatCmd(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			parts = append(parts, fmt.Sprintf("%q", a))
		} else {
			parts = append(parts, a)
		}
	}
	return strings.Join(parts, " ")
}
