package agentloop

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// BuildChecker runs the destination project's build check. It returns ""
// when there is nothing to fix, and otherwise the diagnostics to relay to
// the model verbatim. An error means the check itself could not run.
type BuildChecker interface {
	Check(ctx context.Context) (string, error)
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are not passed to the build command.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always passed through regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "CARGO_HOME": true,
	"RUSTUP_HOME": true, "NVM_DIR": true, "PYENV_ROOT": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the process environment without credentials.
func filterEnvironment() []string {
	var filtered []string
	for _, env := range os.Environ() {
		name, _, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, env)
		}
	}
	return filtered
}

// CommandBuildChecker runs a shell command in a project directory. Exit
// status 0 means no diagnostics; any other status yields the command's
// combined output.
type CommandBuildChecker struct {
	dir     string
	command string
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandBuildChecker creates a checker running command in dir. A zero
// timeout means no limit. The project directory is also exported to the
// command as CODEPORT_PROJECT_DIR.
func NewCommandBuildChecker(dir, command string, timeout time.Duration, logger *slog.Logger) *CommandBuildChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandBuildChecker{dir: dir, command: command, timeout: timeout, logger: logger}
}

// Check runs the command and returns its diagnostics.
func (c *CommandBuildChecker) Check(ctx context.Context) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", c.command)
	cmd.Dir = c.dir
	cmd.Env = append(filterEnvironment(), "CODEPORT_PROJECT_DIR="+c.dir)
	// Run in its own process group so a timeout can kill the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err == nil {
		c.logger.Info("build check passed", slog.String("command", c.command), slog.Duration("elapsed", elapsed))
		return "", nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("build check timed out after %s", c.timeout)
		}
		return "", ctxErr
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return "", fmt.Errorf("run build check %q: %w", c.command, err)
	}

	diagnostics := strings.TrimSpace(output.String())
	if diagnostics == "" {
		diagnostics = fmt.Sprintf("exit status %d", exitErr.ExitCode())
	}
	c.logger.Info("build check failed",
		slog.String("command", c.command),
		slog.Int("exit_code", exitErr.ExitCode()),
		slog.Int("output_bytes", len(diagnostics)),
		slog.Duration("elapsed", elapsed),
	)
	return diagnostics, nil
}
