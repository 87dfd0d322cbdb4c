package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Runner executes an external tool. stdin may be empty.
type Runner interface {
	Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error)
}

// CommandError carries the exit code and stderr of a failed tool so callers
// can tell "already exists" from a real failure.
type CommandError struct {
	Name     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s: %v: %s", e.Name, e.Err, e.Stderr)
	}
	return fmt.Sprintf("%s: %v", e.Name, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func (e *CommandError) Is(target error) bool {
	return target == domain.ErrSubsystem
}

type ExecRunner struct {
	Timeout time.Duration
}

func NewExecRunner(cfg *domain.Config) *ExecRunner {
	return &ExecRunner{Timeout: cfg.Accounts.CommandTimeout}
}

func (r *ExecRunner) Run(ctx context.Context, stdin string, name string, args ...string) ([]byte, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	log.Debug().Str("cmd", name).Strs("args", args).Msg("exec")

	if err := cmd.Run(); err != nil {
		cmdErr := &CommandError{
			Name:     name,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}

		return stdout.Bytes(), cmdErr
	}

	return stdout.Bytes(), nil
}
