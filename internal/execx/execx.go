// Package execx runs external tools with a mandatory timeout and
// whole-process-group termination. Every subprocess in this module
// goes through Run; nothing may exec without a deadline.
package execx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// ErrTimeout marks a process killed for exceeding its deadline, as
// opposed to failing on its own.
var ErrTimeout = errors.New("process timed out")

type Cmd struct {
	Name    string
	Args    []string
	Dir     string
	Stdin   io.Reader
	Timeout time.Duration

	// OKExitCodes are tolerated non-zero exits (7z reports 2 for
	// recoverable HFS warnings when unpacking a dmg).
	OKExitCodes []int
}

// Run executes c and returns combined stdout+stderr. The timeout is
// required: a zero value is a programming error and fails fast rather
// than hanging forever.
func Run(ctx context.Context, c Cmd) ([]byte, error) {
	if c.Timeout <= 0 {
		return nil, fmt.Errorf("execx: %s invoked without a timeout", c.Name)
	}

	tctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(tctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	// Kill the group, not just the leader: extraction tools fork
	// helpers that would otherwise outlive cancellation.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.Bytes()

	switch {
	case err == nil:
		return output, nil
	case tctx.Err() == context.DeadlineExceeded:
		return output, fmt.Errorf("%s after %s: %w", c.Name, c.Timeout, ErrTimeout)
	case ctx.Err() != nil:
		return output, ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		for _, ok := range c.OKExitCodes {
			if code == ok {
				return output, nil
			}
		}
		return output, fmt.Errorf("%s exited with code %d", c.Name, code)
	}

	return output, fmt.Errorf("%s: %w", c.Name, err)
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
