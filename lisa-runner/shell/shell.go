// Package shell runs the external processes the runner depends on: the LISA
// PowerShell entry point, Hyper-V cmdlets and the result parser.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DefaultPowerShell is the PowerShell binary used when none is configured.
const DefaultPowerShell = "powershell"

// Command describes one process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory of the process. Empty means the current
	// directory of the runner.
	Dir    string
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Runner starts a command and waits for it to finish. Implementations must be
// safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands as child processes. Cancelling the context kills
// the child.
type ExecRunner struct {
	log        log.Logger
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

var _ Runner = (*ExecRunner)(nil)

// NewExecRunner creates a runner backed by os/exec.
func NewExecRunner(logger log.Logger) *ExecRunner {
	if logger == nil {
		logger = log.New()
	}
	return &ExecRunner{
		log:        logger,
		cmdBuilder: exec.CommandContext,
	}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if c.Name == "" {
		return fmt.Errorf("command name cannot be empty")
	}
	cmd := r.cmdBuilder(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	r.log.Debug("Starting process", "cmd", c.String(), "dir", c.Dir)
	start := time.Now()
	err := cmd.Run()
	r.log.Debug("Process finished", "cmd", c.Name, "duration", time.Since(start), "err", err)
	if err != nil {
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// Output runs c and returns its trimmed standard output. Standard error is
// attached to the returned error.
func Output(ctx context.Context, r Runner, c Command) (string, error) {
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := r.Run(ctx, c); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("%w: %s", err, msg)
		}
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// ExitCode extracts the exit status from an error returned by Run.
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
