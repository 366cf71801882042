package git

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner runs an external command in dir and returns its trimmed stdout.
type Runner interface {
	Run(ctx context.Context, dir string, name string, args ...string) (string, error)
}

type ExecRunner struct {
	cmdBuilder func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

func NewExecRunner() *ExecRunner {
	return &ExecRunner{cmdBuilder: exec.CommandContext}
}

func (r *ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	cmd := r.cmdBuilder(ctx, name, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", &CommandError{
			Command: commandName(name, args),
			Stderr:  strings.TrimSpace(stderr.String()),
			Err:     err,
		}
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandError carries the stderr of a failed command. Command holds the
// program and its first argument only, so credentials passed further along
// never end up in logs.
type CommandError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Command, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

func commandName(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + args[0]
}

// Invocation is a command recorded by FakeRunner.
type Invocation struct {
	Dir  string
	Name string
	Args []string
}

func (i Invocation) String() string {
	return strings.TrimSpace(i.Name + " " + strings.Join(i.Args, " "))
}

// FakeRunner records invocations and answers them through Handler.
type FakeRunner struct {
	Handler func(ctx context.Context, inv Invocation) (string, error)

	mu    sync.Mutex
	calls []Invocation
}

func (f *FakeRunner) Run(ctx context.Context, dir string, name string, args ...string) (string, error) {
	inv := Invocation{Dir: dir, Name: name, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.Handler == nil {
		return "", nil
	}
	return f.Handler(ctx, inv)
}

func (f *FakeRunner) Invocations() []Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Invocation(nil), f.calls...)
}
