package shell

import (
	"context"
	"io"
	"slices"
	"sync"
)

// FakeRunner records commands instead of running them. Handler, when set,
// decides the output and result of each command.
type FakeRunner struct {
	Handler func(ctx context.Context, cmd Command) (stdout string, err error)

	mu       sync.Mutex
	commands []Command
}

var _ Runner = (*FakeRunner)(nil)

func (f *FakeRunner) Run(ctx context.Context, cmd Command) error {
	f.mu.Lock()
	rec := cmd
	rec.Args = slices.Clone(cmd.Args)
	rec.Stdout, rec.Stderr = nil, nil
	f.commands = append(f.commands, rec)
	f.mu.Unlock()

	if f.Handler == nil {
		return nil
	}
	out, err := f.Handler(ctx, cmd)
	if out != "" && cmd.Stdout != nil {
		_, _ = io.WriteString(cmd.Stdout, out)
	}
	return err
}

// Commands returns the recorded commands in call order.
func (f *FakeRunner) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.commands)
}
