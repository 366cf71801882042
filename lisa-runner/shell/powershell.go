package shell

import (
	"context"
	"strings"
)

// PowerShell builds PowerShell invocations.
type PowerShell struct {
	Binary string
	Runner Runner
}

// NewPowerShell returns a PowerShell helper. An empty binary selects
// DefaultPowerShell.
func NewPowerShell(binary string, runner Runner) *PowerShell {
	if binary == "" {
		binary = DefaultPowerShell
	}
	return &PowerShell{Binary: binary, Runner: runner}
}

// Script returns the command running a script file with arguments.
func (p *PowerShell) Script(dir, script string, args ...string) Command {
	return Command{
		Name: p.Binary,
		Args: append([]string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", script}, args...),
		Dir:  dir,
	}
}

// Eval runs an inline PowerShell expression and returns its output.
func (p *PowerShell) Eval(ctx context.Context, expr string) (string, error) {
	return Output(ctx, p.Runner, Command{
		Name: p.Binary,
		Args: []string{"-NoProfile", "-NonInteractive", "-Command", expr},
	})
}

// Quote renders s as a single-quoted PowerShell string literal.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
