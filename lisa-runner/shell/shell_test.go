package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"runtime"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRunnerUsesBuilder(t *testing.T) {
	var gotName string
	var gotArgs []string
	r := NewExecRunner(log.NewLogger(log.DiscardHandler()))
	r.cmdBuilder = func(ctx context.Context, name string, arg ...string) *exec.Cmd {
		gotName, gotArgs = name, arg
		return exec.CommandContext(ctx, "go", "version")
	}

	var out bytes.Buffer
	dir := t.TempDir()
	require.NoError(t, r.Run(context.Background(), Command{Name: "pwsh", Args: []string{"-File", "x.ps1"}, Dir: dir, Stdout: &out}))
	assert.Equal(t, "pwsh", gotName)
	assert.Equal(t, []string{"-File", "x.ps1"}, gotArgs)
	assert.Contains(t, out.String(), "go version")
}

func TestExecRunnerExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	r := NewExecRunner(log.NewLogger(log.DiscardHandler()))
	err := r.Run(context.Background(), Command{Name: "sh", Args: []string{"-c", "exit 3"}})
	require.Error(t, err)
	code, ok := ExitCode(err)
	require.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = ExitCode(errors.New("plain"))
	assert.False(t, ok)
}

func TestExecRunnerEmptyName(t *testing.T) {
	r := NewExecRunner(nil)
	require.Error(t, r.Run(context.Background(), Command{}))
}

func TestOutput(t *testing.T) {
	f := &FakeRunner{Handler: func(ctx context.Context, cmd Command) (string, error) {
		if cmd.Args[len(cmd.Args)-1] == "fail" {
			_, _ = cmd.Stderr.Write([]byte("boom\n"))
			return "", errors.New("exit status 1")
		}
		return "  vm1\n", nil
	}}
	ps := NewPowerShell("", f)

	out, err := ps.Eval(context.Background(), "Get-VM")
	require.NoError(t, err)
	assert.Equal(t, "vm1", out)

	_, err = ps.Eval(context.Background(), "fail")
	require.ErrorContains(t, err, "boom")

	cmds := f.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, DefaultPowerShell, cmds[0].Name)
	assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-Command", "Get-VM"}, cmds[0].Args)
}

func TestScript(t *testing.T) {
	ps := NewPowerShell("pwsh", nil)
	cmd := ps.Script(`C:\work\lisa1`, `C:\work\lisa1\lisa.ps1`, "run", "x.xml")
	assert.Equal(t, "pwsh", cmd.Name)
	assert.Equal(t, `C:\work\lisa1`, cmd.Dir)
	assert.Equal(t, []string{"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-File", `C:\work\lisa1\lisa.ps1`, "run", "x.xml"}, cmd.Args)
}

func TestQuote(t *testing.T) {
	assert.Equal(t, `'plain'`, Quote("plain"))
	assert.Equal(t, `'it''s'`, Quote("it's"))
}
