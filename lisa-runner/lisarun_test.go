package lisarun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lis-test/infra/lisa-runner/shell"
	"github.com/lis-test/infra/lisa-runner/suitexml"
)

const suiteDefinition = `<config>
    <global><logfileRootDir>TestResults</logfileRootDir></global>
    <testSuites><suite><suiteName>S</suiteName><suiteTests><suiteTest>T_One</suiteTest></suiteTests></suite></testSuites>
    <testCases><test><testName>T_One</testName></test></testCases>
    <VMs><vm><hvServer>localhost</hvServer><vmName>SUT</vmName></vm></VMs>
</config>
`

// fakeHyperV answers the PowerShell and parser invocations of a run.
type fakeHyperV struct {
	mu         sync.Mutex
	logRoot    string
	noResults  map[string]bool
	missingVMs map[string]bool
	runs       []string
	parsed     []string
}

func (f *fakeHyperV) handle(ctx context.Context, cmd shell.Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if cmd.Name == "parser" {
		f.parsed = append(f.parsed, cmd.Args[0])
		return "", nil
	}
	last := cmd.Args[len(cmd.Args)-1]
	switch {
	case strings.HasPrefix(last, "Get-VM"):
		for vm := range f.missingVMs {
			if strings.Contains(last, shell.Quote(vm)) {
				return "", errors.New("unable to find a virtual machine")
			}
		}
		return "", nil
	case strings.HasPrefix(last, "New-VM"):
		return "", nil
	}

	for i, a := range cmd.Args {
		if a == "run" && i+1 < len(cmd.Args) {
			def := cmd.Args[i+1]
			f.runs = append(f.runs, def)
			name := filepath.Base(def)
			if f.noResults[name] {
				return "", errors.New("exit status 1")
			}
			base := strings.TrimSuffix(name, filepath.Ext(name))
			return "done\n", os.MkdirAll(filepath.Join(f.logRoot, base+"-20240101"), 0o755)
		}
	}
	return "", fmt.Errorf("unexpected command %s", cmd)
}

type testEnv struct {
	root   string
	runner *shell.FakeRunner
	hyperv *fakeHyperV
	out    *bytes.Buffer
}

func newTestEnv(t *testing.T, suites ...string) *testEnv {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, lisaScript), []byte("param()"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, xmlFolder), 0o755))
	for _, s := range suites {
		require.NoError(t, os.WriteFile(filepath.Join(root, xmlFolder, s), []byte(suiteDefinition), 0o644))
	}
	hv := &fakeHyperV{logRoot: filepath.Join(root, defaultLogFolder)}
	return &testEnv{
		root:   root,
		runner: &shell.FakeRunner{Handler: hv.handle},
		hyperv: hv,
		out:    &bytes.Buffer{},
	}
}

func (e *testEnv) writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(e.root, "run.json")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func (e *testEnv) config(configPath string, skipSetup bool) *Config {
	return &Config{
		ConfigPath:    configPath,
		SkipSetup:     skipSetup,
		LisaRoot:      e.root,
		PowerShell:    "pwsh",
		ParserCommand: "parser",
		Log:           log.NewLogger(log.DiscardHandler()),
		Runner:        e.runner,
		Fs:            afero.NewOsFs(),
		Out:           e.out,
	}
}

func (e *testEnv) makeWorkDirs(t *testing.T, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, os.MkdirAll(filepath.Join(e.root, defaultWorkFolder, fmt.Sprintf("lisa%d", i)), 0o755))
	}
}

func TestNewRejectsIncompleteConfig(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "no tests", doc: `{"vms": {"main": {"name": "vm", "vhdPath": "x.vhdx"}}, "generalConfig": {}, "processes": 1}`},
		{name: "no vms", doc: `{"tests": {}, "generalConfig": {}, "processes": 1}`},
		{name: "no generalConfig", doc: `{"tests": {}, "vms": {"main": {"name": "vm", "vhdPath": "x.vhdx"}}, "processes": 1}`},
		{name: "no template disk", doc: `{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 1}`},
		{name: "not a config", doc: `[1, 2`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := New(env.config(env.writeConfig(t, tt.doc), false), "test", nil)
			require.Error(t, err)
			assert.True(t, IsConfigError(err))
			assert.False(t, IsRuntimeError(err))
			assert.Empty(t, env.runner.Commands(), "nothing is provisioned for an invalid config")
			_, statErr := os.Stat(filepath.Join(env.root, defaultWorkFolder))
			assert.True(t, os.IsNotExist(statErr))
		})
	}
}

func TestNewResolvesDefaults(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.writeConfig(t, `{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 2}`), true)

	r, err := New(cfg, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(env.root, defaultWorkFolder), r.work)
	assert.Equal(t, filepath.Join(env.root, defaultLogFolder), r.logRoot)
	assert.Equal(t, filepath.Join(env.root, xmlFolder), r.xmlDir)
	assert.NotEmpty(t, r.runID)

	cfg.WorkFolder = filepath.Join(env.root, "elsewhere")
	r, err = New(cfg, "test", nil)
	require.NoError(t, err)
	assert.Equal(t, cfg.WorkFolder, r.work)
}

func TestNewWithoutLisaRoot(t *testing.T) {
	env := newTestEnv(t)
	cfg := env.config(env.writeConfig(t, `{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 1}`), true)
	cfg.LisaRoot = ""
	cfg.Fs = afero.NewMemMapFs()

	_, err := New(cfg, "test", nil)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestFindLisaRoot(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/lisa/lisa.ps1", nil, 0o644))
	require.NoError(t, fs.MkdirAll("/lisa/a/b/c/d/e", 0o755))

	root, err := FindLisaRoot(fs, "/lisa")
	require.NoError(t, err)
	assert.Equal(t, "/lisa", root)

	root, err = FindLisaRoot(fs, "/lisa/a/b/c/d")
	require.NoError(t, err)
	assert.Equal(t, "/lisa", root, "four parents up is still found")

	_, err = FindLisaRoot(fs, "/lisa/a/b/c/d/e")
	require.Error(t, err, "five parents up is too far")
}

func TestRunSkipSetup(t *testing.T) {
	env := newTestEnv(t, "A.xml", "B.xml", "C.xml")
	env.makeWorkDirs(t, 2)
	cfg := env.config(env.writeConfig(t, `{
		"tests": {"run": ["C.xml", "A.xml"]},
		"vms": {"main": {"name": "lisa-vm", "server": "hv01"}},
		"generalConfig": {"hvServer": "hv01"},
		"processes": 2,
		"catalog": ["A.xml", "B.xml", "C.xml"],
		"parseResults": {"-k": "v"}
	}`), true)

	var shutdownCalled sync.WaitGroup
	shutdownCalled.Add(1)
	r, err := New(cfg, "test", func(error) { shutdownCalled.Done() })
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	shutdownCalled.Wait()
	assert.False(t, r.Stopped())
	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, r.Stopped())

	assert.ElementsMatch(t, []string{
		filepath.Join(env.root, xmlFolder, "A.xml"),
		filepath.Join(env.root, xmlFolder, "C.xml"),
	}, env.hyperv.runs)
	assert.ElementsMatch(t, env.hyperv.runs, env.hyperv.parsed, "every result is parsed")

	require.NotNil(t, r.summary)
	assert.Equal(t, 0, r.summary.Failed())
	for _, s := range r.summary.Suites {
		assert.Contains(t, []string{"lisa-vm1", "lisa-vm2"}, s.VM)
	}
	assert.Contains(t, env.out.String(), "A.xml")

	def, err := suitexml.Open(filepath.Join(env.root, xmlFolder, "A.xml"))
	require.NoError(t, err)
	assert.Contains(t, []string{"lisa-vm1", "lisa-vm2"}, def.VMField(0, "vmName"))
	assert.Equal(t, filepath.Join(env.root, defaultLogFolder), def.LogRoot())
}

func TestRunSkipSetupTooFewFolders(t *testing.T) {
	env := newTestEnv(t, "A.xml")
	env.makeWorkDirs(t, 1)
	cfg := env.config(env.writeConfig(t, `{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 2, "catalog": ["A.xml"]}`), true)

	r, err := New(cfg, "test", nil)
	require.NoError(t, err)
	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.Empty(t, env.hyperv.runs)
}

func TestRunSkipSetupMissingVM(t *testing.T) {
	env := newTestEnv(t, "A.xml")
	env.makeWorkDirs(t, 2)
	env.hyperv.missingVMs = map[string]bool{"vm2": true}
	cfg := env.config(env.writeConfig(t, `{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 2, "catalog": ["A.xml"]}`), true)

	r, err := New(cfg, "test", nil)
	require.NoError(t, err)
	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
	assert.True(t, r.Stopped())
}

func TestRunReportsSuitesWithoutResults(t *testing.T) {
	env := newTestEnv(t, "A.xml", "B.xml")
	env.makeWorkDirs(t, 1)
	env.hyperv.noResults = map[string]bool{"B.xml": true}
	cfg := env.config(env.writeConfig(t, `{
		"tests": {},
		"vms": {"main": {"name": "vm"}},
		"generalConfig": {},
		"processes": 1,
		"catalog": ["A.xml", "B.xml"],
		"parseResults": {}
	}`), true)

	r, err := New(cfg, "test", nil)
	require.NoError(t, err)
	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))

	assert.Len(t, env.hyperv.runs, 2, "a failed suite does not stop the others")
	assert.Equal(t, []string{filepath.Join(env.root, xmlFolder, "A.xml")}, env.hyperv.parsed)
	require.NotNil(t, r.summary)
	assert.Equal(t, 1, r.summary.Failed())
}

func TestRunWithProvisioning(t *testing.T) {
	env := newTestEnv(t, "A.xml", "B.xml")
	vhd := filepath.Join(env.root, "vhd", "base.vhdx")
	require.NoError(t, os.MkdirAll(filepath.Dir(vhd), 0o755))
	require.NoError(t, os.WriteFile(vhd, []byte("disk"), 0o644))
	cfg := env.config(env.writeConfig(t, fmt.Sprintf(`{
		"tests": {"skip": ["B.xml"]},
		"vms": {"main": {"name": "lisa", "vhdPath": %q, "vhdFolder": %q}},
		"generalConfig": {},
		"processes": 2,
		"catalog": ["A.xml", "B.xml"]
	}`, vhd, filepath.Join(env.root, "clones"))), false)

	r, err := New(cfg, "test", nil)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))

	for i := 1; i <= 2; i++ {
		_, err := os.Stat(filepath.Join(env.root, "clones", fmt.Sprintf("base-%d.vhdx", i)))
		require.NoError(t, err, "VHD clone %d", i)
		_, err = os.Stat(filepath.Join(env.root, defaultWorkFolder, fmt.Sprintf("lisa%d", i), lisaScript))
		require.NoError(t, err, "LISA copy %d", i)
	}

	var created []string
	for _, c := range env.runner.Commands() {
		if last := c.Args[len(c.Args)-1]; strings.HasPrefix(last, "New-VM") {
			created = append(created, last)
		}
	}
	require.Len(t, created, 2)
	assert.Contains(t, created[0], "-Name 'lisa1'")
	assert.Contains(t, created[1], "-Name 'lisa2'")
	assert.Equal(t, []string{filepath.Join(env.root, xmlFolder, "A.xml")}, env.hyperv.runs)
}
