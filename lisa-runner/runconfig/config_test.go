package runconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const fullConfig = `{
  "tests": {"run": ["CoreTests.xml", "LTP.xml"]},
  "vms": {"main": {"name": "lisa-vm", "server": "hyperv01", "vhdPath": "D:\\vhd\\base.vhdx"}},
  "generalConfig": {
    "hvServer": "hyperv01",
    "os": "Linux",
    "sshKey": "id_rsa.ppk",
    "testParams": {"VM2NAME": "lisa-dep"}
  },
  "processes": "4",
  "testsConfig": {
    "CoreTests.xml": {
      "skip": ["Core_Reload_Modules"],
      "params": {"Core_Heartbeat": {"vmName": "placeholder", "TIMEOUT": "300"}}
    }
  },
  "extraTests": [
    {"testName": "Extra_One", "testScript": "extra_one.sh", "timeout": 600, "testParams": {"TC_COVERED": "EXTRA-01", "B": "2"}}
  ],
  "lisaParams": {"-dbgLevel": "6", "-email": "ops@example.com", "-CLImageStorDir": "D:\\images"},
  "parseResults": {"-k": "perf", "--config": "db.json"}
}`

func TestParseFullConfig(t *testing.T) {
	cfg, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate(true))

	assert.Equal(t, []string{"CoreTests.xml", "LTP.xml"}, cfg.Tests.Run)
	assert.Equal(t, "lisa-vm", cfg.VMs.Main.Name)
	assert.Equal(t, 4, cfg.PoolCount())
	assert.Equal(t, "hyperv01", cfg.GeneralConfig.HvServer)
	assert.Equal(t, map[string]string{"os": "Linux", "sshKey": "id_rsa.ppk"}, cfg.GeneralConfig.Fields)
	assert.Equal(t, "lisa-dep", cfg.GeneralConfig.TestParams[SecondaryVMNameParam])

	override := cfg.TestsConfig["CoreTests.xml"]
	assert.Equal(t, []string{"Core_Reload_Modules"}, override.Skip)
	assert.Equal(t, "300", override.Params["Core_Heartbeat"]["TIMEOUT"])

	require.Len(t, cfg.ExtraTests, 1)
	assert.Equal(t, 600, cfg.ExtraTests[0].Timeout)
	assert.Equal(t, Params{{"TC_COVERED", "EXTRA-01"}, {"B", "2"}}, cfg.ExtraTests[0].TestParams)

	assert.Equal(t, []string{"-dbgLevel", "6", "-email", "ops@example.com", "-CLImageStorDir", `D:\images`},
		cfg.LisaParams.Flatten(), "lisaParams must keep file order")
	require.NotNil(t, cfg.ParseResults)
	assert.Equal(t, []string{"-k", "perf", "--config", "db.json"}, cfg.ParseResults.Flatten())
}

func TestValidateMissingFields(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		missing string
	}{
		{
			name:    "no tests",
			doc:     `{"vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 1}`,
			missing: "tests",
		},
		{
			name:    "no vms",
			doc:     `{"tests": {}, "generalConfig": {}, "processes": 1}`,
			missing: "vms",
		},
		{
			name:    "no generalConfig",
			doc:     `{"tests": {}, "vms": {"main": {"name": "vm"}}, "processes": 1}`,
			missing: "generalConfig",
		},
		{
			name:    "tests checked before vms",
			doc:     `{"processes": 1}`,
			missing: "tests",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.doc))
			require.NoError(t, err)
			err = cfg.Validate(false)
			require.ErrorIs(t, err, ErrMissingField)
			assert.Contains(t, err.Error(), tt.missing)
		})
	}
}

func TestValidateValues(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(`{"tests": {}, "vms": {"main": {"name": "vm"}}, "generalConfig": {}, "processes": 2}`))
		require.NoError(t, err)
		return cfg
	}

	cfg := base()
	require.NoError(t, cfg.Validate(false))
	require.ErrorIs(t, cfg.Validate(true), ErrMissingField, "vhdPath is needed when cloning")

	cfg = base()
	cfg.Processes = 0
	require.Error(t, cfg.Validate(false))

	cfg = base()
	cfg.VMs.Main.Name = ""
	require.ErrorIs(t, cfg.Validate(false), ErrMissingField)

	cfg = base()
	cfg.ExtraTests = []ExtraTest{{TestScript: "x.sh"}}
	require.Error(t, cfg.Validate(false))
}

func TestProcessesMustBeNumeric(t *testing.T) {
	_, err := Parse([]byte(`{"processes": "many"}`))
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.PoolCount())

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestCatalog(t *testing.T) {
	cfg := &Config{}
	assert.Len(t, cfg.SuiteCatalog(), 16)
	assert.True(t, cfg.SecondaryVMSuiteSet()["LTP.xml"])

	cfg.Catalog = []string{"A.xml", "B.xml"}
	cat := cfg.SuiteCatalog()
	assert.Equal(t, []string{"A.xml", "B.xml"}, cat)
	cat[0] = "mutated"
	assert.Equal(t, "A.xml", cfg.Catalog[0], "callers get a copy")
}

func TestGeneralConfigStamp(t *testing.T) {
	g := GeneralConfig{
		HvServer:   "hv1",
		TestParams: map[string]string{"VM2NAME": "dep"},
		Fields:     map[string]string{"sshKey": "k.ppk", "os": "Linux"},
	}
	s := g.Stamp("vm3", `C:\logs`)
	s.Fields["os"] = "changed"

	assert.Equal(t, "Linux", g.Fields["os"], "stamping must not alias the shared config")
	assert.Empty(t, g.VMName)
	assert.Equal(t, "vm3", s.VMName)
	assert.Equal(t, `C:\logs`, s.LogPath)
	assert.Equal(t, Params{
		{"hvServer", "hv1"},
		{"vmName", "vm3"},
		{"os", "changed"},
		{"sshKey", "k.ppk"},
	}, s.VMFields())
}

func TestSelectionKeepsKeyPresence(t *testing.T) {
	tests := []struct {
		name        string
		json        string
		runPresent  bool
		skipPresent bool
	}{
		{name: "empty run list", json: `{"run": []}`, runPresent: true},
		{name: "empty skip list", json: `{"skip": []}`, skipPresent: true},
		{name: "no lists", json: `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sel TestSelection
			require.NoError(t, yaml.Unmarshal([]byte(tt.json), &sel))
			assert.Equal(t, tt.runPresent, sel.Run != nil)
			assert.Equal(t, tt.skipPresent, sel.Skip != nil)
			assert.Empty(t, sel.Run)
			assert.Empty(t, sel.Skip)
		})
	}
}
