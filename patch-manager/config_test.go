package patchmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[repo]
path = "/src/linux"
remote_url = "https://github.com/LIS/lis-next.git"
branch = "rh7"
remote_tag = "v4.14"
project_url = "https://github.com/LIS/lis-next.git"
files_map = "files.json"
date = "2017-01-01"
author = "kys"

[paths]
patches = "patches"
builds = "builds"
failures = "failures"

[commit]
name = "LIS Bot"
email = "lis@example.com"
username = "bot"
password = "$LIS_PUSH_PASSWORD"

[server]
port = 8080
expected_requests = 4
`

func writeFile(t *testing.T, dir string, name string, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, t.TempDir(), "patch.toml", sampleConfig)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/src/linux", cfg.Repo.Path)
	assert.Equal(t, "v4.14", cfg.Repo.RemoteTag)
	assert.Equal(t, "builds", cfg.Paths.Builds)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Server.ExpectedRequests)

	// defaults
	assert.Equal(t, DefaultWorkSubdir, cfg.Paths.WorkSubdir)
	assert.Equal(t, DefaultCommitMessageFormat, cfg.Commit.MessageFormat)
	assert.Equal(t, "make", cfg.Build.Command)
	assert.Equal(t, "make clean", cfg.Build.Clean)
	assert.Equal(t, "0.0.0.0", cfg.Server.Address)

	for _, cmd := range []string{CommandCreate, CommandApply, CommandCompile, CommandCommit, CommandServe} {
		assert.NoError(t, cfg.Validate(cmd), cmd)
	}
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, t.TempDir(), "patch.toml", "[repo]\npath = \"x\"\nbranchh = \"typo\"\n")
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "repo.branchh")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorContains(t, err, "error reading config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		command string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "create needs repo path", command: CommandCreate, mutate: func(c *Config) { c.Repo.Path = "" }, wantErr: "repo.path is required for create"},
		{name: "apply needs project url", command: CommandApply, mutate: func(c *Config) { c.Repo.ProjectURL = "" }, wantErr: "repo.project_url is required for apply"},
		{name: "compile ignores repo", command: CommandCompile, mutate: func(c *Config) { c.Repo = RepoConfig{} }},
		{name: "commit needs password", command: CommandCommit, mutate: func(c *Config) { c.Commit.Password = "" }, wantErr: "commit.password is required for commit"},
		{name: "commit message needs both verbs", command: CommandCommit, mutate: func(c *Config) { c.Commit.MessageFormat = "RH7: %s" }, wantErr: "commit.message_format"},
		{name: "serve needs a port", command: CommandServe, mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: "server.port 0 is out of range"},
		{name: "serve rejects negative count", command: CommandServe, mutate: func(c *Config) { c.Server.ExpectedRequests = -1 }, wantErr: "expected_requests"},
		{name: "unknown command", command: "deploy", mutate: func(c *Config) {}, wantErr: "invalid command - deploy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "patch.toml", sampleConfig)
			cfg, err := LoadConfig(path)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate(tt.command)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadFilesMap(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "files.json", `{"drivers/hv/hv.c": "hv.c", "include/linux/hyperv.h": "include/linux/hyperv.h"}`)

	fm, err := LoadFilesMap(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"drivers/hv/hv.c":        "hv.c",
		"include/linux/hyperv.h": "include/linux/hyperv.h",
	}, fm)

	bad := writeFile(t, dir, "bad.json", `["not", "a", "map"]`)
	_, err = LoadFilesMap(bad)
	require.Error(t, err)
}

func TestReadFromEnvOrConfig(t *testing.T) {
	t.Setenv("LIS_PUSH_PASSWORD", "hunter2")

	v, err := ReadFromEnvOrConfig("$LIS_PUSH_PASSWORD")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	v, err = ReadFromEnvOrConfig("\\$literal")
	require.NoError(t, err)
	assert.Equal(t, "$literal", v)

	v, err = ReadFromEnvOrConfig("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = ReadFromEnvOrConfig("$LIS_UNSET_VARIABLE")
	require.Error(t, err)
}
