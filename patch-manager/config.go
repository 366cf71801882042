package patchmgr

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	CommandCreate  = "create"
	CommandApply   = "apply"
	CommandCompile = "compile"
	CommandCommit  = "commit"
	CommandServe   = "serve"
)

const (
	DefaultCommitMessageFormat = "RH7: %s <upstream:%s>"
	DefaultWorkSubdir          = "hv-rhel7.x/hv"
)

type Config struct {
	Repo   RepoConfig   `toml:"repo"`
	Paths  PathsConfig  `toml:"paths"`
	Commit CommitConfig `toml:"commit"`
	Server ServerConfig `toml:"server"`
	Build  BuildConfig  `toml:"build"`
}

// RepoConfig describes the upstream source repository and the project the
// patches are ported to.
type RepoConfig struct {
	Path       string `toml:"path"`
	RemoteURL  string `toml:"remote_url"`
	Branch     string `toml:"branch"`
	RemoteTag  string `toml:"remote_tag"`
	ProjectURL string `toml:"project_url"`
	// FilesMap is a JSON file mapping upstream source paths to project paths.
	FilesMap string `toml:"files_map"`
	Date     string `toml:"date"`
	Author   string `toml:"author"`
}

type PathsConfig struct {
	Patches  string `toml:"patches"`
	Builds   string `toml:"builds"`
	Failures string `toml:"failures"`
	// WorkSubdir is where patches are applied inside each project clone.
	WorkSubdir string `toml:"work_subdir"`
}

type CommitConfig struct {
	Name     string `toml:"name"`
	Email    string `toml:"email"`
	Username string `toml:"username"`
	// Password may reference an environment variable as $NAME.
	Password      string `toml:"password"`
	MessageFormat string `toml:"message_format"`
}

type ServerConfig struct {
	Address          string `toml:"address"`
	Port             int    `toml:"port"`
	ExpectedRequests int    `toml:"expected_requests"`
}

type BuildConfig struct {
	Command string `toml:"command"`
	Clean   string `toml:"clean"`
}

func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, errors.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Commit.MessageFormat == "" {
		c.Commit.MessageFormat = DefaultCommitMessageFormat
	}
	if c.Paths.WorkSubdir == "" {
		c.Paths.WorkSubdir = DefaultWorkSubdir
	}
	if c.Build.Command == "" {
		c.Build.Command = "make"
	}
	if c.Build.Clean == "" {
		c.Build.Clean = "make clean"
	}
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
}

// Validate checks the keys needed by command.
func (c *Config) Validate(command string) error {
	var required map[string]string
	switch command {
	case CommandCreate:
		required = map[string]string{
			"repo.path":       c.Repo.Path,
			"repo.branch":     c.Repo.Branch,
			"repo.remote_tag": c.Repo.RemoteTag,
			"repo.files_map":  c.Repo.FilesMap,
			"paths.patches":   c.Paths.Patches,
		}
	case CommandApply:
		required = map[string]string{
			"repo.project_url": c.Repo.ProjectURL,
			"paths.patches":    c.Paths.Patches,
			"paths.builds":     c.Paths.Builds,
			"paths.failures":   c.Paths.Failures,
		}
	case CommandCompile:
		required = map[string]string{
			"paths.builds":   c.Paths.Builds,
			"paths.failures": c.Paths.Failures,
		}
	case CommandCommit:
		required = map[string]string{
			"paths.patches":   c.Paths.Patches,
			"paths.builds":    c.Paths.Builds,
			"repo.remote_url": c.Repo.RemoteURL,
			"repo.branch":     c.Repo.Branch,
			"commit.name":     c.Commit.Name,
			"commit.email":    c.Commit.Email,
			"commit.username": c.Commit.Username,
			"commit.password": c.Commit.Password,
		}
	case CommandServe:
		required = map[string]string{
			"paths.builds":   c.Paths.Builds,
			"paths.failures": c.Paths.Failures,
		}
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			return errors.Errorf("server.port %d is out of range", c.Server.Port)
		}
		if c.Server.ExpectedRequests < 0 {
			return errors.New("server.expected_requests cannot be negative")
		}
	default:
		return errors.Errorf("invalid command - %s", command)
	}

	keys := make([]string, 0, len(required))
	for k := range required {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if required[k] == "" {
			return errors.Errorf("%s is required for %s", k, command)
		}
	}
	if command == CommandCommit && c.Commit.MessageFormat != "" && strings.Count(c.Commit.MessageFormat, "%s") != 2 {
		return errors.New("commit.message_format needs two %s verbs: description and upstream id")
	}
	return nil
}

// LoadFilesMap reads the upstream-to-project path mapping. The file is JSON,
// which the YAML decoder accepts as is.
func LoadFilesMap(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading files map")
	}
	filesMap := make(map[string]string)
	if err := yaml.Unmarshal(data, &filesMap); err != nil {
		return nil, errors.Wrapf(err, "error parsing files map %s", path)
	}
	return filesMap, nil
}

func ReadFromEnvOrConfig(value string) (string, error) {
	if strings.HasPrefix(value, "$") {
		envValue := os.Getenv(strings.TrimPrefix(value, "$"))
		if envValue == "" {
			return "", fmt.Errorf("config env var %s not found", value)
		}
		return envValue, nil
	}

	if strings.HasPrefix(value, "\\") {
		return strings.TrimPrefix(value, "\\"), nil
	}

	return value, nil
}
