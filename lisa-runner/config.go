package lisarun

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/lis-test/infra/lisa-runner/flags"
	"github.com/lis-test/infra/lisa-runner/shell"
)

const (
	// maxRootSearchDepth is how many parent directories are searched for lisa.ps1.
	maxRootSearchDepth = 4

	defaultWorkFolder = "test_run"
	defaultLogFolder  = "TestResults"
	xmlFolder         = "xml"
	lisaScript        = "lisa.ps1"
)

// Config holds the application configuration
type Config struct {
	ConfigPath    string        // Run configuration file
	SkipSetup     bool          // Reuse existing VMs and working directories
	WorkFolder    string        // Folder holding the per-worker LISA copies, derived from the LISA root when empty
	LisaRoot      string        // Main LISA folder, searched from the current directory when empty
	SettleDelay   time.Duration // Wait between runner exit and log folder lookup
	PowerShell    string        // PowerShell binary
	ParserCommand string        // Result parser command
	MetricsConfig opmetrics.CLIConfig
	Log           log.Logger

	// Collaborators, replaced in tests.
	Runner shell.Runner
	Fs     afero.Fs
	Out    io.Writer
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}
	configPath := ctx.String(flags.Config.Name)
	if configPath == "" {
		return nil, errors.New("run configuration file is required")
	}
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for config '%s': %w", configPath, err)
	}

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		ConfigPath:    absConfig,
		SkipSetup:     ctx.Bool(flags.SkipSetup.Name),
		WorkFolder:    ctx.String(flags.WorkFolder.Name),
		LisaRoot:      ctx.String(flags.LisaRoot.Name),
		SettleDelay:   ctx.Duration(flags.SettleDelay.Name),
		PowerShell:    ctx.String(flags.PowerShell.Name),
		ParserCommand: ctx.String(flags.Parser.Name),
		MetricsConfig: metricsCfg,
		Log:           log,
	}, nil
}

// FindLisaRoot looks for lisa.ps1 in start and up to four of its parents.
func FindLisaRoot(fs afero.Fs, start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", err
	}
	for i := 0; i <= maxRootSearchDepth; i++ {
		if ok, _ := afero.Exists(fs, filepath.Join(dir, lisaScript)); ok {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", fmt.Errorf("%s not found in %s or its %d parent directories", lisaScript, start, maxRootSearchDepth)
}

func (c *Config) withDefaults() {
	if c.Log == nil {
		c.Log = log.New()
	}
	if c.Fs == nil {
		c.Fs = afero.NewOsFs()
	}
	if c.Runner == nil {
		c.Runner = shell.NewExecRunner(c.Log.New("component", "shell"))
	}
	if c.Out == nil {
		c.Out = os.Stdout
	}
}
