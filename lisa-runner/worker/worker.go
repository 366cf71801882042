// Package worker runs one suite definition against one leased VM and working
// directory.
package worker

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lis-test/infra/lisa-runner/metrics"
	"github.com/lis-test/infra/lisa-runner/pool"
	"github.com/lis-test/infra/lisa-runner/runconfig"
	"github.com/lis-test/infra/lisa-runner/shell"
	"github.com/lis-test/infra/lisa-runner/suitexml"
	"github.com/lis-test/infra/lisa-runner/testlist"
)

const (
	DefaultSettleDelay = 60 * time.Second

	// LisaScript is the LISA entry point inside each working directory.
	LisaScript = "lisa.ps1"

	vmNameParam = "vmName"
)

// RunResult is what a finished suite hands to the result parser.
type RunResult struct {
	DefinitionPath string
	LogFolder      string

	VM             string
	Dir            string
	RunnerDuration time.Duration
	// RunnerErr records a failed runner invocation. The task still looks for
	// a log folder afterwards.
	RunnerErr error
}

// Config wires a Task.
type Config struct {
	VMs  *pool.Pool[string]
	Dirs *pool.Pool[string]

	General           runconfig.GeneralConfig
	LogRoot           string
	LisaParams        runconfig.Params
	SecondaryVMSuites map[string]bool

	PowerShell  *shell.PowerShell
	SettleDelay time.Duration
	Fs          afero.Fs
	Metrics     *metrics.Metrics
	Log         log.Logger
}

// Task executes work items. It is safe for concurrent use: the only shared
// mutable state is the two pools.
type Task struct {
	cfg    Config
	log    log.Logger
	tracer trace.Tracer
}

func New(cfg Config) (*Task, error) {
	if cfg.VMs == nil || cfg.Dirs == nil {
		return nil, fmt.Errorf("VM and directory pools are required")
	}
	if cfg.PowerShell == nil {
		return nil, fmt.Errorf("powershell runner is required")
	}
	if cfg.LogRoot == "" {
		return nil, fmt.Errorf("log root cannot be empty")
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Task{
		cfg:    cfg,
		log:    cfg.Log,
		tracer: otel.Tracer("lisa worker"),
	}, nil
}

// Run executes item. Both leased handles are back in their pools when Run
// returns, whatever the outcome.
func (t *Task) Run(ctx context.Context, item testlist.WorkItem) (RunResult, error) {
	ctx, span := t.tracer.Start(ctx, "suite.run", trace.WithAttributes(attribute.String("suite", item.Name)))
	defer span.End()

	lease, err := pool.Acquire(ctx, t.cfg.VMs, t.cfg.Dirs)
	if err != nil {
		return RunResult{}, fmt.Errorf("failed to lease a VM for %s: %w", item.Name, err)
	}
	defer lease.Release()
	span.SetAttributes(attribute.String("vm", lease.VM), attribute.String("dir", lease.Dir))

	logger := t.log.New("suite", item.Name, "vm", lease.VM)
	logger.Info("Running suite", "dir", lease.Dir, "definition", item.Path)

	res := RunResult{DefinitionPath: item.Path, VM: lease.VM, Dir: lease.Dir}

	general := t.cfg.General.Stamp(lease.VM, t.cfg.LogRoot)
	if err := t.prepareDefinition(item, general, logger); err != nil {
		span.RecordError(err)
		return res, err
	}

	start := time.Now()
	res.RunnerErr = t.invokeRunner(ctx, lease.Dir, item)
	res.RunnerDuration = time.Since(start)
	if res.RunnerErr != nil {
		logger.Warn("LISA runner failed, looking for results anyway", "err", res.RunnerErr, "duration", res.RunnerDuration)
		t.cfg.Metrics.RecordRunnerFailure(item.Name)
	} else {
		logger.Info("LISA runner finished", "duration", res.RunnerDuration)
	}

	if err := settle(ctx, t.cfg.SettleDelay); err != nil {
		return res, err
	}

	folder, err := LatestLogFolder(t.cfg.Fs, t.cfg.LogRoot, item.Name)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.LogFolder = folder
	logger.Info("Found log folder", "folder", folder)
	return res, nil
}

// prepareDefinition edits the suite definition for the leased VM and saves
// it in place.
func (t *Task) prepareDefinition(item testlist.WorkItem, general runconfig.GeneralConfig, logger log.Logger) error {
	def, err := suitexml.Open(item.Path)
	if err != nil {
		return err
	}
	if err := def.SetVMConfig(general.VMFields()); err != nil {
		return err
	}
	if err := def.SetLogRoot(general.LogPath); err != nil {
		return err
	}
	if len(item.Skip) > 0 {
		removed := def.RemoveTests(item.Skip)
		logger.Debug("Removed skipped tests", "requested", len(item.Skip), "removed", removed)
	}
	if len(item.Params) > 0 {
		if missing := def.SetTestParams(withVMName(item.Params, general.VMName)); len(missing) > 0 {
			logger.Warn("Parameter overrides for unknown tests ignored", "tests", missing)
		}
	}
	if t.cfg.SecondaryVMSuites[item.Name] {
		vm2 := general.TestParams[runconfig.SecondaryVMNameParam]
		if vm2 == "" {
			return fmt.Errorf("suite %s needs generalConfig.testParams.%s", item.Name, runconfig.SecondaryVMNameParam)
		}
		if err := def.SetSecondaryVM(general.HvServer, vm2); err != nil {
			return err
		}
	}
	return def.Save()
}

func (t *Task) invokeRunner(ctx context.Context, dir string, item testlist.WorkItem) error {
	if err := t.cfg.Fs.MkdirAll(t.cfg.LogRoot, 0o755); err != nil {
		return fmt.Errorf("failed to create log root: %w", err)
	}
	logPath := filepath.Join(t.cfg.LogRoot, item.Name+".runner.log")
	f, err := t.cfg.Fs.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create runner log: %w", err)
	}
	defer f.Close()
	out := newANSIStripWriter(f)
	defer func() { _ = out.Flush() }()

	args := append([]string{"run", item.Path}, t.cfg.LisaParams.Flatten()...)
	cmd := t.cfg.PowerShell.Script(dir, filepath.Join(dir, LisaScript), args...)
	cmd.Stdout = out
	cmd.Stderr = out
	return t.cfg.PowerShell.Runner.Run(ctx, cmd)
}

// withVMName copies the overrides, pointing every vmName parameter at vm.
func withVMName(params map[string]map[string]string, vm string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(params))
	for test, kv := range params {
		cp := make(map[string]string, len(kv))
		for k, v := range kv {
			if k == vmNameParam {
				v = vm
			}
			cp[k] = v
		}
		out[test] = cp
	}
	return out
}

func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
