package lisarun

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/httputil"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/lis-test/infra/lisa-runner/metrics"
	"github.com/lis-test/infra/lisa-runner/pool"
	"github.com/lis-test/infra/lisa-runner/provision"
	"github.com/lis-test/infra/lisa-runner/reporting"
	"github.com/lis-test/infra/lisa-runner/resultparse"
	"github.com/lis-test/infra/lisa-runner/runconfig"
	"github.com/lis-test/infra/lisa-runner/shell"
	"github.com/lis-test/infra/lisa-runner/testlist"
	"github.com/lis-test/infra/lisa-runner/worker"
)

// lisaRunner implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &lisaRunner{}

// lisaRunner provisions the VMs, runs every selected suite once and exits.
type lisaRunner struct {
	config   *Config
	run      *runconfig.Config
	version  string
	runID    string
	lisaRoot string
	work     string
	logRoot  string
	xmlDir   string

	ps          *shell.PowerShell
	provisioner *provision.Provisioner
	registry    *prometheus.Registry
	metrics     *metrics.Metrics

	metricsServer *httputil.HTTPServer
	summary       *reporting.Summary
	running       atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New loads and validates the run configuration and resolves the LISA
// folders. It has no side effects on VMs or disks; any error it returns is a
// ConfigError.
func New(config *Config, version string, shutdownCallback func(error)) (*lisaRunner, error) {
	if config == nil {
		return nil, NewConfigError(errors.New("config is required"))
	}
	config.withDefaults()

	run, err := runconfig.Load(config.ConfigPath)
	if err != nil {
		return nil, NewConfigError(err)
	}
	if err := run.Validate(!config.SkipSetup); err != nil {
		return nil, NewConfigError(err)
	}

	lisaRoot := config.LisaRoot
	if lisaRoot == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, NewConfigError(err)
		}
		if lisaRoot, err = FindLisaRoot(config.Fs, cwd); err != nil {
			return nil, NewConfigError(err)
		}
	}
	if lisaRoot, err = filepath.Abs(lisaRoot); err != nil {
		return nil, NewConfigError(err)
	}

	work := config.WorkFolder
	if work == "" {
		work = filepath.Join(lisaRoot, defaultWorkFolder)
	}
	logRoot := run.GeneralConfig.LogPath
	if logRoot == "" {
		logRoot = filepath.Join(lisaRoot, defaultLogFolder)
		config.Log.Debug("Log path not specified, using default", "logPath", logRoot)
	}
	if logRoot, err = filepath.Abs(logRoot); err != nil {
		return nil, NewConfigError(err)
	}

	registry := opmetrics.NewRegistry()
	m := metrics.New(registry, config.Log.New("component", "metrics"))
	ps := shell.NewPowerShell(config.PowerShell, config.Runner)

	config.Log.Info("Loaded run configuration",
		"config", config.ConfigPath,
		"processes", run.PoolCount(),
		"lisaRoot", lisaRoot,
		"workFolder", work,
		"logRoot", logRoot,
		"skipSetup", config.SkipSetup)

	return &lisaRunner{
		config:           config,
		run:              run,
		version:          version,
		runID:            uuid.New().String(),
		lisaRoot:         lisaRoot,
		work:             work,
		logRoot:          logRoot,
		xmlDir:           filepath.Join(lisaRoot, xmlFolder),
		ps:               ps,
		provisioner:      provision.New(ps, config.Fs, config.Log.New("component", "provision"), m),
		registry:         registry,
		metrics:          m,
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs the whole test run and requests shutdown when it is done.
// Start implements the cliapp.Lifecycle interface.
func (r *lisaRunner) Start(ctx context.Context) error {
	r.running.Store(true)
	if err := r.startMetrics(); err != nil {
		r.running.Store(false)
		return NewRuntimeError(err)
	}

	if err := r.execute(ctx); err != nil {
		r.config.Log.Error("Test run failed", "run_id", r.runID, "err", err)
		r.stopMetrics(context.Background())
		r.running.Store(false)
		return err
	}

	r.config.Log.Info("Test run completed, exiting", "run_id", r.runID)
	if r.shutdownCallback != nil {
		go func() {
			r.shutdownCallback(nil)
		}()
	}
	return nil
}

// Stop implements the cliapp.Lifecycle interface.
func (r *lisaRunner) Stop(ctx context.Context) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)
	r.stopMetrics(ctx)
	r.config.Log.Info("lisa-runner stopped")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (r *lisaRunner) Stopped() bool {
	return !r.running.Load()
}

func (r *lisaRunner) execute(ctx context.Context) error {
	start := time.Now()
	n := r.run.PoolCount()
	r.config.Log.Info("LISA will run on parallel workers", "run_id", r.runID, "workers", n)

	vms, dirs, err := r.provisionOrReuse(ctx, n)
	if err != nil {
		return err
	}

	vmPool := pool.New[string]("vms", n).WithObserver(r.metrics.PoolAvailable)
	dirPool := pool.New[string]("dirs", n).WithObserver(r.metrics.PoolAvailable)
	if err := vmPool.Seed(vms[:n]...); err != nil {
		return NewRuntimeError(err)
	}
	if err := dirPool.Seed(dirs[:n]...); err != nil {
		return NewRuntimeError(err)
	}

	r.config.Log.Info("Creating the tests list")
	items, err := testlist.Build(testlist.Options{
		Selection:   *r.run.Tests,
		Catalog:     r.run.SuiteCatalog(),
		XMLDir:      r.xmlDir,
		TestsConfig: r.run.TestsConfig,
		ExtraTests:  r.run.ExtraTests,
		Log:         r.config.Log.New("component", "testlist"),
	})
	if err != nil {
		return NewRuntimeError(fmt.Errorf("failed to build the tests list: %w", err))
	}
	if len(items) == 0 {
		r.config.Log.Warn("No suites selected, nothing to run")
	}

	task, err := worker.New(worker.Config{
		VMs:               vmPool,
		Dirs:              dirPool,
		General:           *r.run.GeneralConfig,
		LogRoot:           r.logRoot,
		LisaParams:        r.run.LisaParams,
		SecondaryVMSuites: r.run.SecondaryVMSuiteSet(),
		PowerShell:        r.ps,
		SettleDelay:       r.config.SettleDelay,
		Fs:                r.config.Fs,
		Metrics:           r.metrics,
		Log:               r.config.Log.New("component", "worker"),
	})
	if err != nil {
		return NewRuntimeError(err)
	}

	r.config.Log.Info("Starting parallel LISA runs", "suites", len(items), "workers", n)
	results := r.runAll(ctx, task, items, n)

	summary := &reporting.Summary{RunID: r.runID, Duration: time.Since(start)}
	var parsed []resultparse.Input
	for i, item := range items {
		res := results[i]
		outcome := reporting.SuiteOutcome{
			Suite:     item.Name,
			VM:        res.result.VM,
			Duration:  res.result.RunnerDuration,
			LogFolder: res.result.LogFolder,
			RunnerErr: res.result.RunnerErr,
			Err:       res.err,
		}
		summary.Suites = append(summary.Suites, outcome)
		r.metrics.RecordSuite(item.Name, !outcome.Failed(), outcome.Duration)
		if res.err != nil {
			r.config.Log.Error("Suite produced no results", "suite", item.Name, "err", res.err)
			continue
		}
		r.config.Log.Info("Test results", "definition", res.result.DefinitionPath, "folder", res.result.LogFolder)
		parsed = append(parsed, resultparse.Input{DefinitionPath: res.result.DefinitionPath, LogFolder: res.result.LogFolder})
	}
	r.summary = summary
	reporting.WriteTable(r.config.Out, *summary)
	r.metrics.RecordRun(r.runID, len(summary.Suites), summary.Failed(), summary.Duration)

	if r.run.ParseResults != nil {
		r.parseResults(ctx, parsed)
	}

	if failed := summary.Failed(); failed > 0 {
		return NewRuntimeError(fmt.Errorf("%d of %d suites produced no results", failed, len(items)))
	}
	return nil
}

type itemResult struct {
	result worker.RunResult
	err    error
}

// runAll runs every item on a pool of n goroutines. Item errors are recorded
// and never cancel the other items.
func (r *lisaRunner) runAll(ctx context.Context, task *worker.Task, items []testlist.WorkItem, n int) []itemResult {
	results := make([]itemResult, len(items))
	runPool := concpool.New().WithMaxGoroutines(n)
	for i, item := range items {
		runPool.Go(func() {
			res, err := task.Run(ctx, item)
			results[i] = itemResult{result: res, err: err}
		})
	}
	runPool.Wait()
	return results
}

func (r *lisaRunner) provisionOrReuse(ctx context.Context, n int) (vms, dirs []string, err error) {
	spec := r.run.VMs.Main
	if r.config.SkipSetup {
		r.config.Log.Info("Skipping setup, reusing existing VMs and LISA folders")
		vms, err = r.provisioner.FindVMs(ctx, spec, n)
		if err != nil {
			return nil, nil, NewRuntimeError(err)
		}
		dirs, err = provision.ListWorkDirs(r.config.Fs, r.work)
		if err != nil {
			return nil, nil, NewConfigError(err)
		}
		if len(dirs) < n {
			return nil, nil, NewConfigError(fmt.Errorf("invalid number of LISA folders in %s: found %d, need %d", r.work, len(dirs), n))
		}
		return vms, dirs, nil
	}

	setupStart := time.Now()
	r.config.Log.Info("Copying VHDs", "template", spec.VHDPath, "count", n)
	vhds, err := r.provisioner.CloneVHDs(ctx, spec, n)
	if err != nil {
		return nil, nil, NewRuntimeError(err)
	}
	vms, err = r.provisioner.CreateVMs(ctx, spec, vhds)
	if err != nil {
		return nil, nil, NewRuntimeError(err)
	}
	r.config.Log.Debug("Created VMs", "vms", vms)

	r.config.Log.Info("Preparing LISA folders", "root", r.lisaRoot, "workFolder", r.work)
	dirs, err = r.provisioner.PrepareWorkFolder(ctx, r.lisaRoot, r.work, n, r.logRoot)
	if err != nil {
		return nil, nil, NewRuntimeError(err)
	}
	r.config.Log.Info("LISA setup done", "duration", time.Since(setupStart))
	return vms, dirs, nil
}

func (r *lisaRunner) parseResults(ctx context.Context, inputs []resultparse.Input) {
	r.config.Log.Info("Parsing results", "count", len(inputs))
	parser, err := resultparse.New(r.config.ParserCommand, *r.run.ParseResults, r.config.Runner,
		r.config.Log.New("component", "resultparse"), r.metrics)
	if err != nil {
		r.config.Log.Error("Cannot parse results", "err", err)
		r.metrics.RecordErrorDetails("parser", err)
		return
	}
	if failed := parser.ParseAll(ctx, inputs); failed > 0 {
		r.config.Log.Warn("Some results could not be parsed", "failed", failed, "total", len(inputs))
	}
}

func (r *lisaRunner) startMetrics() error {
	cfg := r.config.MetricsConfig
	if !cfg.Enabled {
		return nil
	}
	r.config.Log.Info("Starting metrics server", "addr", cfg.ListenAddr, "port", cfg.ListenPort)
	server, err := opmetrics.StartServer(r.registry, cfg.ListenAddr, cfg.ListenPort)
	if err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	r.config.Log.Info("Started metrics server", "endpoint", server.Addr())
	r.metricsServer = server
	return nil
}

func (r *lisaRunner) stopMetrics(ctx context.Context) {
	if r.metricsServer == nil {
		return
	}
	if err := r.metricsServer.Stop(ctx); err != nil {
		r.config.Log.Warn("Failed to stop metrics server", "err", err)
	}
	r.metricsServer = nil
}
