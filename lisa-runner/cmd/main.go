package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"

	lisarun "github.com/lis-test/infra/lisa-runner"
	"github.com/lis-test/infra/lisa-runner/exitcodes"
	"github.com/lis-test/infra/lisa-runner/flags"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "lisa-runner"
	app.Usage = "Parallel LISA test runner"
	app.Description = "lisa-runner provisions Hyper-V VMs and runs LISA suites on them in parallel"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			code := exitCode(err)
			cli.HandleExitCoder(cli.Exit(err.Error(), code))
		}
	}

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

// exitCode maps typed errors to process exit codes. Untyped errors come from
// flag parsing and count as configuration errors.
func exitCode(err error) int {
	if lisarun.IsRuntimeError(err) {
		return exitcodes.RuntimeErr
	}
	return exitcodes.ConfigErr
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := lisarun.NewConfig(ctx, log)
	if err != nil {
		return nil, lisarun.NewConfigError(fmt.Errorf("failed to create config: %w", err))
	}
	cfg.Log.Debug("Config", "config", cfg.ConfigPath, "skipSetup", cfg.SkipSetup, "workFolder", cfg.WorkFolder)

	runner, err := lisarun.New(cfg, Version, closeApp)
	if err != nil {
		return nil, err
	}
	return runner, nil
}
