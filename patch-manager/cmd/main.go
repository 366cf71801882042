package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	patchmgr "github.com/lis-test/infra/patch-manager"
	"github.com/lis-test/infra/patch-manager/flags"
	"github.com/lis-test/infra/patch-manager/server"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	oplog.SetupDefaults()

	app := cli.NewApp()
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "patch-manager"
	app.Usage = "LIS patch lifecycle manager"
	app.Description = "patch-manager ports upstream Hyper-V driver commits to the LIS project, builds them and collects install results"
	app.Commands = []*cli.Command{
		{
			Name:   patchmgr.CommandCreate,
			Usage:  "create one patch per upstream commit touching the mapped files",
			Action: runCommand(patchmgr.CommandCreate),
		},
		{
			Name:   patchmgr.CommandApply,
			Usage:  "clone the project once per patch and apply it",
			Action: runCommand(patchmgr.CommandApply),
		},
		{
			Name:   patchmgr.CommandCompile,
			Usage:  "build every patched project, moving failures aside",
			Action: runCommand(patchmgr.CommandCompile),
		},
		{
			Name:   patchmgr.CommandCommit,
			Usage:  "commit every build and push it to the remote branch",
			Action: runCommand(patchmgr.CommandCommit),
		},
		{
			Name:   patchmgr.CommandServe,
			Usage:  "collect build and install results over HTTP until all have arrived",
			Action: cliapp.LifecycleCmd(serve),
		},
	}
	app.Action = func(ctx *cli.Context) error {
		if ctx.Args().Present() {
			return fmt.Errorf("invalid command - %s", ctx.Args().First())
		}
		return cli.ShowAppHelp(ctx)
	}

	ctx := ctxinterrupt.WithSignalWaiterMain(context.Background())
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func setupLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	logger := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(logger.Handler())
	return logger
}

func loadConfig(ctx *cli.Context) (*patchmgr.Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, err
	}
	cfg, err := patchmgr.LoadConfig(ctx.String(flags.Config.Name))
	if err != nil {
		return nil, err
	}
	if ctx.IsSet(flags.ExpectedRequests.Name) {
		cfg.Server.ExpectedRequests = ctx.Int(flags.ExpectedRequests.Name)
	}
	return cfg, nil
}

func runCommand(command string) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		logger := setupLogger(ctx).New("command", command)
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}
		return patchmgr.NewManager(cfg, nil, afero.NewOsFs(), logger).Run(ctx.Context, command)
	}
}

func serve(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logger := setupLogger(ctx).New("command", patchmgr.CommandServe)
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(patchmgr.CommandServe); err != nil {
		return nil, err
	}
	srv, err := server.New(server.Config{
		Address:          cfg.Server.Address,
		Port:             cfg.Server.Port,
		ExpectedRequests: cfg.Server.ExpectedRequests,
		BuildsPath:       cfg.Paths.Builds,
		FailuresPath:     cfg.Paths.Failures,
	}, afero.NewOsFs(), opmetrics.NewRegistry(), logger, closeApp)
	if err != nil {
		return nil, err
	}
	return srv, nil
}
