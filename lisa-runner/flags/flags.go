package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"

	"github.com/lis-test/infra/lisa-runner/resultparse"
	"github.com/lis-test/infra/lisa-runner/shell"
	"github.com/lis-test/infra/lisa-runner/worker"
)

const EnvVarPrefix = "LISA_RUNNER"

var (
	Config = &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:    "Path to the run configuration file (eg. 'test_run_conf.json')",
	}
	SkipSetup = &cli.BoolFlag{
		Name:    "skip-setup",
		Aliases: []string{"s"},
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SKIP_SETUP"),
		Usage:   "Reuse the VMs and working directories of a previous run instead of provisioning new ones",
	}
	WorkFolder = &cli.StringFlag{
		Name:    "work-folder",
		Aliases: []string{"w"},
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORK_FOLDER"),
		Usage:   "Folder holding one LISA copy per worker. Defaults to <lisa-root>/test_run",
	}
	LisaRoot = &cli.StringFlag{
		Name:    "lisa-root",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LISA_ROOT"),
		Usage:   "Main LISA folder (the one containing lisa.ps1). Searched upwards from the current directory when unset",
	}
	SettleDelay = &cli.DurationFlag{
		Name:    "settle-delay",
		Value:   worker.DefaultSettleDelay,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SETTLE_DELAY"),
		Usage:   "Time to wait after the LISA runner exits before looking for its log folder",
	}
	PowerShell = &cli.StringFlag{
		Name:    "powershell",
		Value:   shell.DefaultPowerShell,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POWERSHELL"),
		Usage:   "PowerShell binary used to run LISA and the Hyper-V cmdlets",
	}
	Parser = &cli.StringFlag{
		Name:    "parser",
		Value:   resultparse.DefaultCommand,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PARSER"),
		Usage:   "Command invoked for each result when the configuration has parseResults",
	}
)

var requiredFlags = []cli.Flag{
	Config,
}

var optionalFlags = []cli.Flag{
	SkipSetup,
	WorkFolder,
	LisaRoot,
	SettleDelay,
	PowerShell,
	Parser,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
