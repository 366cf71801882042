package flags

import (
	"fmt"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

const EnvVarPrefix = "PATCH_MANAGER"

var (
	Config = &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "CONFIG"),
		Usage:    "Path to the patch manager TOML configuration",
	}
	ExpectedRequests = &cli.IntFlag{
		Name:    "expected-requests",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "EXPECTED_REQUESTS"),
		Usage:   "Overrides server.expected_requests when set",
	}
)

var requiredFlags = []cli.Flag{
	Config,
}

var optionalFlags = []cli.Flag{
	ExpectedRequests,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)

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
