// Package exitcodes defines the standard exit codes used by lisa-runner.
package exitcodes

// Exit code constants used by lisa-runner.
//
// * Success (0): every selected suite ran and produced a result folder
// * ConfigErr (1): the run configuration or the environment is invalid; nothing was provisioned
// * RuntimeErr (2): provisioning failed, or one or more suites produced no result folder
const (
	Success    = 0
	ConfigErr  = 1
	RuntimeErr = 2
)
