// Package provision prepares the VMs and LISA working directories of a run:
// VHD clones, Hyper-V VMs created from them and one copy of the LISA tree per
// worker.
package provision

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/spf13/afero"

	"github.com/lis-test/infra/lisa-runner/metrics"
	"github.com/lis-test/infra/lisa-runner/runconfig"
	"github.com/lis-test/infra/lisa-runner/shell"
)

const osCreateFlags = os.O_CREATE | os.O_TRUNC | os.O_WRONLY

var ErrVMNotFound = errors.New("VM not found")

// Provisioner talks to Hyper-V through PowerShell and to the disk through fs.
type Provisioner struct {
	ps      *shell.PowerShell
	fs      afero.Fs
	log     log.Logger
	metrics *metrics.Metrics
}

func New(ps *shell.PowerShell, fs afero.Fs, logger log.Logger, m *metrics.Metrics) *Provisioner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = log.New()
	}
	return &Provisioner{ps: ps, fs: fs, log: logger, metrics: m}
}

// VMNames returns <name>1 .. <name>count.
func VMNames(spec runconfig.VMSpec, count int) []string {
	names := make([]string, count)
	for i := range names {
		names[i] = spec.Name + strconv.Itoa(i+1)
	}
	return names
}

// CreateVMs creates one VM per cloned disk, named after VMNames.
func (p *Provisioner) CreateVMs(ctx context.Context, spec runconfig.VMSpec, vhds []string) ([]string, error) {
	names := VMNames(spec, len(vhds))
	for i, name := range names {
		expr := newVMCommand(spec, name, vhds[i])
		if _, err := p.ps.Eval(ctx, expr); err != nil {
			p.metrics.RecordErrorDetails("vm_create", err)
			return nil, fmt.Errorf("failed to create VM %s: %w", name, err)
		}
		p.metrics.RecordProvisionedVM()
		p.log.Info("Created VM", "vm", name, "vhd", vhds[i])
	}
	return names, nil
}

// FindVMs checks that the VMs of a previous setup still exist.
func (p *Provisioner) FindVMs(ctx context.Context, spec runconfig.VMSpec, count int) ([]string, error) {
	names := VMNames(spec, count)
	for _, name := range names {
		expr := "Get-VM -Name " + shell.Quote(name) + computerName(spec) + " | Out-Null"
		if _, err := p.ps.Eval(ctx, expr); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrVMNotFound, name, err)
		}
		p.log.Debug("Found VM", "vm", name)
	}
	return names, nil
}

func newVMCommand(spec runconfig.VMSpec, name, vhd string) string {
	var b strings.Builder
	b.WriteString("New-VM -Name " + shell.Quote(name) + " -VHDPath " + shell.Quote(vhd))
	if spec.Memory != "" {
		// Memory is a PowerShell size literal such as 2GB, left unquoted.
		b.WriteString(" -MemoryStartupBytes " + spec.Memory)
	}
	if spec.Generation > 0 {
		b.WriteString(" -Generation " + strconv.Itoa(spec.Generation))
	}
	if spec.SwitchName != "" {
		b.WriteString(" -SwitchName " + shell.Quote(spec.SwitchName))
	}
	b.WriteString(computerName(spec))
	b.WriteString(" | Out-Null")
	return b.String()
}

func computerName(spec runconfig.VMSpec) string {
	if spec.Server == "" {
		return ""
	}
	return " -ComputerName " + shell.Quote(spec.Server)
}
