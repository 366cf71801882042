// Package resultparse hands finished suites to the LISA result parser.
package resultparse

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"github.com/lis-test/infra/lisa-runner/metrics"
	"github.com/lis-test/infra/lisa-runner/runconfig"
	"github.com/lis-test/infra/lisa-runner/shell"
)

const (
	DefaultCommand = "python -m lisa_parser"

	// ICALog is the summary log LISA writes into every result folder.
	ICALog = "ica.log"
)

// Input is one suite result.
type Input struct {
	DefinitionPath string
	LogFolder      string
}

// Parser invokes the parser command once per result.
type Parser struct {
	command []string
	params  runconfig.Params
	runner  shell.Runner
	log     log.Logger
	metrics *metrics.Metrics
}

// New builds a parser. command is split on whitespace so interpreters and
// module flags can be part of it.
func New(command string, params runconfig.Params, runner shell.Runner, logger log.Logger, m *metrics.Metrics) (*Parser, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("parser command cannot be empty")
	}
	if logger == nil {
		logger = log.New()
	}
	return &Parser{command: fields, params: params, runner: runner, log: logger, metrics: m}, nil
}

// Args returns the parser arguments for one result:
// definition, <logFolder>/ica.log, k1, v1, ...
func (p *Parser) Args(in Input) []string {
	args := []string{in.DefinitionPath, filepath.Join(in.LogFolder, ICALog)}
	return append(args, p.params.Flatten()...)
}

// Parse runs the parser for one result.
func (p *Parser) Parse(ctx context.Context, in Input) error {
	args := append(append([]string{}, p.command[1:]...), p.Args(in)...)
	out, err := shell.Output(ctx, p.runner, shell.Command{Name: p.command[0], Args: args})
	if err != nil {
		return fmt.Errorf("failed to parse results of %s: %w", in.DefinitionPath, err)
	}
	p.log.Debug("Parser finished", "definition", in.DefinitionPath, "output", out)
	return nil
}

// ParseAll runs the parser for every result. Failures are logged and counted,
// never returned; the number of failures is.
func (p *Parser) ParseAll(ctx context.Context, inputs []Input) int {
	failed := 0
	for i, in := range inputs {
		if ctx.Err() != nil {
			return failed + len(inputs) - i
		}
		if err := p.Parse(ctx, in); err != nil {
			p.log.Error("Result parsing failed", "definition", in.DefinitionPath, "folder", in.LogFolder, "err", err)
			p.metrics.RecordParserFailure()
			failed++
			continue
		}
		p.log.Info("Parsed results", "definition", in.DefinitionPath, "folder", in.LogFolder)
	}
	return failed
}
