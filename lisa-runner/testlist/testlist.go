// Package testlist expands the suite selection of a run configuration into the
// ordered list of work items handed to the workers.
package testlist

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/ethereum/go-ethereum/log"

	"github.com/lis-test/infra/lisa-runner/runconfig"
	"github.com/lis-test/infra/lisa-runner/suitexml"
)

// WorkItem is one suite to run against one checked-out VM. It is immutable
// once queued.
type WorkItem struct {
	Name   string
	Path   string
	Skip   []string
	Params map[string]map[string]string
}

// Options configure Build.
type Options struct {
	Selection   runconfig.TestSelection
	Catalog     []string
	XMLDir      string
	TestsConfig map[string]runconfig.SuiteOverride
	ExtraTests  []runconfig.ExtraTest
	Log         log.Logger
}

// Build returns one work item per selected suite, in catalog order. When
// extra tests are configured every selected definition is rewritten with the
// extra test cases before Build returns, so no worker ever sees a definition
// without them.
func Build(opts Options) ([]WorkItem, error) {
	if opts.Log == nil {
		opts.Log = log.New()
	}
	if len(opts.Catalog) == 0 {
		return nil, fmt.Errorf("suite catalog is empty")
	}
	xmlDir, err := filepath.Abs(opts.XMLDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve xml directory '%s': %w", opts.XMLDir, err)
	}

	names := Select(opts.Selection, opts.Catalog, opts.Log)
	items := make([]WorkItem, 0, len(names))
	for _, name := range names {
		item := WorkItem{
			Name: name,
			Path: filepath.Join(xmlDir, name),
		}
		if override, ok := opts.TestsConfig[name]; ok {
			item.Skip = slices.Clone(override.Skip)
			item.Params = cloneParams(override.Params)
		} else {
			opts.Log.Debug("No extra config found for suite", "suite", name)
		}
		opts.Log.Debug("Processed suite", "suite", item.Name, "path", item.Path, "skip", item.Skip)
		items = append(items, item)
	}

	if len(opts.ExtraTests) > 0 {
		for _, item := range items {
			if err := injectExtraTests(item.Path, opts.ExtraTests); err != nil {
				return nil, err
			}
			opts.Log.Debug("Injected extra tests", "suite", item.Name, "count", len(opts.ExtraTests))
		}
	}
	return items, nil
}

// Select applies the run/skip selection to the catalog. Run wins over Skip,
// and the result always follows catalog order. Presence of a list matters,
// not its length: an empty run list selects no suites.
func Select(sel runconfig.TestSelection, catalog []string, logger log.Logger) []string {
	var out []string
	switch {
	case sel.Run != nil:
		for _, name := range sel.Run {
			if !slices.Contains(catalog, name) {
				logger.Warn("Ignoring suite that is not in the catalog", "suite", name)
			}
		}
		for _, name := range catalog {
			if slices.Contains(sel.Run, name) {
				out = append(out, name)
			}
		}
	case sel.Skip != nil:
		for _, name := range catalog {
			if !slices.Contains(sel.Skip, name) {
				out = append(out, name)
			}
		}
	default:
		out = slices.Clone(catalog)
	}
	return out
}

func injectExtraTests(path string, extra []runconfig.ExtraTest) error {
	def, err := suitexml.Open(path)
	if err != nil {
		return err
	}
	for i, test := range extra {
		if err := def.InsertTest(test, i); err != nil {
			return fmt.Errorf("failed to insert %s: %w", test.TestName, err)
		}
	}
	return def.Save()
}

func cloneParams(in map[string]map[string]string) map[string]map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]map[string]string, len(in))
	for test, params := range in {
		cp := make(map[string]string, len(params))
		for k, v := range params {
			cp[k] = v
		}
		out[test] = cp
	}
	return out
}
