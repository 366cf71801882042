package runconfig

import (
	"fmt"
	"maps"
	"sort"

	"gopkg.in/yaml.v3"
)

// Param is a single key/value pair.
type Param struct {
	Key   string
	Value string
}

// Params is an ordered key/value mapping.
type Params []Param

// UnmarshalYAML implements yaml.Unmarshaler, keeping the document order.
func (p *Params) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of parameters", node.Line)
	}
	out := make(Params, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: parameter %q must be a scalar", v.Line, k.Value)
		}
		out = append(out, Param{Key: k.Value, Value: v.Value})
	}
	*p = out
	return nil
}

// Flatten returns the parameters as k1, v1, k2, v2, ...
func (p Params) Flatten() []string {
	out := make([]string, 0, 2*len(p))
	for _, kv := range p {
		out = append(out, kv.Key, kv.Value)
	}
	return out
}

// GeneralConfig holds the values stamped into the primary VM entry of every
// suite definition.
type GeneralConfig struct {
	LogPath    string            `yaml:"logPath"`
	HvServer   string            `yaml:"hvServer"`
	VMName     string            `yaml:"vmName"`
	TestParams map[string]string `yaml:"testParams"`
	// Fields holds every other key (os, sshKey, ipv4, ...).
	Fields map[string]string `yaml:",inline"`
}

// Stamp returns a copy carrying the checked-out VM name and the run log root.
// The receiver is not modified, so a single GeneralConfig can be shared by all
// workers.
func (g GeneralConfig) Stamp(vmName, logPath string) GeneralConfig {
	out := g
	out.VMName = vmName
	out.LogPath = logPath
	out.TestParams = maps.Clone(g.TestParams)
	out.Fields = maps.Clone(g.Fields)
	return out
}

// VMFields returns the child elements to set on the VM entry, in a stable
// order: hvServer, vmName, then the remaining keys sorted by name.
func (g GeneralConfig) VMFields() Params {
	var out Params
	if g.HvServer != "" {
		out = append(out, Param{Key: "hvServer", Value: g.HvServer})
	}
	if g.VMName != "" {
		out = append(out, Param{Key: "vmName", Value: g.VMName})
	}
	keys := make([]string, 0, len(g.Fields))
	for k := range g.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, Param{Key: k, Value: g.Fields[k]})
	}
	return out
}
