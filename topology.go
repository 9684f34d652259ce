package conductor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TopologyNode declares one node of a workflow topology.
type TopologyNode struct {
	Name         string   `json:"name" yaml:"name"`
	Layer        string   `json:"layer" yaml:"layer"`
	Supervisor   string   `json:"supervisor,omitempty" yaml:"supervisor,omitempty"`
	DependsOn    []string `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Coordination string   `json:"coordination,omitempty" yaml:"coordination,omitempty"`
	Capabilities []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Constraints  []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Topology is a declarative workflow shape, loadable from YAML.
type Topology struct {
	Name  string         `json:"name" yaml:"name"`
	Nodes []TopologyNode `json:"nodes" yaml:"nodes"`
}

// Build converts the topology into an immutable graph. Node declaration
// order matters: supervisors must be declared before their subordinates.
func (t *Topology) Build() (*Graph, error) {
	builder := NewGraphBuilder()
	for _, decl := range t.Nodes {
		layer, err := parseLayer(decl.Layer)
		if err != nil {
			return nil, err
		}
		var opts []NodeOption
		if decl.Supervisor != "" {
			opts = append(opts, WithSupervisor(decl.Supervisor))
		}
		if decl.Coordination != "" {
			mode, err := parseCoordinationMode(decl.Coordination)
			if err != nil {
				return nil, err
			}
			opts = append(opts, WithCoordination(mode))
		}
		if len(decl.Capabilities) > 0 {
			opts = append(opts, WithCapabilities(decl.Capabilities...))
		}
		if len(decl.Constraints) > 0 {
			opts = append(opts, WithConstraints(decl.Constraints...))
		}
		if err := builder.AddNode(decl.Name, layer, opts...); err != nil {
			return nil, err
		}
	}
	for _, decl := range t.Nodes {
		for _, dep := range decl.DependsOn {
			if err := builder.AddDependency(dep, decl.Name); err != nil {
				return nil, err
			}
		}
	}
	return builder.Build()
}

// LoadTopologyFile loads a topology from a YAML file and builds its graph.
func LoadTopologyFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return LoadTopologyString(string(data))
}

// LoadTopologyString loads a topology from a YAML string and builds its graph.
func LoadTopologyString(data string) (*Graph, error) {
	var topology Topology
	if err := yaml.Unmarshal([]byte(data), &topology); err != nil {
		return nil, fmt.Errorf("failed to unmarshal topology: %w", err)
	}
	return topology.Build()
}

func parseLayer(s string) (Layer, error) {
	switch Layer(s) {
	case LayerStrategic, LayerTactical, LayerOperational:
		return Layer(s), nil
	default:
		return "", newGraphBuildError("unknown layer %q", s)
	}
}

func parseCoordinationMode(s string) (CoordinationMode, error) {
	switch CoordinationMode(s) {
	case ModeDynamic, ModeParallel, ModeSequential:
		return CoordinationMode(s), nil
	default:
		return "", newGraphBuildError("unknown coordination mode %q", s)
	}
}
