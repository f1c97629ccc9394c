package flow

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/tombee/promptflow/pkg/errors"
)

// Definition represents a YAML-based flow definition: a DAG of named
// nodes, the flow's own inputs, and the outputs assembled from node
// results once every node has run.
type Definition struct {
	// Inputs declares the flow's own input parameters.
	Inputs map[string]InputDefinition `yaml:"inputs" json:"inputs"`

	// Outputs declares the flow's output values, each a reference
	// expression resolved once every contributing node has completed.
	Outputs map[string]OutputDefinition `yaml:"outputs" json:"outputs"`

	// Nodes are the executable units of the flow.
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`

	// NodeVariants maps a node name to its available variants, keyed by
	// variant ID. A node whose UseVariants is set resolves its
	// effective configuration from this map at load time.
	NodeVariants map[string]map[string]NodeDefinition `yaml:"node_variants,omitempty" json:"node_variants,omitempty"`

	// AdditionalIncludes lists extra files/directories copied into a
	// run's snapshot verbatim; the engine never inspects their content.
	AdditionalIncludes []string `yaml:"additional_includes,omitempty" json:"additional_includes,omitempty"`

	// EnvironmentVariables declares flow-level environment variable
	// defaults, overridable by the caller at run time.
	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty" json:"environment_variables,omitempty"`
}

// InputDefinition describes one flow input parameter.
type InputDefinition struct {
	Type        string      `yaml:"type" json:"type"`
	Default     interface{} `yaml:"default,omitempty" json:"default,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	IsChatInput bool        `yaml:"is_chat_input,omitempty" json:"is_chat_input,omitempty"`
}

// OutputDefinition describes one flow output value.
type OutputDefinition struct {
	Type        string `yaml:"type" json:"type"`
	Reference   string `yaml:"reference" json:"reference"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	IsChatOutput bool  `yaml:"is_chat_output,omitempty" json:"is_chat_output,omitempty"`
}

// ActivateConfig gates whether a node runs at all: when When evaluates
// to false, the node (and everything depending only on it) is marked
// Bypassed rather than executed.
type ActivateConfig struct {
	When string `yaml:"when" json:"when"`
}

// NodeDefinition describes one node in the flow graph.
type NodeDefinition struct {
	// Name uniquely identifies this node within the flow. Referenced by
	// other nodes as ${Name.output...} or ${Name.inputs...}.
	Name string `yaml:"name" json:"name"`

	// Type is the node kind (e.g. "llm", "python", "prompt"); it selects
	// which pkg/tools.Tool implements this node.
	Type string `yaml:"type" json:"type"`

	// Source names the tool this node invokes, resolved against a
	// pkg/tools.Registry at load time.
	Source string `yaml:"source" json:"source"`

	// Inputs are this node's raw input values, which may contain
	// ${...} references into flow inputs or other nodes' outputs.
	Inputs map[string]interface{} `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Activate gates this node's execution on an upstream condition.
	Activate *ActivateConfig `yaml:"activate,omitempty" json:"activate,omitempty"`

	// Aggregation marks this node as operating across every line of a
	// batch rather than a single line; it never participates in
	// per-line caching.
	Aggregation bool `yaml:"aggregation,omitempty" json:"aggregation,omitempty"`

	// UseVariants selects this node's effective definition from
	// Definition.NodeVariants rather than using Inputs/Source directly.
	UseVariants bool `yaml:"use_variants,omitempty" json:"use_variants,omitempty"`

	// DefaultVariantID is the variant used when the caller does not
	// select one explicitly.
	DefaultVariantID string `yaml:"default_variant_id,omitempty" json:"default_variant_id,omitempty"`

	// EnableCache opts this node into per-line result caching, keyed by
	// a hash of the node's identity and its resolved inputs. Supplemented
	// from original_source (enable_cache on a node's tool definition);
	// never applies to an aggregation node.
	EnableCache bool `yaml:"enable_cache,omitempty" json:"enable_cache,omitempty"`
}

// ParseDefinition parses a flow definition from YAML bytes, applies
// defaults, and validates it.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, &errors.UserError{Message: fmt.Sprintf("failed to parse flow definition: %s", err), Cause: err}
	}

	def.ApplyDefaults()

	if err := def.Validate(); err != nil {
		return nil, err
	}

	return &def, nil
}

// ApplyDefaults fills in node-level defaults that depend on flow-level
// context (e.g. resolving a default variant).
func (d *Definition) ApplyDefaults() {
	for i := range d.Nodes {
		node := &d.Nodes[i]
		if !node.UseVariants {
			continue
		}
		variants := d.NodeVariants[node.Name]
		if len(variants) == 0 {
			continue
		}
		variantID := node.DefaultVariantID
		if variantID == "" {
			continue
		}
		if chosen, ok := variants[variantID]; ok {
			node.Type = chosen.Type
			node.Source = chosen.Source
			node.Inputs = chosen.Inputs
		}
	}
}

// Validate checks the definition for structural errors: missing names,
// duplicate node names, unresolvable variant selections, and references
// in activate conditions to nodes not present in the flow (a cheap
// syntactic check; reference *resolution* happens at run time once
// actual values are available).
func (d *Definition) Validate() error {
	if len(d.Nodes) == 0 {
		return &errors.UserError{Message: "flow must declare at least one node"}
	}

	seen := make(map[string]bool, len(d.Nodes))
	for _, node := range d.Nodes {
		if node.Name == "" {
			return &errors.UserError{Message: "every node must have a name"}
		}
		if seen[node.Name] {
			return &errors.UserError{Node: node.Name, Message: "duplicate node name"}
		}
		seen[node.Name] = true

		if !node.UseVariants && node.Source == "" {
			return &errors.UserError{Node: node.Name, Message: "node must set source, or use_variants with a default_variant_id"}
		}

		if node.UseVariants {
			if len(d.NodeVariants[node.Name]) == 0 {
				return &errors.UserError{Node: node.Name, Message: "use_variants is set but no variants are declared for this node"}
			}
			if node.DefaultVariantID != "" {
				if _, ok := d.NodeVariants[node.Name][node.DefaultVariantID]; !ok {
					return &errors.UserError{Node: node.Name, Message: fmt.Sprintf("default_variant_id %q is not among this node's variants", node.DefaultVariantID)}
				}
			}
		}
	}

	for name, out := range d.Outputs {
		if out.Reference == "" {
			return &errors.UserError{Message: fmt.Sprintf("output %q must set a reference expression", name)}
		}
	}

	return nil
}

// NodeNames returns the name of every node in declaration order.
func (d *Definition) NodeNames() []string {
	names := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		names[i] = n.Name
	}
	return names
}

// Node returns the node definition with the given name, or nil.
func (d *Definition) Node(name string) *NodeDefinition {
	for i := range d.Nodes {
		if d.Nodes[i].Name == name {
			return &d.Nodes[i]
		}
	}
	return nil
}
