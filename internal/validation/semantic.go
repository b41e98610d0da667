package validation

import (
	"encoding/json"
	"fmt"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// validateSemantic checks cross-references JSON Schema cannot express:
// duplicate IDs, edge endpoints, data type tags, node name collisions,
// and per-type config requirements.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for i, n := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)

		if nodeIDs[n.ID] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate node id %q", n.ID))
		}
		nodeIDs[n.ID] = true

		if !schema.ValidNodeTypes[n.Type] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
			continue
		}

		if dt := n.DataType(); dt != "" && dt != n.Type {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q data type %q does not match node type %q", n.ID, dt, n.Type))
		}

		validateNodeConfig(result, path, &wf.Nodes[i])
	}

	// Node display names feed reference resolution; collisions make
	// {{Name.field}} ambiguous.
	names := make(map[string]string, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		name := n.DataName()
		if prev, ok := names[name]; ok {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID), schema.ErrCodeValidation,
				fmt.Sprintf("node name %q is shared by %q and %q; references to it are ambiguous", name, prev, n.ID))
			continue
		}
		names[name] = n.ID
	}

	edgeIDs := make(map[string]bool, len(wf.Edges))
	for i, e := range wf.Edges {
		path := fmt.Sprintf("edges[%d]", i)

		if edgeIDs[e.ID] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate edge id %q", e.ID))
		}
		edgeIDs[e.ID] = true

		if !nodeIDs[e.Source] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %q references unknown source node %q", e.ID, e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %q references unknown target node %q", e.ID, e.Target))
		}
		if e.Source == e.Target {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("edge %q is a self-loop on node %q", e.ID, e.Source))
		}
	}

	return result
}

// validateNodeConfig enforces per-type data payload requirements.
func validateNodeConfig(result *schema.ValidationResult, path string, n *schema.WorkflowNode) {
	switch n.Type {
	case schema.NodeTypeAgent:
		var cfg schema.AgentConfig
		if err := unmarshalConfig(n, &cfg); err != nil {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has malformed agent config: %s", n.ID, err))
			return
		}
		if cfg.Prompt == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("agent node %q requires a prompt", n.ID))
		}
	case schema.NodeTypeCondition:
		var cfg schema.ConditionConfig
		if err := unmarshalConfig(n, &cfg); err != nil {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has malformed condition config: %s", n.ID, err))
			return
		}
		if cfg.Expression == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q requires an expression", n.ID))
		}
		switch cfg.Engine {
		case "", "cel", "expr":
		default:
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("condition node %q has unknown engine %q", n.ID, cfg.Engine))
		}
	case schema.NodeTypeTransform:
		var cfg schema.TransformConfig
		if err := unmarshalConfig(n, &cfg); err != nil {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has malformed transform config: %s", n.ID, err))
			return
		}
		if cfg.Expression == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("transform node %q requires an expression", n.ID))
		}
	case schema.NodeTypeEvolve:
		var cfg schema.EvolveConfig
		if err := unmarshalConfig(n, &cfg); err != nil {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("node %q has malformed evolve config: %s", n.ID, err))
			return
		}
		if cfg.Source == "" {
			result.AddError(path, schema.ErrCodeValidation,
				fmt.Sprintf("evolve node %q requires a source reference", n.ID))
		}
	}
}

func unmarshalConfig(n *schema.WorkflowNode, dst any) error {
	if len(n.Data) == 0 {
		return nil
	}
	return json.Unmarshal(n.Data, dst)
}
