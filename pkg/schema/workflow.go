package schema

import "encoding/json"

// Workflow is the JSON-serializable workflow document: a DAG of typed nodes
// connected by directed edges. The engine operates on an in-memory copy for
// the duration of a run or an evolution; the persisted document is owned by
// the store.
type Workflow struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	WorkingDirectory string         `json:"workingDirectory,omitempty"`
	Schedule         string         `json:"schedule,omitempty"` // cron expression, consumed by the trigger
	Nodes            []WorkflowNode `json:"nodes"`
	Edges            []WorkflowEdge `json:"edges"`
}

// WorkflowNode is a single node in the graph. Data is a type-tagged
// configuration payload whose shape depends on Type; its embedded "type"
// field must match Type.
type WorkflowNode struct {
	ID       string          `json:"id"`
	Type     NodeType        `json:"type"`
	Position Position        `json:"position"`
	Data     json.RawMessage `json:"data,omitempty"`
}

// WorkflowEdge is a directed dependency from Source to Target.
type WorkflowEdge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Position is layout-only editor state; the engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeType enumerates the kinds of nodes in a workflow.
type NodeType string

const (
	NodeTypeInput     NodeType = "input"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeCondition NodeType = "condition"
	NodeTypeMerge     NodeType = "merge"
	NodeTypeTransform NodeType = "transform"
	NodeTypeOutput    NodeType = "output"
	NodeTypeEvolve    NodeType = "evolve"
)

// ValidNodeTypes is the closed set of recognized node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeTypeInput:     true,
	NodeTypeAgent:     true,
	NodeTypeCondition: true,
	NodeTypeMerge:     true,
	NodeTypeTransform: true,
	NodeTypeOutput:    true,
	NodeTypeEvolve:    true,
}

// nodeDataHeader extracts the common fields every Data payload carries.
type nodeDataHeader struct {
	Type NodeType `json:"type"`
	Name string   `json:"name,omitempty"`
}

// DataType returns the "type" tag embedded in the node's Data payload,
// or "" if Data is empty or malformed.
func (n *WorkflowNode) DataType() NodeType {
	if len(n.Data) == 0 {
		return ""
	}
	var h nodeDataHeader
	if err := json.Unmarshal(n.Data, &h); err != nil {
		return ""
	}
	return h.Type
}

// DataName returns the display name embedded in the node's Data payload,
// falling back to the node ID. References resolve node names through this.
func (n *WorkflowNode) DataName() string {
	if len(n.Data) > 0 {
		var h nodeDataHeader
		if err := json.Unmarshal(n.Data, &h); err == nil && h.Name != "" {
			return h.Name
		}
	}
	return n.ID
}

// InputConfig is the data payload for input nodes.
type InputConfig struct {
	Type   NodeType `json:"type"`
	Name   string   `json:"name,omitempty"`
	Prompt string   `json:"prompt"`
}

// AgentConfig is the data payload for agent nodes.
type AgentConfig struct {
	Type     NodeType       `json:"type"`
	Name     string         `json:"name,omitempty"`
	Provider string         `json:"provider,omitempty"` // adapter key (default: "default")
	Model    string         `json:"model,omitempty"`
	Prompt   string         `json:"prompt"`
	Options  map[string]any `json:"options,omitempty"`
}

// ConditionConfig is the data payload for condition nodes.
// Expression is evaluated by the selected engine ("cel" or "expr", default
// cel) and must produce a boolean. TrueTargets/FalseTargets name the
// successor node IDs for each branch; when omitted, the first outgoing edge
// is the true branch and the rest are the false branch.
type ConditionConfig struct {
	Type         NodeType `json:"type"`
	Name         string   `json:"name,omitempty"`
	Expression   string   `json:"expression"`
	Engine       string   `json:"engine,omitempty"`
	TrueTargets  []string `json:"trueTargets,omitempty"`
	FalseTargets []string `json:"falseTargets,omitempty"`
}

// MergeConfig is the data payload for merge nodes.
type MergeConfig struct {
	Type NodeType `json:"type"`
	Name string   `json:"name,omitempty"`
	// Mode: "object" (default) keys each branch output by node name,
	// "array" collects them in edge order.
	Mode string `json:"mode,omitempty"`
}

// TransformConfig is the data payload for transform nodes: a jq expression
// applied to the object of resolved upstream outputs.
type TransformConfig struct {
	Type       NodeType `json:"type"`
	Name       string   `json:"name,omitempty"`
	Expression string   `json:"expression"`
}

// OutputConfig is the data payload for output nodes.
type OutputConfig struct {
	Type     NodeType `json:"type"`
	Name     string   `json:"name,omitempty"`
	Template string   `json:"template,omitempty"`
}

// EvolveConfig is the data payload for evolve (self-reflect) nodes.
// The node reads a WorkflowEvolution proposal from Source (a reference
// expression resolving to the proposal JSON, typically an upstream agent's
// result) and hands it to the Evolution Applier.
type EvolveConfig struct {
	Type   NodeType `json:"type"`
	Name   string   `json:"name,omitempty"`
	Source string   `json:"source"`
	// Mode is recorded on the history entry ("auto", "suggest", ...).
	Mode string `json:"mode,omitempty"`
}

// Clone returns a deep, independent copy of the workflow. Node Data payloads
// are copied byte-for-byte so mutations on the clone never alias the
// original.
func (w *Workflow) Clone() *Workflow {
	cp := &Workflow{
		ID:               w.ID,
		Name:             w.Name,
		Description:      w.Description,
		WorkingDirectory: w.WorkingDirectory,
		Schedule:         w.Schedule,
		Nodes:            make([]WorkflowNode, len(w.Nodes)),
		Edges:            make([]WorkflowEdge, len(w.Edges)),
	}
	for i, n := range w.Nodes {
		cn := n
		if len(n.Data) > 0 {
			cn.Data = make(json.RawMessage, len(n.Data))
			copy(cn.Data, n.Data)
		}
		cp.Nodes[i] = cn
	}
	copy(cp.Edges, w.Edges)
	return cp
}

// NodeByID returns the node with the given ID, or nil.
func (w *Workflow) NodeByID(id string) *WorkflowNode {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}
