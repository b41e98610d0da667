package evolution

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/morphos-dev/morphos/pkg/schema"
)

// pathBlacklist rejects segments that corrupt object graphs when the
// document round-trips through loosely-typed editors.
var pathBlacklist = map[string]bool{
	"__proto__":   true,
	"prototype":   true,
	"constructor": true,
}

// ApplyMutations applies the mutation sequence to a deep copy of the
// workflow and returns the copy. A missing target node or edge for any
// operation fails the whole batch; the input workflow is never modified.
// Unknown operation tags are no-ops.
func ApplyMutations(wf *schema.Workflow, mutations []schema.MutationOp) (*schema.Workflow, error) {
	cp := wf.Clone()

	for i, op := range mutations {
		var err error
		switch op.Op {
		case schema.MutationUpdateNodeConfig:
			err = updateNodeData(cp, op.NodeID, op.Path, decodeRaw(op.NewValue))
		case schema.MutationUpdatePrompt:
			path := op.Path
			if path == "" {
				path = "prompt"
			}
			err = updateNodeData(cp, op.NodeID, path, op.NewPrompt)
		case schema.MutationUpdateModel:
			err = updateNodeData(cp, op.NodeID, "model", op.NewModel)
		case schema.MutationAddNode:
			err = addNode(cp, op)
		case schema.MutationRemoveNode:
			err = removeNode(cp, op.NodeID)
		case schema.MutationAddEdge:
			err = addEdge(cp, op.Edge)
		case schema.MutationRemoveEdge:
			err = removeEdge(cp, op.EdgeID)
		case schema.MutationUpdateWorkflowSetting:
			err = updateSetting(cp, op.Setting, op.SettingValue)
		default:
			// Forward compatibility: skip mutation kinds this engine
			// does not recognize.
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeEvolution,
				"mutation %d (%s): %s", i, op.Op, err.Error()).WithCause(err)
		}
	}

	return cp, nil
}

func decodeRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

// updateNodeData sets a nested value inside a node's data payload via a
// dot-separated path. Purely numeric segments index arrays; missing
// intermediate containers are created.
func updateNodeData(wf *schema.Workflow, nodeID, path string, value any) error {
	node := wf.NodeByID(nodeID)
	if node == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", nodeID)
	}
	if path == "" {
		return schema.NewError(schema.ErrCodeValidation, "empty mutation path")
	}

	segments := strings.Split(path, ".")
	for _, seg := range segments {
		if pathBlacklist[seg] {
			return schema.NewErrorf(schema.ErrCodeValidation, "path segment %q is not allowed", seg)
		}
	}

	data := map[string]any{}
	if len(node.Data) > 0 {
		if err := json.Unmarshal(node.Data, &data); err != nil {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"node %q data is not an object", nodeID).WithCause(err)
		}
	}

	updated, err := setPath(data, segments, value)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(updated)
	if err != nil {
		return err
	}
	node.Data = raw
	return nil
}

// setPath writes value at the segment path inside container, creating
// missing intermediates: an array when the next segment is numeric, an
// object otherwise. Returns the (possibly replaced) container.
func setPath(container any, segments []string, value any) (any, error) {
	seg := segments[0]
	idx, isIndex := numericSegment(seg)

	if isIndex {
		arr, ok := container.([]any)
		if !ok {
			if container != nil {
				if _, isMap := container.(map[string]any); !isMap {
					return nil, schema.NewErrorf(schema.ErrCodeValidation,
						"cannot index non-array with %q", seg)
				}
			}
			arr = []any{}
		}
		for len(arr) <= idx {
			arr = append(arr, nil)
		}
		if len(segments) == 1 {
			arr[idx] = value
			return arr, nil
		}
		child := arr[idx]
		if child == nil {
			child = emptyContainerFor(segments[1])
		}
		updated, err := setPath(child, segments[1:], value)
		if err != nil {
			return nil, err
		}
		arr[idx] = updated
		return arr, nil
	}

	obj, ok := container.(map[string]any)
	if !ok {
		obj = map[string]any{}
	}
	if len(segments) == 1 {
		obj[seg] = value
		return obj, nil
	}
	child := obj[seg]
	if child == nil {
		child = emptyContainerFor(segments[1])
	}
	updated, err := setPath(child, segments[1:], value)
	if err != nil {
		return nil, err
	}
	obj[seg] = updated
	return obj, nil
}

func emptyContainerFor(nextSegment string) any {
	if _, isIndex := numericSegment(nextSegment); isIndex {
		return []any{}
	}
	return map[string]any{}
}

func numericSegment(seg string) (int, bool) {
	if seg == "" {
		return 0, false
	}
	n, err := strconv.Atoi(seg)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func addNode(wf *schema.Workflow, op schema.MutationOp) error {
	if op.Node == nil {
		return schema.NewError(schema.ErrCodeValidation, "add-node requires a node payload")
	}
	if wf.NodeByID(op.Node.ID) != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "node %q already exists", op.Node.ID)
	}
	wf.Nodes = append(wf.Nodes, *op.Node)

	if op.ConnectFrom != "" {
		if wf.NodeByID(op.ConnectFrom) == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", op.ConnectFrom)
		}
		wf.Edges = append(wf.Edges, schema.WorkflowEdge{
			ID:     uuid.NewString(),
			Source: op.ConnectFrom,
			Target: op.Node.ID,
		})
	}
	if op.ConnectTo != "" {
		if wf.NodeByID(op.ConnectTo) == nil {
			return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", op.ConnectTo)
		}
		wf.Edges = append(wf.Edges, schema.WorkflowEdge{
			ID:     uuid.NewString(),
			Source: op.Node.ID,
			Target: op.ConnectTo,
		})
	}
	return nil
}

func removeNode(wf *schema.Workflow, nodeID string) error {
	if wf.NodeByID(nodeID) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", nodeID)
	}

	nodes := wf.Nodes[:0]
	for _, n := range wf.Nodes {
		if n.ID != nodeID {
			nodes = append(nodes, n)
		}
	}
	wf.Nodes = nodes

	edges := wf.Edges[:0]
	for _, e := range wf.Edges {
		if e.Source != nodeID && e.Target != nodeID {
			edges = append(edges, e)
		}
	}
	wf.Edges = edges
	return nil
}

func addEdge(wf *schema.Workflow, edge *schema.WorkflowEdge) error {
	if edge == nil {
		return schema.NewError(schema.ErrCodeValidation, "add-edge requires an edge payload")
	}
	if wf.NodeByID(edge.Source) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", edge.Source)
	}
	if wf.NodeByID(edge.Target) == nil {
		return schema.NewErrorf(schema.ErrCodeNotFound, "node %q not found", edge.Target)
	}
	e := *edge
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	for _, existing := range wf.Edges {
		if existing.ID == e.ID {
			return schema.NewErrorf(schema.ErrCodeValidation, "edge %q already exists", e.ID)
		}
	}
	wf.Edges = append(wf.Edges, e)
	return nil
}

func removeEdge(wf *schema.Workflow, edgeID string) error {
	for i, e := range wf.Edges {
		if e.ID == edgeID {
			wf.Edges = append(wf.Edges[:i], wf.Edges[i+1:]...)
			return nil
		}
	}
	return schema.NewErrorf(schema.ErrCodeNotFound, "edge %q not found", edgeID)
}

func updateSetting(wf *schema.Workflow, setting, value string) error {
	switch setting {
	case "name":
		wf.Name = value
	case "description":
		wf.Description = value
	case "workingDirectory":
		wf.WorkingDirectory = value
	case "schedule":
		wf.Schedule = value
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown workflow setting %q", setting)
	}
	return nil
}
