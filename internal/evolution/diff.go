package evolution

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// Snapshot captures the workflow's nodes and edges at a point in time.
// The capture deep-copies node data so later mutations never alias it.
func Snapshot(wf *schema.Workflow) *schema.WorkflowSnapshot {
	cp := wf.Clone()
	return &schema.WorkflowSnapshot{
		ID:         cp.ID,
		Name:       cp.Name,
		Nodes:      cp.Nodes,
		Edges:      cp.Edges,
		CapturedAt: time.Now().UTC(),
	}
}

// Diff computes the structural change between two snapshots. A node is
// "changed" when present in both sets with differing serialized content.
// Edges are compared purely by id-set membership: an edge with the same id
// is always considered unchanged.
func Diff(before, after *schema.WorkflowSnapshot) *schema.WorkflowDiff {
	d := &schema.WorkflowDiff{}

	beforeNodes := make(map[string]*schema.WorkflowNode, len(before.Nodes))
	for i := range before.Nodes {
		beforeNodes[before.Nodes[i].ID] = &before.Nodes[i]
	}
	afterNodes := make(map[string]*schema.WorkflowNode, len(after.Nodes))
	for i := range after.Nodes {
		afterNodes[after.Nodes[i].ID] = &after.Nodes[i]
	}

	for i := range after.Nodes {
		n := &after.Nodes[i]
		prev, ok := beforeNodes[n.ID]
		if !ok {
			d.AddedNodes = append(d.AddedNodes, *n)
			continue
		}
		if !nodesEqual(prev, n) {
			d.ChangedNodes = append(d.ChangedNodes, n.ID)
		}
	}
	for i := range before.Nodes {
		n := &before.Nodes[i]
		if _, ok := afterNodes[n.ID]; !ok {
			d.RemovedNodes = append(d.RemovedNodes, *n)
		}
	}

	beforeEdges := make(map[string]bool, len(before.Edges))
	for _, e := range before.Edges {
		beforeEdges[e.ID] = true
	}
	afterEdges := make(map[string]bool, len(after.Edges))
	for _, e := range after.Edges {
		afterEdges[e.ID] = true
	}

	for _, e := range after.Edges {
		if !beforeEdges[e.ID] {
			d.AddedEdges = append(d.AddedEdges, e)
		}
	}
	for _, e := range before.Edges {
		if !afterEdges[e.ID] {
			d.RemovedEdges = append(d.RemovedEdges, e.ID)
		}
	}

	return d
}

// nodesEqual compares two nodes by full serialized content.
func nodesEqual(a, b *schema.WorkflowNode) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
