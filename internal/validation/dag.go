package validation

import (
	"fmt"
	"sort"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// validateDAG performs graph analysis on the workflow:
// cycle detection (Kahn's algorithm) and dead-node reachability (BFS from roots).
func validateDAG(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = true
	}

	// preds[id] = predecessors of node id, succs[id] = successors of node id.
	preds := make(map[string][]string, len(wf.Nodes))
	succs := make(map[string][]string, len(wf.Nodes))

	for _, e := range wf.Edges {
		if !nodeIDs[e.Source] || !nodeIDs[e.Target] {
			continue // dangling endpoints already caught by semantic
		}
		preds[e.Target] = append(preds[e.Target], e.Source)
		succs[e.Source] = append(succs[e.Source], e.Target)
	}

	// Kahn's algorithm for cycle detection.
	inDegree := make(map[string]int, len(wf.Nodes))
	for id := range nodeIDs {
		inDegree[id] = len(preds[id])
	}

	queue := make([]string, 0, len(wf.Nodes))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	// Sort roots for deterministic output.
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, s := range succs[node] {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}

	if visited != len(nodeIDs) {
		result.AddError("nodes", schema.ErrCodeCycleDetected, "workflow contains a dependency cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from root nodes through successor edges.
	roots := make([]string, 0)
	for id := range nodeIDs {
		if len(preds[id]) == 0 {
			roots = append(roots, id)
		}
	}

	reachable := make(map[string]bool, len(nodeIDs))
	bfsQueue := make([]string, len(roots))
	copy(bfsQueue, roots)
	for _, r := range roots {
		reachable[r] = true
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, s := range succs[node] {
			if !reachable[s] {
				reachable[s] = true
				bfsQueue = append(bfsQueue, s)
			}
		}
	}

	for _, n := range wf.Nodes {
		if !reachable[n.ID] {
			result.AddWarning(fmt.Sprintf("nodes[%s]", n.ID),
				schema.ErrCodeValidation,
				fmt.Sprintf("node %q is unreachable from any root node", n.ID))
		}
	}

	return result
}
