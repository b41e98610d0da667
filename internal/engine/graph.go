package engine

import "github.com/morphos-dev/morphos/pkg/schema"

// graph is the adjacency view of a workflow, built once per run.
// Predecessor and successor lists preserve edge declaration order.
type graph struct {
	nodes    map[string]*schema.WorkflowNode
	preds    map[string][]string
	succs    map[string][]string
	outEdges map[string][]schema.WorkflowEdge
	nameToID map[string]string
}

func buildGraph(wf *schema.Workflow) *graph {
	g := &graph{
		nodes:    make(map[string]*schema.WorkflowNode, len(wf.Nodes)),
		preds:    make(map[string][]string),
		succs:    make(map[string][]string),
		outEdges: make(map[string][]schema.WorkflowEdge),
		nameToID: make(map[string]string, len(wf.Nodes)),
	}
	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		g.nodes[n.ID] = n
		g.nameToID[n.DataName()] = n.ID
	}
	for _, e := range wf.Edges {
		if g.nodes[e.Source] == nil || g.nodes[e.Target] == nil {
			continue
		}
		g.preds[e.Target] = append(g.preds[e.Target], e.Source)
		g.succs[e.Source] = append(g.succs[e.Source], e.Target)
		g.outEdges[e.Source] = append(g.outEdges[e.Source], e)
	}
	return g
}

// conditionBranches resolves the true/false successor sets for a condition
// node. Explicit targets win; otherwise the first outgoing edge is the true
// branch and the remaining outgoing edges form the false branch.
func (g *graph) conditionBranches(node *schema.WorkflowNode, cfg *schema.ConditionConfig) (trueTargets, falseTargets []string) {
	if len(cfg.TrueTargets) > 0 || len(cfg.FalseTargets) > 0 {
		return cfg.TrueTargets, cfg.FalseTargets
	}
	edges := g.outEdges[node.ID]
	if len(edges) == 0 {
		return nil, nil
	}
	trueTargets = []string{edges[0].Target}
	for _, e := range edges[1:] {
		falseTargets = append(falseTargets, e.Target)
	}
	return trueTargets, falseTargets
}
