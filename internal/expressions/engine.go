package expressions

import "context"

// Engine evaluates expressions inside workflow nodes.
// Three implementations: CEL and Expr (condition nodes), GoJQ (transform nodes).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
