package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morphos-dev/morphos/pkg/schema"
)

func TestNewCELEngine(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)
	assert.NotNil(t, e)
	assert.Equal(t, "cel", e.Name())
}

// --- Basic evaluation ---

func TestCEL_BooleanLiteral(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "true", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Comparison(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), "3 > 2 && 1 < 2", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

// --- Branch conditions ---

func TestCEL_NodeOutputAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"nodes": map[string]any{
			"Reviewer": map[string]any{"score": 8, "verdict": "pass"},
		},
	}
	out, err := e.Evaluate(context.Background(), `nodes.Reviewer.verdict == 'pass'`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_InputAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `input == 'retry'`, map[string]any{"input": "retry"})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_VariablesAccess(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	data := map[string]any{
		"variables": map[string]any{"node.a.runCount": 2},
	}
	out, err := e.Evaluate(context.Background(), `variables['node.a.runCount'] < 3`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_MissingEnvironmentDefaultsEmpty(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	out, err := e.Evaluate(context.Background(), `'x' in nodes`, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

// --- Errors ---

func TestCEL_EmptyExpression(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "", nil)
	require.Error(t, err)
}

func TestCEL_CompileErrorIsValidation(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	require.Error(t, err)
	serr, ok := err.(*schema.Error)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, serr.Code)
}

func TestCEL_UnknownVariableRejected(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	// Only nodes, variables, and input exist in the sandbox.
	_, err = e.Evaluate(context.Background(), "os.getenv('HOME')", nil)
	require.Error(t, err)
}

// --- Cache ---

func TestCEL_ConcurrentEvaluationSharesCache(t *testing.T) {
	e, err := NewCELEngine()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), "1 + 2 == 3", nil)
			assert.NoError(t, err)
			assert.Equal(t, true, out)
		}()
	}
	wg.Wait()
}
