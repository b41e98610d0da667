package evolution

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morphos-dev/morphos/pkg/schema"
)

func TestHistoryLog_AppendReadRoundTrip(t *testing.T) {
	log, err := NewHistoryLog(t.TempDir())
	require.NoError(t, err)

	first := &schema.EvolutionHistoryRecord{
		Timestamp:  time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		WorkflowID: "wf-1",
		Mode:       "auto",
		Applied:    true,
		Evolution: schema.WorkflowEvolution{
			Reasoning: "tighten the prompt",
			Mutations: []schema.MutationOp{
				{Op: schema.MutationUpdatePrompt, NodeID: "agent-1", NewPrompt: "better"},
			},
		},
	}
	second := &schema.EvolutionHistoryRecord{
		Timestamp:        time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC),
		WorkflowID:       "wf-1",
		Applied:          false,
		ValidationErrors: []string{"cycle detected"},
	}
	require.NoError(t, log.Append(first))
	require.NoError(t, log.Append(second))

	records, err := log.Read("wf-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "tighten the prompt", records[0].Evolution.Reasoning)
	assert.True(t, records[0].Applied)
	assert.False(t, records[1].Applied)
	assert.Equal(t, []string{"cycle detected"}, records[1].ValidationErrors)
}

func TestHistoryLog_AbsentFileYieldsEmpty(t *testing.T) {
	log, err := NewHistoryLog(t.TempDir())
	require.NoError(t, err)

	records, err := log.Read("never-evolved")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestHistoryLog_SeparateFilesPerWorkflow(t *testing.T) {
	log, err := NewHistoryLog(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, log.Append(&schema.EvolutionHistoryRecord{WorkflowID: "wf-a", Applied: true}))
	require.NoError(t, log.Append(&schema.EvolutionHistoryRecord{WorkflowID: "wf-b", Applied: false}))

	a, err := log.Read("wf-a")
	require.NoError(t, err)
	b, err := log.Read("wf-b")
	require.NoError(t, err)
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.True(t, a[0].Applied)
	assert.False(t, b[0].Applied)
}

func TestHistoryLog_ToleratesBlankAndMalformedLines(t *testing.T) {
	dir := t.TempDir()
	log, err := NewHistoryLog(dir)
	require.NoError(t, err)

	content := `{"workflowId":"wf-1","applied":true}

not json at all
{"workflowId":"wf-1","applied":false}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wf-1.jsonl"), []byte(content), 0o644))

	records, err := log.Read("wf-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].Applied)
	assert.False(t, records[1].Applied)
}
