package evolution

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/morphos-dev/morphos/pkg/schema"
)

// HistoryLog is the append-only evolution audit trail: one JSONL file per
// workflow id, one record per line. Safe for concurrent use within a
// single process.
type HistoryLog struct {
	dir string
	mu  sync.Mutex
}

// NewHistoryLog creates a HistoryLog rooted at dir, creating it if needed.
func NewHistoryLog(dir string) (*HistoryLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &HistoryLog{dir: dir}, nil
}

func (h *HistoryLog) filePath(workflowID string) string {
	return filepath.Join(h.dir, workflowID+".jsonl")
}

// Append writes one record as a single JSON line. Records are never
// rewritten after append.
func (h *HistoryLog) Append(rec *schema.EvolutionHistoryRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return schema.NewError(schema.ErrCodeEvolution, "marshal history record").WithCause(err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.OpenFile(h.filePath(rec.WorkflowID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return schema.NewError(schema.ErrCodeEvolution, "open history file").WithCause(err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return schema.NewError(schema.ErrCodeEvolution, "append history record").WithCause(err)
	}
	return f.Sync()
}

// Read returns all records for a workflow in append order. An absent file
// yields an empty list. Blank lines are tolerated and malformed lines are
// skipped so one corrupt entry never poisons the whole history.
func (h *HistoryLog) Read(workflowID string) ([]schema.EvolutionHistoryRecord, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := os.Open(h.filePath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return []schema.EvolutionHistoryRecord{}, nil
		}
		return nil, schema.NewError(schema.ErrCodeEvolution, "open history file").WithCause(err)
	}
	defer f.Close()

	records := []schema.EvolutionHistoryRecord{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec schema.EvolutionHistoryRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, schema.NewError(schema.ErrCodeEvolution, "read history file").WithCause(err)
	}
	return records, nil
}
