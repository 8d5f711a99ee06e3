// Package audit records a decision entry for every state-mutating command.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/elfradio/elfradio/internal/store"
)

// Command names recorded by the task registry.
const (
	ActionTaskStart = "task.start"
	ActionTaskStop  = "task.stop"
	ActionSendText  = "task.send_text"
)

// Outcomes.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Recorder persists decision records.
type Recorder interface {
	Record(action string, inputs interface{}, outcome, taskID, details string) (*models.DecisionRecord, error)
}

// DecisionWriter writes decision records to the store.
type DecisionWriter struct {
	store *store.Store
}

// NewDecisionWriter creates a new decision writer.
func NewDecisionWriter(s *store.Store) *DecisionWriter {
	return &DecisionWriter{store: s}
}

// Record writes a decision entry for a state-mutating action.
func (w *DecisionWriter) Record(action string, inputs interface{}, outcome, taskID, details string) (*models.DecisionRecord, error) {
	return w.store.WriteDecision(action, HashInputs(inputs), outcome, taskID, details)
}

// HashInputs creates a SHA256 hash of the inputs for reproducibility.
func HashInputs(inputs interface{}) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
