package models

import "time"

// StageKind is one step of a pipeline run.
type StageKind string

const (
	StageRecord       StageKind = "Record"
	StageSpeechToText StageKind = "SpeechToText"
	StageTranslate    StageKind = "Translate"
	StageLlmRespond   StageKind = "LlmRespond"
	StageTextToSpeech StageKind = "TextToSpeech"
	StageTransmit     StageKind = "Transmit"
)

// StageState is the progress of a pipeline stage.
type StageState string

const (
	StagePending   StageState = "Pending"
	StageRunning   StageState = "Running"
	StageSucceeded StageState = "Succeeded"
	StageFailed    StageState = "Failed"
	StageCancelled StageState = "Cancelled"
)

// Failure reasons reported on Failed stages.
const (
	ReasonTimeout = "Timeout"
)

// PipelineStage is one unit of work in a pipeline run.
type PipelineStage struct {
	TaskID     string     `json:"task_id"`
	RunID      string     `json:"run_id"`
	Kind       StageKind  `json:"stage"`
	Direction  Direction  `json:"direction"`
	State      StageState `json:"state"`
	Reason     string     `json:"reason,omitempty"`
	Text       string     `json:"text,omitempty"`
	Audio      []byte     `json:"-"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Fail marks the stage failed with a reason.
func (s *PipelineStage) Fail(reason string, at time.Time) {
	s.State = StageFailed
	s.Reason = reason
	s.FinishedAt = at
}

// Succeed marks the stage complete.
func (s *PipelineStage) Succeed(at time.Time) {
	s.State = StageSucceeded
	s.FinishedAt = at
}

// Cancel marks the stage cancelled.
func (s *PipelineStage) Cancel(at time.Time) {
	s.State = StageCancelled
	s.FinishedAt = at
}

// StageRecord is the durable form of a finished stage.
type StageRecord struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"task_id"`
	RunID       string     `json:"run_id"`
	Stage       StageKind  `json:"stage"`
	Direction   Direction  `json:"direction"`
	State       StageState `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	ContentRefs []string   `json:"content_refs"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// RecordOf converts a stage into its durable form.
func RecordOf(s *PipelineStage, contentRefs ...string) StageRecord {
	if contentRefs == nil {
		contentRefs = []string{}
	}
	return StageRecord{
		TaskID:      s.TaskID,
		RunID:       s.RunID,
		Stage:       s.Kind,
		Direction:   s.Direction,
		State:       s.State,
		Reason:      s.Reason,
		ContentRefs: contentRefs,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
}

// TxKind is the origin of an outgoing item.
type TxKind string

const (
	TxManualText     TxKind = "ManualText"
	TxManualVoice    TxKind = "ManualVoice"
	TxAiReply        TxKind = "AiReply"
	TxGeneratedVoice TxKind = "GeneratedVoice"
)

// Priorities used by the outgoing queue. Higher runs first.
const (
	PriorityNormal = 0
	PriorityHigh   = 10
)

// TxItem is one queued outgoing transmission.
type TxItem struct {
	ID       string    `json:"id"`
	Kind     TxKind    `json:"kind"`
	Text     string    `json:"text,omitempty"`
	Audio    []byte    `json:"-"`
	Priority int       `json:"priority"`
	QueuedAt time.Time `json:"queued_at"`
}
