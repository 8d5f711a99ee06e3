package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags a StatusEvent.
type EventType string

const (
	EventRadioStatus   EventType = "RadioStatusUpdate"
	EventSdrStatus     EventType = "SdrStatusUpdate"
	EventLlmStatus     EventType = "LlmStatusUpdate"
	EventSttStatus     EventType = "SttStatusUpdate"
	EventTtsStatus     EventType = "TtsStatusUpdate"
	EventTranslate     EventType = "TranslateStatusUpdate"
	EventNetwork       EventType = "NetworkConnectivityUpdate"
	EventLog           EventType = "Log"
	EventTaskState     EventType = "TaskStateUpdate"
	EventPipelineStage EventType = "PipelineStageUpdate"
)

// StatusPayload carries a device or service status.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// LogPayload carries one log line.
type LogPayload struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	TaskID  string `json:"task_id,omitempty"`
}

// TaskStatePayload carries a task lifecycle transition.
type TaskStatePayload struct {
	TaskID string     `json:"task_id"`
	Mode   TaskMode   `json:"mode"`
	Status TaskStatus `json:"status"`
}

// StagePayload carries a pipeline stage transition.
type StagePayload struct {
	TaskID    string     `json:"task_id"`
	RunID     string     `json:"run_id"`
	Stage     StageKind  `json:"stage"`
	Direction Direction  `json:"direction"`
	State     StageState `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Detail    string     `json:"detail,omitempty"`
}

// StatusEvent is the tagged union broadcast to observers.
type StatusEvent struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload"`
	At      time.Time   `json:"-"`
}

// NewConnEvent builds a device status event.
func NewConnEvent(t EventType, status ConnectionStatus, msg string) StatusEvent {
	return StatusEvent{Type: t, Payload: StatusPayload{Status: string(status), Message: msg}, At: time.Now()}
}

// NewHealthEvent builds a service status event.
func NewHealthEvent(t EventType, status HealthStatus, msg string) StatusEvent {
	return StatusEvent{Type: t, Payload: StatusPayload{Status: string(status), Message: msg}, At: time.Now()}
}

// NewLogEvent builds a log line event.
func NewLogEvent(level, taskID, msg string) StatusEvent {
	return StatusEvent{Type: EventLog, Payload: LogPayload{Level: level, Message: msg, TaskID: taskID}, At: time.Now()}
}

// NewTaskStateEvent builds a task lifecycle event.
func NewTaskStateEvent(taskID string, mode TaskMode, status TaskStatus) StatusEvent {
	return StatusEvent{Type: EventTaskState, Payload: TaskStatePayload{TaskID: taskID, Mode: mode, Status: status}, At: time.Now()}
}

// NewStageEvent builds a pipeline stage event.
func NewStageEvent(s *PipelineStage, detail string) StatusEvent {
	return StatusEvent{Type: EventPipelineStage, Payload: StagePayload{
		TaskID:    s.TaskID,
		RunID:     s.RunID,
		Stage:     s.Kind,
		Direction: s.Direction,
		State:     s.State,
		Reason:    s.Reason,
		Detail:    detail,
	}, At: time.Now()}
}

// UnmarshalJSON decodes the payload into the concrete type for the tag.
func (e *StatusEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Type = raw.Type
	switch raw.Type {
	case EventRadioStatus, EventSdrStatus, EventLlmStatus, EventSttStatus,
		EventTtsStatus, EventTranslate, EventNetwork:
		var p StatusPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case EventLog:
		var p LogPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case EventTaskState:
		var p TaskStatePayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	case EventPipelineStage:
		var p StagePayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return err
		}
		e.Payload = p
	default:
		return fmt.Errorf("unknown event type %q", raw.Type)
	}
	return nil
}

// StatusOf returns the status string of a status-carrying event.
func (e StatusEvent) StatusOf() string {
	if p, ok := e.Payload.(StatusPayload); ok {
		return p.Status
	}
	return ""
}
