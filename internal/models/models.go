// Package models defines the core domain types for ElfRadio.
package models

import (
	"fmt"
	"time"
)

// TaskMode selects the operating profile of a task.
type TaskMode string

const (
	ModeGeneralCommunication   TaskMode = "GeneralCommunication"
	ModeAirbandListening       TaskMode = "AirbandListening"
	ModeSatelliteCommunication TaskMode = "SatelliteCommunication"
	ModeEmergencyCommunication TaskMode = "EmergencyCommunication"
	ModeMeshtasticGateway      TaskMode = "MeshtasticGateway"
	ModeSimulatedQsoPractice   TaskMode = "SimulatedQsoPractice"
)

// AllModes lists every supported task mode.
var AllModes = []TaskMode{
	ModeGeneralCommunication,
	ModeAirbandListening,
	ModeSatelliteCommunication,
	ModeEmergencyCommunication,
	ModeMeshtasticGateway,
	ModeSimulatedQsoPractice,
}

// ParseTaskMode validates a mode string.
func ParseTaskMode(s string) (TaskMode, error) {
	for _, m := range AllModes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown task mode %q", s)
}

// IsSimulation reports whether the mode runs without real hardware.
func (m TaskMode) IsSimulation() bool {
	return m == ModeSimulatedQsoPractice
}

// CanTransmit reports whether outgoing messages are allowed in this mode.
func (m TaskMode) CanTransmit() bool {
	return m != ModeAirbandListening
}

// RequiresVoice reports whether outgoing text must be synthesized before transmit.
func (m TaskMode) RequiresVoice() bool {
	return m != ModeMeshtasticGateway
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusIdle         TaskStatus = "Idle"
	TaskStatusInitializing TaskStatus = "Initializing"
	TaskStatusRunning      TaskStatus = "Running"
	TaskStatusStopping     TaskStatus = "Stopping"
	TaskStatusTerminated   TaskStatus = "Terminated"
)

// Active reports whether the status counts toward the single active task.
func (s TaskStatus) Active() bool {
	return s == TaskStatusInitializing || s == TaskStatusRunning || s == TaskStatusStopping
}

// Task represents one user-initiated communication session.
type Task struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Mode         TaskMode   `json:"mode"`
	Status       TaskStatus `json:"status"`
	Dir          string     `json:"task_dir"`
	IsSimulation bool       `json:"is_simulation"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
	Metadata     string     `json:"metadata,omitempty"`
}

// TaskSnapshot is the read-only view of the active task.
type TaskSnapshot struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Mode      TaskMode   `json:"mode"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// TaskName builds the directory-safe task name.
func TaskName(mode TaskMode, id string, at time.Time) string {
	simple := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] != '-' {
			simple = append(simple, id[i])
		}
	}
	return fmt.Sprintf("%s_%sZ_%s", mode, at.UTC().Format("20060102_150405"), simple)
}

// LeaseKind identifies an exclusive hardware resource.
type LeaseKind string

const (
	LeasePTT      LeaseKind = "PTT"
	LeaseAudioIn  LeaseKind = "AudioIn"
	LeaseAudioOut LeaseKind = "AudioOut"
	LeaseSDR      LeaseKind = "SDR"
)

// AllLeaseKinds lists every hardware resource kind.
var AllLeaseKinds = []LeaseKind{LeasePTT, LeaseAudioIn, LeaseAudioOut, LeaseSDR}

// ConnectionStatus is the last known health of a device.
type ConnectionStatus string

const (
	ConnConnected    ConnectionStatus = "Connected"
	ConnDisconnected ConnectionStatus = "Disconnected"
	ConnChecking     ConnectionStatus = "Checking"
	ConnError        ConnectionStatus = "Error"
	ConnUnknown      ConnectionStatus = "Unknown"
)

// HealthStatus is the last known health of a service.
type HealthStatus string

const (
	HealthOk      HealthStatus = "Ok"
	HealthWarning HealthStatus = "Warning"
	HealthError   HealthStatus = "Error"
	HealthUnknown HealthStatus = "Unknown"
	// HealthChecking is reported while a call is in flight.
	HealthChecking HealthStatus = "Checking"
)

// Direction is the flow of a pipeline run relative to the station.
type Direction string

const (
	DirectionIncoming Direction = "Incoming"
	DirectionOutgoing Direction = "Outgoing"
	DirectionInternal Direction = "Internal"
)

// ContentType classifies a transcript log entry.
type ContentType string

const (
	ContentText   ContentType = "Text"
	ContentAudio  ContentType = "Audio"
	ContentStatus ContentType = "Status"
)

// LogEntry is one human-readable transcript line of a task.
type LogEntry struct {
	ID          string      `json:"id"`
	TaskID      string      `json:"task_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Direction   Direction   `json:"direction"`
	ContentType ContentType `json:"content_type"`
	Content     string      `json:"content"`
}

// DecisionRecord is an audit entry for a state-mutating command.
type DecisionRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}
