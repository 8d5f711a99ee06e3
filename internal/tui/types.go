package tui

import "time"

// TaskItem is a summary of a task for the history view
type TaskItem struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Mode         string     `json:"mode"`
	Status       string     `json:"status"`
	IsSimulation bool       `json:"is_simulation"`
	CreatedAt    time.Time  `json:"created_at"`
	EndedAt      *time.Time `json:"ended_at,omitempty"`
}

// LogLine is one transcript entry of a task
type LogLine struct {
	Timestamp   time.Time `json:"timestamp"`
	Direction   string    `json:"direction"`
	ContentType string    `json:"content_type"`
	Content     string    `json:"content"`
}

// StageLine is one persisted pipeline stage of a task
type StageLine struct {
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Direction string `json:"direction"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// TaskDetail is the full task information
type TaskDetail struct {
	TaskItem
	Dir    string      `json:"task_dir"`
	Log    []LogLine   `json:"log"`
	Stages []StageLine `json:"stages"`
}

// ActiveTask is the running task as reported by /api/status
type ActiveTask struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Mode   string `json:"mode"`
	Status string `json:"status"`
}

// StatusView is the body of /api/status
type StatusView struct {
	Task     *ActiveTask       `json:"task"`
	State    string            `json:"state"`
	Hardware map[string]string `json:"hardware"`
	Network  string            `json:"network"`
}
