// Package store provides SQLite-backed persistence for ElfRadio tasks.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/elfradio/elfradio/internal/models"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides access to the ElfRadio SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		status TEXT NOT NULL,
		start_time DATETIME NOT NULL,
		end_time DATETIME,
		task_dir TEXT NOT NULL UNIQUE,
		is_simulation INTEGER NOT NULL DEFAULT 0,
		metadata_json TEXT
	);

	CREATE TABLE IF NOT EXISTS log_entries (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		direction TEXT NOT NULL,
		content_type TEXT NOT NULL,
		content TEXT NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS stage_records (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		direction TEXT NOT NULL,
		state TEXT NOT NULL,
		reason TEXT,
		content_refs TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		FOREIGN KEY (task_id) REFERENCES tasks(id)
	);

	CREATE TABLE IF NOT EXISTS decisions (
		id TEXT PRIMARY KEY,
		action TEXT NOT NULL,
		inputs_hash TEXT NOT NULL,
		outcome TEXT NOT NULL,
		task_id TEXT,
		details TEXT,
		timestamp DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_start_time ON tasks(start_time);
	CREATE INDEX IF NOT EXISTS idx_log_entries_task_id ON log_entries(task_id);
	CREATE INDEX IF NOT EXISTS idx_stage_records_task_id ON stage_records(task_id);
	CREATE INDEX IF NOT EXISTS idx_decisions_task_id ON decisions(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Task Operations ---

// CreateTask inserts the record of a newly started task.
func (s *Store) CreateTask(task *models.Task) error {
	_, err := s.db.Exec(
		`INSERT INTO tasks (id, name, mode, status, start_time, task_dir, is_simulation, metadata_json) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Name, string(task.Mode), string(task.Status), task.CreatedAt.UTC(), task.Dir, task.IsSimulation, nullString(task.Metadata),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// UpdateTaskStatus records a lifecycle transition.
func (s *Store) UpdateTaskStatus(id string, status models.TaskStatus) error {
	_, err := s.db.Exec(`UPDATE tasks SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// EndTask stamps the end time and final status of a task.
func (s *Store) EndTask(id string, endedAt time.Time) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET end_time = ?, status = ? WHERE id = ?`,
		endedAt.UTC(), string(models.TaskStatusTerminated), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrTaskNotFound
	}
	return nil
}

const taskColumns = `id, name, mode, status, start_time, end_time, task_dir, is_simulation, metadata_json`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*models.Task, error) {
	var task models.Task
	var mode, status string
	var endedAt sql.NullTime
	var metadata sql.NullString
	if err := row.Scan(&task.ID, &task.Name, &mode, &status, &task.CreatedAt, &endedAt, &task.Dir, &task.IsSimulation, &metadata); err != nil {
		return nil, err
	}
	task.Mode = models.TaskMode(mode)
	task.Status = models.TaskStatus(status)
	if endedAt.Valid {
		t := endedAt.Time
		task.EndedAt = &t
	}
	task.Metadata = metadata.String
	return &task, nil
}

// GetTask retrieves a task by ID. Returns nil, nil when absent.
func (s *Store) GetTask(id string) (*models.Task, error) {
	task, err := scanTask(s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ListTasks returns tasks newest first. A limit of zero means no limit.
func (s *Store) ListTasks(limit int) ([]models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks ORDER BY start_time DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// --- Log Entries ---

// AddLogEntry appends a transcript line. ID and Timestamp are filled in
// when empty.
func (s *Store) AddLogEntry(entry *models.LogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO log_entries (id, task_id, timestamp, direction, content_type, content) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TaskID, entry.Timestamp.UTC(), string(entry.Direction), string(entry.ContentType), entry.Content,
	)
	return err
}

// ListLogEntries returns a task's transcript in time order.
func (s *Store) ListLogEntries(taskID string) ([]models.LogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, timestamp, direction, content_type, content FROM log_entries WHERE task_id = ? ORDER BY timestamp, rowid`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var dir, ct string
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Timestamp, &dir, &ct, &e.Content); err != nil {
			return nil, err
		}
		e.Direction = models.Direction(dir)
		e.ContentType = models.ContentType(ct)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Stage Records ---

// WriteStageRecord persists a finished pipeline stage.
func (s *Store) WriteStageRecord(rec *models.StageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	refs := rec.ContentRefs
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`INSERT INTO stage_records (id, task_id, run_id, stage, direction, state, reason, content_refs, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskID, rec.RunID, string(rec.Stage), string(rec.Direction), string(rec.State), nullString(rec.Reason),
		string(refsJSON), rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	)
	return err
}

// ListStageRecords returns a task's stage records in start order.
func (s *Store) ListStageRecords(taskID string) ([]models.StageRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, task_id, run_id, stage, direction, state, reason, content_refs, started_at, finished_at
		 FROM stage_records WHERE task_id = ? ORDER BY started_at, rowid`,
		taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.StageRecord
	for rows.Next() {
		var r models.StageRecord
		var stage, dir, state, refsJSON string
		var reason sql.NullString
		if err := rows.Scan(&r.ID, &r.TaskID, &r.RunID, &stage, &dir, &state, &reason, &refsJSON, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, err
		}
		r.Stage = models.StageKind(stage)
		r.Direction = models.Direction(dir)
		r.State = models.StageState(state)
		r.Reason = reason.String
		if err := json.Unmarshal([]byte(refsJSON), &r.ContentRefs); err != nil {
			return nil, fmt.Errorf("decode content refs: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Decisions ---

// WriteDecision writes an audit record for a state-mutating command.
func (s *Store) WriteDecision(action, inputsHash, outcome, taskID, details string) (*models.DecisionRecord, error) {
	rec := &models.DecisionRecord{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		TaskID:     taskID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	_, err := s.db.Exec(
		`INSERT INTO decisions (id, action, inputs_hash, outcome, task_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Action, rec.InputsHash, rec.Outcome, nullString(rec.TaskID), nullString(rec.Details), rec.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListDecisions returns the most recent audit records first.
func (s *Store) ListDecisions(limit int) ([]models.DecisionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, action, inputs_hash, outcome, task_id, details, timestamp FROM decisions ORDER BY timestamp DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.DecisionRecord
	for rows.Next() {
		var r models.DecisionRecord
		var taskID, details sql.NullString
		if err := rows.Scan(&r.ID, &r.Action, &r.InputsHash, &r.Outcome, &taskID, &details, &r.Timestamp); err != nil {
			return nil, err
		}
		r.TaskID = taskID.String
		r.Details = details.String
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
