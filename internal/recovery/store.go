package recovery

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/foremanhq/foreman/pkg/models"
)

// Store persists checkpoints and archived runtime instances in SQLite.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// ProjectStorePath returns the path to the project-local recovery database.
func ProjectStorePath(projectRoot string) string {
	return filepath.Join(projectRoot, ".foreman", "recovery.db")
}

// Open opens an SQLite database at the given path.
// It creates the parent directories if they don't exist.
// WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &Store{conn: conn, path: path}, nil
}

// OpenProject opens the project-local recovery database.
func OpenProject(projectRoot string) (*Store, error) {
	return Open(ProjectStorePath(projectRoot))
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Checkpoints},
		{2, migrationV2Instances},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Checkpoints = `
CREATE TABLE IF NOT EXISTS checkpoints (
	task_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	artifacts TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (task_id, created_at)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_task_id ON checkpoints(task_id);
`

const migrationV2Instances = `
CREATE TABLE IF NOT EXISTS instances (
	instance_id TEXT PRIMARY KEY,
	config_id TEXT NOT NULL,
	status TEXT NOT NULL,
	final_status TEXT,
	error_reason TEXT,
	pid INTEGER,
	enqueued_at DATETIME NOT NULL,
	started_at DATETIME,
	ended_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_instances_config_id ON instances(config_id);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
`

// SaveCheckpoint inserts a checkpoint row.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	artifacts, err := json.Marshal(cp.Artifacts)
	if err != nil {
		return fmt.Errorf("marshal artifacts: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO checkpoints (task_id, status, progress, artifacts, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		cp.TaskID, string(cp.Status), cp.Progress, string(artifacts), cp.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the most recent checkpoint for a task.
// Returns sql.ErrNoRows wrapped if none exists.
func (s *Store) LatestCheckpoint(taskID string) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT task_id, status, progress, artifacts, created_at
		FROM checkpoints WHERE task_id = ?
		ORDER BY created_at DESC LIMIT 1`, taskID)

	var cp Checkpoint
	var status, artifacts string
	if err := row.Scan(&cp.TaskID, &status, &cp.Progress, &artifacts, &cp.CreatedAt); err != nil {
		return Checkpoint{}, fmt.Errorf("scan checkpoint for %s: %w", taskID, err)
	}
	cp.Status = models.TaskStatus(status)
	if artifacts != "" {
		if err := json.Unmarshal([]byte(artifacts), &cp.Artifacts); err != nil {
			return Checkpoint{}, fmt.Errorf("unmarshal artifacts: %w", err)
		}
	}
	return cp, nil
}

// SaveInstance upserts a runtime instance row. Used both for live status
// updates and for the final archive record.
func (s *Store) SaveInstance(inst *models.RuntimeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		INSERT OR REPLACE INTO instances
		(instance_id, config_id, status, final_status, error_reason, pid, enqueued_at, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.InstanceID, inst.ConfigID, string(inst.Status), string(inst.FinalStatus),
		inst.ErrorReason, inst.PID, inst.EnqueuedAt, nullableTime(inst.StartedAt), nullableTime(inst.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("save instance %s: %w", inst.InstanceID, err)
	}
	return nil
}

// ListInstancesByStatus returns all instances with the given status.
func (s *Store) ListInstancesByStatus(status models.InstanceStatus) ([]models.RuntimeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT instance_id, config_id, status, final_status, error_reason, pid, enqueued_at, started_at, ended_at
		FROM instances WHERE status = ?
		ORDER BY enqueued_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var result []models.RuntimeInstance
	for rows.Next() {
		var inst models.RuntimeInstance
		var st, finalSt string
		var started, ended sql.NullTime
		if err := rows.Scan(&inst.InstanceID, &inst.ConfigID, &st, &finalSt,
			&inst.ErrorReason, &inst.PID, &inst.EnqueuedAt, &started, &ended); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		inst.Status = models.InstanceStatus(st)
		inst.FinalStatus = models.InstanceStatus(finalSt)
		if started.Valid {
			t := started.Time
			inst.StartedAt = &t
		}
		if ended.Valid {
			t := ended.Time
			inst.EndedAt = &t
		}
		result = append(result, inst)
	}
	return result, rows.Err()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
