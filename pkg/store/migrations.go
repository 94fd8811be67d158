package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one ordered schema step. Versions are dense and applied
// strictly in order; schema_info records the high-water mark.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS agent_events (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				agent_id TEXT,
				agent_type TEXT,
				timestamp TEXT NOT NULL,
				metadata TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_events_type ON agent_events(event_type)`,
			`CREATE INDEX IF NOT EXISTS idx_agent_events_agent ON agent_events(agent_id)`,
			`CREATE TABLE IF NOT EXISTS agent_registry (
				agent_id TEXT PRIMARY KEY,
				agent_type TEXT,
				status TEXT NOT NULL,
				started_at TEXT NOT NULL,
				finished_at TEXT,
				duration_ms REAL,
				metadata TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS task_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				task_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				duration_ms REAL NOT NULL,
				result TEXT NOT NULL,
				tokens INTEGER,
				files_changed INTEGER,
				timestamp TEXT NOT NULL,
				tags TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_task_metrics_agent ON task_metrics(agent_id)`,
			`CREATE INDEX IF NOT EXISTS idx_task_metrics_ts ON task_metrics(timestamp)`,
			`CREATE TABLE IF NOT EXISTS agent_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				agent_id TEXT NOT NULL,
				metric_type TEXT NOT NULL,
				value REAL NOT NULL,
				timestamp TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS swarm_metrics (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				swarm_id TEXT NOT NULL,
				metric_type TEXT NOT NULL,
				value REAL NOT NULL,
				timestamp TEXT NOT NULL
			)`,
		},
	},
	{
		version: 2,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS semantic_knowledge (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				topic TEXT NOT NULL,
				category TEXT,
				knowledge TEXT NOT NULL,
				confidence REAL NOT NULL DEFAULT 0.5,
				tags TEXT,
				created_at TEXT NOT NULL,
				updated_at TEXT NOT NULL,
				last_used TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_knowledge_project ON semantic_knowledge(project_id, topic)`,
			`CREATE TABLE IF NOT EXISTS code_patterns (
				id TEXT PRIMARY KEY,
				project_id TEXT NOT NULL,
				pattern_name TEXT NOT NULL,
				pattern_data TEXT NOT NULL,
				category TEXT,
				confidence REAL NOT NULL DEFAULT 0.5,
				tags TEXT,
				usage_count INTEGER NOT NULL DEFAULT 0,
				created_at TEXT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_patterns_project ON code_patterns(project_id, category)`,
		},
	},
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`)
	if err != nil {
		return storageErr("migrate", err)
	}

	var current int
	err = s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_info`).Scan(&current)
	if err != nil {
		return storageErr("migrate", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(m); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) applyMigration(m migration) error {
	return s.WithTx(func(tx *sql.Tx) error {
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d: %w", m.version, err)
			}
		}
		_, err := tx.Exec(`INSERT INTO schema_info (version, applied_at) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339))
		return err
	})
}

// SchemaVersion returns the highest applied migration version
func (s *Store) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_info`).Scan(&v)
	return v, storageErr("schema_version", err)
}
