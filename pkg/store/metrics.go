package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/moai-flow/swarm/pkg/types"
)

// InsertTaskMetrics writes a batch of task metrics in one transaction.
// The metrics collector calls this from its drain worker.
func (s *Store) InsertTaskMetrics(metrics []types.TaskMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT INTO task_metrics (task_id, agent_id, duration_ms, result, tokens, files_changed, timestamp, tags)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range metrics {
			tags, err := json.Marshal(m.Tags)
			if err != nil {
				return err
			}
			ts := m.FinishedAt
			if ts.IsZero() {
				ts = time.Now()
			}
			if _, err := stmt.Exec(m.TaskID, m.AgentID, m.DurationMs, string(m.Result),
				m.TokensUsed, m.FilesChanged, ts.UTC().Format(time.RFC3339Nano), string(tags)); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertAgentMetrics writes a batch of agent metrics in one transaction
func (s *Store) InsertAgentMetrics(metrics []types.AgentMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT INTO agent_metrics (agent_id, metric_type, value, timestamp) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range metrics {
			ts := m.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			if _, err := stmt.Exec(m.AgentID, m.MetricType, m.Value,
				ts.UTC().Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertSwarmMetrics writes a batch of swarm metrics in one transaction
func (s *Store) InsertSwarmMetrics(metrics []types.SwarmMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return s.WithTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(
			`INSERT INTO swarm_metrics (swarm_id, metric_type, value, timestamp) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, m := range metrics {
			ts := m.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			if _, err := stmt.Exec(m.SwarmID, m.MetricType, m.Value,
				ts.UTC().Format(time.RFC3339Nano)); err != nil {
				return err
			}
		}
		return nil
	})
}

// TaskMetricsSince returns stored task metrics at or after since,
// optionally filtered by agent ID, oldest first.
func (s *Store) TaskMetricsSince(since time.Time, agentID string) ([]types.TaskMetric, error) {
	query := `SELECT task_id, agent_id, duration_ms, result, tokens, files_changed, timestamp, tags
		FROM task_metrics WHERE timestamp >= ?`
	args := []interface{}{since.UTC().Format(time.RFC3339Nano)}

	if agentID != "" {
		query += " AND agent_id = ?"
		args = append(args, agentID)
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("task_metrics_since", err)
	}
	defer rows.Close()

	var out []types.TaskMetric
	for rows.Next() {
		var (
			m      types.TaskMetric
			result string
			ts     string
			tags   string
		)
		if err := rows.Scan(&m.TaskID, &m.AgentID, &m.DurationMs, &result,
			&m.TokensUsed, &m.FilesChanged, &ts, &tags); err != nil {
			return nil, storageErr("task_metrics_since", err)
		}
		m.Result = types.TaskResult(result)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			m.FinishedAt = t
		}
		if tags != "" {
			_ = json.Unmarshal([]byte(tags), &m.Tags)
		}
		out = append(out, m)
	}

	return out, storageErr("task_metrics_since", rows.Err())
}
