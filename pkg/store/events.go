package store

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/moai-flow/swarm/pkg/types"
)

// EventFilter narrows GetEvents results. Zero values match everything.
type EventFilter struct {
	EventType string
	AgentID   string
	Since     time.Time
}

// InsertEvent persists one lifecycle event
func (s *Store) InsertEvent(event *types.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	meta, err := json.Marshal(event.Metadata)
	if err != nil {
		return storageErr("insert_event", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agent_events (id, event_type, agent_id, agent_type, timestamp, metadata)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.AgentID, event.AgentType,
		event.Timestamp.UTC().Format(time.RFC3339Nano), string(meta),
	)
	return storageErr("insert_event", err)
}

// GetEvents returns events matching filter, newest first, up to limit
func (s *Store) GetEvents(filter EventFilter, limit int) ([]*types.Event, error) {
	query := `SELECT id, event_type, agent_id, agent_type, timestamp, metadata
		FROM agent_events WHERE 1=1`
	args := []interface{}{}

	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}

	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, storageErr("get_events", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		var (
			ev   types.Event
			ts   string
			meta string
		)
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.AgentID, &ev.AgentType, &ts, &meta); err != nil {
			return nil, storageErr("get_events", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &ev.Metadata)
		}
		events = append(events, &ev)
	}

	return events, storageErr("get_events", rows.Err())
}

// SaveAgentRecord upserts an agent into the registry table
func (s *Store) SaveAgentRecord(agent *types.Agent) error {
	meta, err := json.Marshal(agent.Metadata)
	if err != nil {
		return storageErr("save_agent", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO agent_registry (agent_id, agent_type, status, started_at, metadata)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id) DO UPDATE SET
			agent_type = excluded.agent_type,
			status = excluded.status,
			metadata = excluded.metadata`,
		agent.ID, agent.Type, string(agent.State),
		agent.CreatedAt.UTC().Format(time.RFC3339Nano), string(meta),
	)
	return storageErr("save_agent", err)
}

// FinishAgentRecord marks an agent as finished and records its lifetime
func (s *Store) FinishAgentRecord(agentID string, finishedAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE agent_registry SET
			finished_at = ?,
			duration_ms = (julianday(?) - julianday(started_at)) * 86400000.0
		 WHERE agent_id = ?`,
		finishedAt.UTC().Format(time.RFC3339Nano),
		finishedAt.UTC().Format(time.RFC3339Nano),
		agentID,
	)
	return storageErr("finish_agent", err)
}
