package memory

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/moai-flow/swarm/pkg/store"
)

// ErrNotFound is returned when a knowledge entry or pattern does not exist
var ErrNotFound = errors.New("memory: not found")

// Knowledge is one semantic memory entry scoped to a project and topic
type Knowledge struct {
	ID         string
	ProjectID  string
	Topic      string
	Category   string
	Data       map[string]interface{}
	Confidence float64
	Tags       []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LastUsed   time.Time
}

// CodePattern is a reusable pattern record with a usage counter
type CodePattern struct {
	ID          string
	ProjectID   string
	PatternName string
	PatternData map[string]interface{}
	Category    string
	Confidence  float64
	Tags        []string
	UsageCount  int
	CreatedAt   time.Time
}

// Semantic is a thin typed layer over the store's semantic_knowledge and
// code_patterns tables. It implements the storage contract only; domain
// modelling of the knowledge lives with the callers.
type Semantic struct {
	store *store.Store
}

// NewSemantic creates a semantic memory backed by the given store
func NewSemantic(s *store.Store) *Semantic {
	return &Semantic{store: s}
}

// SaveKnowledge inserts or updates a knowledge entry
func (m *Semantic) SaveKnowledge(k *Knowledge) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	now := time.Now()
	if k.CreatedAt.IsZero() {
		k.CreatedAt = now
	}
	k.UpdatedAt = now

	data, err := json.Marshal(k.Data)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(k.Tags)
	if err != nil {
		return err
	}

	_, err = m.store.Execute(
		`INSERT INTO semantic_knowledge (id, project_id, topic, category, knowledge, confidence, tags, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			knowledge = excluded.knowledge,
			confidence = excluded.confidence,
			tags = excluded.tags,
			updated_at = excluded.updated_at`,
		k.ID, k.ProjectID, k.Topic, k.Category, string(data), k.Confidence, string(tags),
		k.CreatedAt.UTC().Format(time.RFC3339Nano), k.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// QueryKnowledge returns entries for a project, optionally narrowed by
// topic and category, highest confidence first.
func (m *Semantic) QueryKnowledge(projectID, topic, category string) ([]*Knowledge, error) {
	query := `SELECT id, project_id, topic, category, knowledge, confidence, tags, created_at, updated_at, last_used
		FROM semantic_knowledge WHERE project_id = ?`
	args := []interface{}{projectID}

	if topic != "" {
		query += " AND topic = ?"
		args = append(args, topic)
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY confidence DESC"

	rows, err := m.store.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Knowledge
	for rows.Next() {
		var (
			k                    Knowledge
			data, tags           string
			createdAt, updatedAt string
			lastUsed             *string
		)
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.Topic, &k.Category, &data,
			&k.Confidence, &tags, &createdAt, &updatedAt, &lastUsed); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(data), &k.Data)
		_ = json.Unmarshal([]byte(tags), &k.Tags)
		k.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		k.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		if lastUsed != nil {
			k.LastUsed, _ = time.Parse(time.RFC3339Nano, *lastUsed)
		}
		out = append(out, &k)
	}
	return out, rows.Err()
}

// TouchKnowledge records that an entry was used
func (m *Semantic) TouchKnowledge(id string) error {
	res, err := m.store.Execute(
		`UPDATE semantic_knowledge SET last_used = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SavePattern inserts a code pattern
func (m *Semantic) SavePattern(p *CodePattern) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	data, err := json.Marshal(p.PatternData)
	if err != nil {
		return err
	}
	tags, err := json.Marshal(p.Tags)
	if err != nil {
		return err
	}

	_, err = m.store.Execute(
		`INSERT INTO code_patterns (id, project_id, pattern_name, pattern_data, category, confidence, tags, usage_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ProjectID, p.PatternName, string(data), p.Category, p.Confidence,
		string(tags), p.UsageCount, p.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// IncrementPatternUsage bumps a pattern's usage counter
func (m *Semantic) IncrementPatternUsage(id string) error {
	res, err := m.store.Execute(
		`UPDATE code_patterns SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPatterns returns a project's patterns, most used first
func (m *Semantic) ListPatterns(projectID string) ([]*CodePattern, error) {
	rows, err := m.store.Query(
		`SELECT id, project_id, pattern_name, pattern_data, category, confidence, tags, usage_count, created_at
		 FROM code_patterns WHERE project_id = ? ORDER BY usage_count DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*CodePattern
	for rows.Next() {
		var (
			p          CodePattern
			data, tags string
			createdAt  string
		)
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.PatternName, &data, &p.Category,
			&p.Confidence, &tags, &p.UsageCount, &createdAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(data), &p.PatternData)
		_ = json.Unmarshal([]byte(tags), &p.Tags)
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, &p)
	}
	return out, rows.Err()
}
