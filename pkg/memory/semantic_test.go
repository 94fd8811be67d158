package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moai-flow/swarm/pkg/store"
)

func newSemantic(t *testing.T) *Semantic {
	t.Helper()
	s, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewSemantic(s)
}

func TestKnowledgeSaveQueryTouch(t *testing.T) {
	m := newSemantic(t)

	k := &Knowledge{
		ProjectID:  "proj-1",
		Topic:      "retry-policy",
		Category:   "infra",
		Data:       map[string]interface{}{"backoff": "fixed"},
		Confidence: 0.9,
		Tags:       []string{"resilience"},
	}
	require.NoError(t, m.SaveKnowledge(k))
	require.NotEmpty(t, k.ID)

	low := &Knowledge{ProjectID: "proj-1", Topic: "retry-policy", Confidence: 0.2,
		Data: map[string]interface{}{}}
	require.NoError(t, m.SaveKnowledge(low))

	got, err := m.QueryKnowledge("proj-1", "retry-policy", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, k.ID, got[0].ID, "highest confidence first")
	assert.Equal(t, "fixed", got[0].Data["backoff"])

	require.NoError(t, m.TouchKnowledge(k.ID))
	got, err = m.QueryKnowledge("proj-1", "retry-policy", "")
	require.NoError(t, err)
	assert.False(t, got[0].LastUsed.IsZero())

	assert.ErrorIs(t, m.TouchKnowledge("missing"), ErrNotFound)
}

func TestKnowledgeUpsertByID(t *testing.T) {
	m := newSemantic(t)

	k := &Knowledge{ProjectID: "p", Topic: "t", Confidence: 0.5,
		Data: map[string]interface{}{"v": float64(1)}}
	require.NoError(t, m.SaveKnowledge(k))

	k.Data["v"] = float64(2)
	k.Confidence = 0.8
	require.NoError(t, m.SaveKnowledge(k))

	got, err := m.QueryKnowledge("p", "t", "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(2), got[0].Data["v"])
	assert.Equal(t, 0.8, got[0].Confidence)
}

func TestPatternUsageCount(t *testing.T) {
	m := newSemantic(t)

	p := &CodePattern{
		ProjectID:   "p",
		PatternName: "worker-pool",
		PatternData: map[string]interface{}{"size": float64(4)},
		Category:    "concurrency",
		Confidence:  0.7,
	}
	require.NoError(t, m.SavePattern(p))
	require.NoError(t, m.IncrementPatternUsage(p.ID))
	require.NoError(t, m.IncrementPatternUsage(p.ID))

	patterns, err := m.ListPatterns("p")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 2, patterns[0].UsageCount)

	assert.ErrorIs(t, m.IncrementPatternUsage("missing"), ErrNotFound)
}
