package bottleneck

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/gammazero/deque"

	"github.com/moai-flow/swarm/pkg/types"
)

// Combined-score weights
const (
	weightSequence = 0.5
	weightType     = 0.3
	weightTemporal = 0.2
)

// Prediction-probability weights
const (
	weightConfidence = 0.4
	weightQuality    = 0.4
	weightOccurrence = 0.2
)

// DefaultMatchThreshold is the minimum combined score for a match
const DefaultMatchThreshold = 0.8

// DefaultWindowSize bounds the live event window
const DefaultWindowSize = 10

// Match pairs a learned pattern with its combined similarity score
type Match struct {
	Pattern types.Pattern
	Score   float64
}

// Prediction names a likely next event type with its probability
type Prediction struct {
	EventType   string
	Probability float64
	PatternID   string
}

// Matcher compares live event sequences against learned patterns to
// predict likely next events. All scoring is statistical; patterns are
// matched, never executed.
type Matcher struct {
	mu        sync.Mutex
	patterns  []types.Pattern
	window    deque.Deque[types.Event]
	threshold float64
	size      int
}

// NewMatcher creates a matcher. Zero threshold and windowSize take the
// defaults (0.8 and 10).
func NewMatcher(threshold float64, windowSize int) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &Matcher{threshold: threshold, size: windowSize}
}

// LoadPatterns replaces the learned pattern set
func (m *Matcher) LoadPatterns(patterns []types.Pattern) {
	m.mu.Lock()
	m.patterns = append([]types.Pattern(nil), patterns...)
	m.mu.Unlock()
}

// ProcessEvent appends the event to the sliding window and scores every
// pattern against it, returning matches at or above the threshold and
// ranked predictions derived from them.
func (m *Matcher) ProcessEvent(e types.Event) ([]Match, []Prediction) {
	m.mu.Lock()
	if m.window.Len() >= m.size {
		m.window.PopFront()
	}
	m.window.PushBack(e)

	events := make([]types.Event, 0, m.window.Len())
	for i := 0; i < m.window.Len(); i++ {
		events = append(events, m.window.At(i))
	}
	m.mu.Unlock()

	return m.score(events)
}

// PredictNext scores the supplied events without touching the window
func (m *Matcher) PredictNext(current []types.Event) []Prediction {
	_, predictions := m.score(current)
	return predictions
}

func (m *Matcher) score(events []types.Event) ([]Match, []Prediction) {
	if len(events) == 0 {
		return nil, nil
	}

	observed := make([]string, len(events))
	for i, e := range events {
		observed[i] = e.Type
	}
	observedInterval := averageInterval(events)

	m.mu.Lock()
	patterns := m.patterns
	m.mu.Unlock()

	maxOccurrences := 1
	for _, p := range patterns {
		if p.Occurrences > maxOccurrences {
			maxOccurrences = p.Occurrences
		}
	}

	var matches []Match
	var predictions []Prediction
	for _, p := range patterns {
		score := weightSequence*SequenceSimilarity(observed, p.Sequence) +
			weightType*typeOverlap(observed, p.Sequence) +
			weightTemporal*TemporalSimilarity(observedInterval, p.IntervalMs)
		if score < m.threshold {
			continue
		}
		matches = append(matches, Match{Pattern: p, Score: score})

		next, ok := nextInPattern(observed, p.Sequence)
		if !ok {
			continue
		}
		probability := weightConfidence*p.Confidence +
			weightQuality*score +
			weightOccurrence*float64(p.Occurrences)/float64(maxOccurrences)
		predictions = append(predictions, Prediction{
			EventType:   next,
			Probability: probability,
			PatternID:   p.ID,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	sort.Slice(predictions, func(i, j int) bool { return predictions[i].Probability > predictions[j].Probability })
	return matches, predictions
}

// SequenceSimilarity is LCS length over the longer sequence length
func SequenceSimilarity(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return float64(lcs(a, b)) / float64(longest)
}

// lcs is the standard O(m*n) dynamic program with a rolling row
func lcs(a, b []string) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

// typeOverlap is the Jaccard index of the two event-type sets
func typeOverlap(a, b []string) float64 {
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	return float64(shared) / float64(len(setA)+len(setB)-shared)
}

// MetadataSimilarity averages per-key similarity over keys present in
// both maps: exact match for strings, normalized proximity for numbers.
// No shared keys scores zero.
func MetadataSimilarity(a, b map[string]interface{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared, total := 0, 0.0
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			continue
		}
		shared++
		total += valueSimilarity(av, bv)
	}
	if shared == 0 {
		return 0
	}
	return total / float64(shared)
}

func valueSimilarity(a, b interface{}) float64 {
	af, aNum := toFloat(a)
	bf, bNum := toFloat(b)
	if aNum && bNum {
		denom := math.Max(math.Max(math.Abs(af), math.Abs(bf)), 1)
		return 1 - math.Abs(af-bf)/denom
	}
	if a == b {
		return 1
	}
	return 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// TemporalSimilarity compares average event gaps:
// 1 - min(|observed - pattern| / pattern, 1). A pattern without interval
// data scores full similarity so timing never vetoes a match.
func TemporalSimilarity(observedMs, patternMs float64) float64 {
	if patternMs <= 0 {
		return 1
	}
	if observedMs <= 0 {
		return 0
	}
	return 1 - math.Min(math.Abs(observedMs-patternMs)/patternMs, 1)
}

// averageInterval is the mean gap between consecutive events in ms
func averageInterval(events []types.Event) float64 {
	if len(events) < 2 {
		return 0
	}
	span := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	return float64(span/time.Millisecond) / float64(len(events)-1)
}

// nextInPattern finds where the observed suffix sits in the pattern and
// returns the following event type
func nextInPattern(observed, sequence []string) (string, bool) {
	if len(sequence) == 0 || len(observed) == 0 {
		return "", false
	}
	last := observed[len(observed)-1]
	for i := len(sequence) - 2; i >= 0; i-- {
		if sequence[i] == last {
			return sequence[i+1], true
		}
	}
	return "", false
}
