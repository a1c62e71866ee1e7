package importance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/muninn/pkg/note"
)

func TestRecordRetrieval_BoostAndBookkeeping(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	before := n.LastAccessed
	now := time.Now().Add(time.Minute)

	s.RecordRetrieval(n, now)

	assert.InDelta(t, 1.05, n.Importance, 1e-9, "first retrieval adds the full boost")
	assert.Equal(t, int64(1), n.RetrievalCount)
	assert.True(t, n.LastAccessed.After(before))
}

func TestRecordRetrieval_DiminishingReturns(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	now := time.Now()

	var gains []float64
	for i := 0; i < 4; i++ {
		before := n.Importance
		s.RecordRetrieval(n, now)
		gains = append(gains, n.Importance-before)
	}

	// boost/(1+count): 0.05, 0.025, 0.0167, 0.0125
	for i := 1; i < len(gains); i++ {
		assert.Less(t, gains[i], gains[i-1])
	}
	assert.InDelta(t, 0.05, gains[0], 1e-9)
	assert.InDelta(t, 0.025, gains[1], 1e-9)
}

func TestRecordRetrieval_ClampsAtCeiling(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	n.Importance = note.ImportanceMax

	s.RecordRetrieval(n, time.Now())
	assert.Equal(t, note.ImportanceMax, n.Importance)
}

func TestSweepAdjust_TimeDecay(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	n.Importance = 1.0
	n.LastAccessed = time.Now().Add(-10 * 24 * time.Hour)

	changed := s.SweepAdjust(n, 0, time.Now())

	assert.True(t, changed)
	// 0.01/day × 10 days
	assert.InDelta(t, 0.9, n.Importance, 1e-3)
}

func TestSweepAdjust_FloorsAtZero(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	n.Importance = 0.05
	n.LastAccessed = time.Now().Add(-365 * 24 * time.Hour)

	s.SweepAdjust(n, 0, time.Now())
	assert.Equal(t, note.ImportanceMin, n.Importance)
}

func TestSweepAdjust_CentralityBonus(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	n.Importance = 1.0
	n.LastAccessed = time.Now()

	changed := s.SweepAdjust(n, 3, time.Now())
	assert.True(t, changed)
	assert.InDelta(t, 1.03, n.Importance, 1e-6)
}

func TestSweepAdjust_CentralityBonusCapped(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	n.Importance = 1.0
	n.LastAccessed = time.Now()

	s.SweepAdjust(n, 500, time.Now())
	assert.InDelta(t, 1.1, n.Importance, 1e-6, "bonus capped at 0.1 regardless of link count")
}

func TestSweepAdjust_NoChangeReportsFalse(t *testing.T) {
	s := New(nil)
	n := note.New("content")
	now := time.Now()
	n.LastAccessed = now

	changed := s.SweepAdjust(n, 0, now)
	assert.False(t, changed)
}

func TestSweepAdjust_StaysWithinBounds(t *testing.T) {
	s := New(&Config{
		RetrievalBoost:    0.5,
		DecayRate:         0.5,
		CentralityPerLink: 0.5,
		CentralityCap:     5.0,
	})
	n := note.New("content")

	n.Importance = 1.9
	n.LastAccessed = time.Now()
	s.SweepAdjust(n, 100, time.Now())
	assert.LessOrEqual(t, n.Importance, note.ImportanceMax)

	n.Importance = 0.1
	n.LastAccessed = time.Now().Add(-30 * 24 * time.Hour)
	s.SweepAdjust(n, 0, time.Now())
	assert.GreaterOrEqual(t, n.Importance, note.ImportanceMin)
}

func TestNew_NilConfigUsesDefaults(t *testing.T) {
	s := New(nil)
	require.NotNil(t, s)
	n := note.New("content")
	s.RecordRetrieval(n, time.Now())
	assert.InDelta(t, 1.05, n.Importance, 1e-9)
}
