package memory

import (
	"math"
	"testing"
	"time"
)

func TestWeightsFixedBeforeEnoughFeedback(t *testing.T) {
	s := NewAdaptiveScorer(ScorerConfig{Seed: 1})
	for i := 0; i < MinAdaptiveFeedback-1; i++ {
		s.RecordFeedback(ComponentCosine, true)
	}
	if got := s.Weights(); got != fixedWeights {
		t.Errorf("weights = %v, want fixed %v", got, fixedWeights)
	}
}

func TestWeightsSampledAfterFeedback(t *testing.T) {
	s := NewAdaptiveScorer(ScorerConfig{Seed: 42})
	// Strong evidence: cosine always accepted, textmatch always rejected.
	for i := 0; i < 30; i++ {
		s.RecordFeedback(ComponentCosine, true)
		s.RecordFeedback(ComponentTextMatch, false)
	}
	s.RecordFeedback(ComponentPageRank, true)

	w := s.Weights()
	sum := 0.0
	for i, v := range w {
		if v <= 0 || v >= 1 {
			t.Errorf("weight[%d] = %v, want in (0,1)", i, v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("weights sum = %v, want 1", sum)
	}
	if w[ComponentCosine] <= w[ComponentTextMatch] {
		t.Errorf("accepted component should outweigh rejected one: %v", w)
	}
}

func TestFeedbackTemporalDecay(t *testing.T) {
	s := NewAdaptiveScorer(ScorerConfig{Seed: 7, HalfLife: time.Hour})
	base := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	now := base
	s.now = func() time.Time { return now }

	// Old rejections for cosine, fresh acceptances much later.
	for i := 0; i < 15; i++ {
		s.RecordFeedback(ComponentCosine, false)
	}
	now = base.Add(100 * time.Hour)
	for i := 0; i < 15; i++ {
		s.RecordFeedback(ComponentCosine, true)
		s.RecordFeedback(ComponentPageRank, true)
		s.RecordFeedback(ComponentTextMatch, true)
	}

	// After 100 half-lives the rejections have decayed to nothing, so the
	// cosine posterior should look like the all-accepted components.
	w := s.Weights()
	if w[ComponentCosine] < 0.15 {
		t.Errorf("decayed rejections still dominate: %v", w)
	}
}

func TestScoreAllUsesOneWeightDraw(t *testing.T) {
	s := NewAdaptiveScorer(ScorerConfig{Seed: 3})
	candidates := []Candidate{
		{ID: "a", Components: [numComponents]float64{1, 0, 0}},
		{ID: "b", Components: [numComponents]float64{0, 1, 0}},
		{ID: "c", Components: [numComponents]float64{0, 0, 1}},
	}
	scored := s.ScoreAll(candidates)
	// Under fixed weights the scores are exactly the weights.
	for i, want := range fixedWeights {
		if math.Abs(scored[i].Score-want) > 1e-12 {
			t.Errorf("score[%d] = %v, want %v", i, scored[i].Score, want)
		}
	}
}

func TestRankMMRBalancesScoreAndDiversity(t *testing.T) {
	near := []float32{1, 0, 0}
	nearToo := []float32{0.99, 0.01, 0}
	far := []float32{0, 1, 0}
	candidates := []Candidate{
		{ID: "top", Score: 1.0, Embedding: near},
		{ID: "twin", Score: 0.95, Embedding: nearToo},
		{ID: "diverse", Score: 0.5, Embedding: far},
	}

	got := RankMMR(candidates, 0.5, 2)
	if len(got) != 2 {
		t.Fatalf("selected %d, want 2", len(got))
	}
	if got[0].ID != "top" {
		t.Errorf("first pick = %s, want highest score", got[0].ID)
	}
	// The near-duplicate is penalized; the diverse candidate wins slot two.
	if got[1].ID != "diverse" {
		t.Errorf("second pick = %s, want diverse", got[1].ID)
	}

	// With lambda=1 relevance alone decides.
	got = RankMMR(candidates, 1.0, 2)
	if got[1].ID != "twin" {
		t.Errorf("pure relevance second pick = %s, want twin", got[1].ID)
	}
}

func TestRankMMRScoreVectorFallback(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Score: 1.0, Components: [numComponents]float64{1, 0, 0}},
		{ID: "a2", Score: 0.9, Components: [numComponents]float64{1, 0, 0}},
		{ID: "b", Score: 0.6, Components: [numComponents]float64{0, 1, 0}},
	}
	got := RankMMR(candidates, 0.5, 2)
	if got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("picks = %s,%s, want a,b", got[0].ID, got[1].ID)
	}
}

func TestRankMMRBounds(t *testing.T) {
	if got := RankMMR(nil, 0.5, 3); got != nil {
		t.Errorf("empty input should yield nil, got %v", got)
	}
	one := []Candidate{{ID: "solo", Score: 0.1}}
	if got := RankMMR(one, 0.5, 5); len(got) != 1 {
		t.Errorf("k beyond len should clamp, got %d", len(got))
	}
}
