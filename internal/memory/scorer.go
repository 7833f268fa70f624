package memory

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Scoring components combined by the adaptive scorer.
const (
	ComponentCosine = iota
	ComponentPageRank
	ComponentTextMatch
	numComponents
)

// MinAdaptiveFeedback is how many feedback observations are required before
// the scorer switches from fixed weights to posterior sampling.
const MinAdaptiveFeedback = 10

// fixedWeights apply until enough feedback has accumulated.
var fixedWeights = [numComponents]float64{0.6, 0.25, 0.15}

type feedbackEvent struct {
	at       time.Time
	accepted bool
}

// ScorerConfig tunes the adaptive scorer.
type ScorerConfig struct {
	// HalfLife controls temporal decay of feedback. Defaults to 7 days.
	HalfLife time.Duration

	// Seed fixes the sampling stream; 0 seeds from the clock.
	Seed int64
}

// AdaptiveScorer combines cosine, pagerank, and text-match scores with
// weights learned from accept/reject feedback. Each component carries a Beta
// posterior whose effective counts decay with feedback age.
type AdaptiveScorer struct {
	mu       sync.Mutex
	feedback [numComponents][]feedbackEvent
	halfLife time.Duration
	rng      *rand.Rand
	now      func() time.Time
}

// NewAdaptiveScorer creates a scorer.
func NewAdaptiveScorer(config ScorerConfig) *AdaptiveScorer {
	if config.HalfLife <= 0 {
		config.HalfLife = 7 * 24 * time.Hour
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &AdaptiveScorer{
		halfLife: config.HalfLife,
		rng:      rand.New(rand.NewSource(seed)),
		now:      time.Now,
	}
}

// RecordFeedback attributes one accept/reject observation to a component.
func (s *AdaptiveScorer) RecordFeedback(component int, accepted bool) {
	if component < 0 || component >= numComponents {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback[component] = append(s.feedback[component], feedbackEvent{at: s.now(), accepted: accepted})
}

// Weights returns the current component weights, normalized to sum to one.
// Below MinAdaptiveFeedback total observations the fixed weights are
// returned; above, each weight is a Beta posterior sample.
func (s *AdaptiveScorer) Weights() [numComponents]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for i := range s.feedback {
		total += len(s.feedback[i])
	}
	if total < MinAdaptiveFeedback {
		return fixedWeights
	}

	now := s.now()
	lambda := math.Ln2 / s.halfLife.Seconds()
	var weights [numComponents]float64
	sum := 0.0
	for i := range s.feedback {
		alpha, beta := 1.0, 1.0
		for _, ev := range s.feedback[i] {
			decay := math.Exp(-lambda * now.Sub(ev.at).Seconds())
			if ev.accepted {
				alpha += decay
			} else {
				beta += decay
			}
		}
		weights[i] = s.sampleBeta(alpha, beta)
		sum += weights[i]
	}
	if sum == 0 {
		return fixedWeights
	}
	for i := range weights {
		weights[i] /= sum
	}
	return weights
}

// sampleBeta draws Beta(alpha, beta) as a ratio of Gamma samples.
func (s *AdaptiveScorer) sampleBeta(alpha, beta float64) float64 {
	x := s.sampleGamma(alpha)
	y := s.sampleGamma(beta)
	if x+y == 0 {
		return 0.5
	}
	return x / (x + y)
}

// sampleGamma draws Gamma(shape, 1) via Marsaglia-Tsang, with the standard
// shape<1 boost.
func (s *AdaptiveScorer) sampleGamma(shape float64) float64 {
	if shape < 1 {
		u := s.rng.Float64()
		return s.sampleGamma(shape+1) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := s.rng.NormFloat64()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := s.rng.Float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v
		}
		if math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v
		}
	}
}

// Candidate is one retrieval result under consideration.
type Candidate struct {
	ID         string
	Components [numComponents]float64
	Embedding  []float32

	// Score is filled by ScoreAll.
	Score float64
}

// ScoreAll computes each candidate's combined score using one weight draw,
// so a single ranking pass is internally consistent.
func (s *AdaptiveScorer) ScoreAll(candidates []Candidate) []Candidate {
	weights := s.Weights()
	for i := range candidates {
		score := 0.0
		for j := 0; j < numComponents; j++ {
			score += weights[j] * candidates[i].Components[j]
		}
		candidates[i].Score = score
	}
	return candidates
}

// RankMMR greedily selects up to k candidates by maximal marginal relevance:
// lambda*score - (1-lambda)*max similarity to the already-selected set.
// Similarity uses embeddings when both sides have one, otherwise the cosine
// of the component score vectors.
func RankMMR(candidates []Candidate, lambda float64, k int) []Candidate {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	remaining := append([]Candidate(nil), candidates...)
	selected := make([]Candidate, 0, k)
	for len(selected) < k {
		bestIdx := -1
		bestVal := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, sel := range selected {
				if sim := candidateSimilarity(c, sel); sim > maxSim {
					maxSim = sim
				}
			}
			val := lambda*c.Score - (1-lambda)*maxSim
			if val > bestVal {
				bestIdx, bestVal = i, val
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

func candidateSimilarity(a, b Candidate) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	var dot, normA, normB float64
	for i := 0; i < numComponents; i++ {
		dot += a.Components[i] * b.Components[i]
		normA += a.Components[i] * a.Components[i]
		normB += b.Components[i] * b.Components[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
