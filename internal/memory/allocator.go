package memory

import (
	"math"
	"sort"
)

// Chunk is one context candidate competing for token budget. Recency,
// relevance, and importance are expected in [0,1].
type Chunk struct {
	ID         string
	Recency    float64
	Relevance  float64
	Importance float64
	Topic      string
}

// Allocation assigns a token count to one chunk.
type Allocation struct {
	ID     string
	Tokens int
}

// Affinity weights for the pairwise chunk matrix.
const (
	affinityRecency    = 0.30
	affinityRelevance  = 0.30
	affinityImportance = 0.25
	affinityTopic      = 0.15
)

// Composite score weights used for the final allocation split.
const (
	compositeRecency    = 0.35
	compositeRelevance  = 0.35
	compositeImportance = 0.30
)

// AllocateBudget distributes totalBudget tokens across the chunks. A
// pairwise affinity matrix is balanced to doubly stochastic form with
// accelerated Sinkhorn-Knopp; each chunk's share is proportional to its
// balanced row mass times its composite score. Allocations are integral and
// sum to totalBudget exactly.
func AllocateBudget(chunks []Chunk, totalBudget int) []Allocation {
	n := len(chunks)
	if n == 0 {
		return nil
	}
	out := make([]Allocation, n)
	for i, c := range chunks {
		out[i].ID = c.ID
	}
	if totalBudget <= 0 {
		return out
	}
	if n == 1 {
		out[0].Tokens = totalBudget
		return out
	}

	affinity := buildAffinity(chunks)
	balanced := sinkhornBalance(affinity)

	composites := make([]float64, n)
	weights := make([]float64, n)
	weightSum := 0.0
	for i, c := range chunks {
		composites[i] = compositeRecency*c.Recency + compositeRelevance*c.Relevance + compositeImportance*c.Importance
		rowSum := 0.0
		for j := 0; j < n; j++ {
			rowSum += balanced[i][j]
		}
		weights[i] = rowSum * composites[i]
		weightSum += weights[i]
	}
	if weightSum == 0 {
		// Degenerate scores; split evenly.
		for i := range weights {
			weights[i] = 1
		}
		weightSum = float64(n)
	}

	// Floor the proportional shares, then hand the remainder to the highest
	// composite scores so the total is conserved exactly.
	allocated := 0
	for i := range out {
		out[i].Tokens = int(float64(totalBudget) * weights[i] / weightSum)
		allocated += out[i].Tokens
	}
	remainder := totalBudget - allocated
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return composites[order[a]] > composites[order[b]]
	})
	for i := 0; remainder > 0; i = (i + 1) % n {
		out[order[i]].Tokens++
		remainder--
	}
	return out
}

func buildAffinity(chunks []Chunk) [][]float64 {
	n := len(chunks)
	a := make([][]float64, n)
	for i := range a {
		a[i] = make([]float64, n)
		for j := range a[i] {
			ci, cj := chunks[i], chunks[j]
			v := affinityRecency*math.Min(ci.Recency, cj.Recency) +
				affinityRelevance*ci.Relevance*cj.Relevance +
				affinityImportance*math.Max(ci.Importance, cj.Importance)
			if ci.Topic != "" && ci.Topic == cj.Topic {
				v += affinityTopic * 0.5
			}
			a[i][j] = v
		}
	}
	return a
}

// Sinkhorn schedule.
const (
	sinkhornEpsStart  = 1e-2
	sinkhornEpsFloor  = 1e-6
	sinkhornMaxIters  = 500
	sinkhornTolerance = 1e-9
)

// sinkhornBalance returns the doubly stochastic balancing of the affinity
// matrix. Dual potentials are updated in the log domain with Nesterov
// momentum (k-1)/(k+2); the entropic epsilon halves every 10 iterations from
// 1e-2 down to its floor.
func sinkhornBalance(affinity [][]float64) [][]float64 {
	n := len(affinity)
	f := make([]float64, n)
	g := make([]float64, n)
	fPrev := make([]float64, n)
	gPrev := make([]float64, n)
	fLook := make([]float64, n)
	gLook := make([]float64, n)
	buf := make([]float64, n)

	eps := sinkhornEpsStart
	copy(fLook, f)
	copy(gLook, g)

	for k := 0; k < sinkhornMaxIters; k++ {
		if k > 0 && k%10 == 0 && eps > sinkhornEpsFloor {
			eps /= 2
			if eps < sinkhornEpsFloor {
				eps = sinkhornEpsFloor
			}
		}

		copy(fPrev, f)
		copy(gPrev, g)

		// Row potential update against the looked-ahead column potential.
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				buf[j] = (gLook[j] + affinity[i][j]) / eps
			}
			f[i] = -eps * logSumExp(buf)
		}
		// Column potential update against the fresh row potential.
		for j := 0; j < n; j++ {
			for i := 0; i < n; i++ {
				buf[i] = (f[i] + affinity[i][j]) / eps
			}
			g[j] = -eps * logSumExp(buf)
		}

		momentum := float64(k-1) / float64(k+2)
		if momentum < 0 {
			momentum = 0
		}
		maxShift := 0.0
		for i := 0; i < n; i++ {
			fLook[i] = f[i] + momentum*(f[i]-fPrev[i])
			gLook[i] = g[i] + momentum*(g[i]-gPrev[i])
			if d := math.Abs(f[i] - fPrev[i]); d > maxShift {
				maxShift = d
			}
			if d := math.Abs(g[i] - gPrev[i]); d > maxShift {
				maxShift = d
			}
		}
		if eps <= sinkhornEpsFloor && maxShift < sinkhornTolerance {
			break
		}
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = math.Exp((f[i] + g[j] + affinity[i][j]) / eps)
		}
	}
	return out
}

func logSumExp(xs []float64) float64 {
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}
