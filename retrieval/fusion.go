package retrieval

import (
	"math"
	"sort"

	"github.com/zxcasde/RecipeGraphRAG/store"
)

// scoreEpsilon is the floating tolerance for the fused-score tie-break.
const scoreEpsilon = 1e-9

// FusionWeights parameterize one fusion pass.
type FusionWeights struct {
	Vector float64 `json:"vector"`
	Graph  float64 `json:"graph"`
	// BonusBoth is the additive agreement boost for candidates found by
	// both retrieval paths.
	BonusBoth float64 `json:"bonus_both"`
}

// Fuse merges the two retrieval result lists into one deduplicated,
// re-ranked candidate list.
//
// Scores are min-max normalized per source over the current batch, then
// combined as weightVector*nv + weightGraph*ng. A candidate found by
// both paths gets at least the larger of its two normalized scores plus
// the agreement bonus, so agreement always outranks either path alone.
// When one source is empty the other's weight is treated as 1, which
// makes the output equal the surviving list after normalization.
//
// Malformed hits (empty recipe ID, NaN or out-of-range score) are
// dropped individually, never the whole batch. topN <= 0 means no
// truncation.
func Fuse(vectorHits []store.VectorHit, graphHits []store.GraphHit, w FusionWeights, topN int) []Candidate {
	byID := make(map[string]*Candidate)
	order := make([]string, 0, len(vectorHits)+len(graphHits))

	for _, h := range vectorHits {
		if !validScore(h.RecipeID, h.Score) {
			continue
		}
		c, ok := byID[h.RecipeID]
		if !ok {
			c = &Candidate{RecipeID: h.RecipeID, Name: h.Name, Source: SourceVector}
			byID[h.RecipeID] = c
			order = append(order, h.RecipeID)
		}
		c.VectorScore = h.Score
		c.HasVector = true
	}

	for _, h := range graphHits {
		if !validScore(h.RecipeID, h.Score) {
			continue
		}
		c, ok := byID[h.RecipeID]
		if !ok {
			c = &Candidate{RecipeID: h.RecipeID, Name: h.Name, Source: SourceGraph}
			byID[h.RecipeID] = c
			order = append(order, h.RecipeID)
		} else {
			c.Source = SourceBoth
			if c.Name == "" {
				c.Name = h.Name
			}
		}
		c.GraphScore = h.Score
		c.HasGraph = true
		c.MatchedReasons = appendUnique(c.MatchedReasons, h.MatchedReasons...)
	}

	if len(byID) == 0 {
		return nil
	}

	normVec := batchNormalizer(byID, func(c *Candidate) (float64, bool) { return c.VectorScore, c.HasVector })
	normGraph := batchNormalizer(byID, func(c *Candidate) (float64, bool) { return c.GraphScore, c.HasGraph })

	wv, wg := w.Vector, w.Graph
	anyVec, anyGraph := false, false
	for _, c := range byID {
		anyVec = anyVec || c.HasVector
		anyGraph = anyGraph || c.HasGraph
	}
	// Single-source batch: the surviving path carries full weight so the
	// output preserves its relative order exactly.
	if !anyVec {
		wg = 1
	}
	if !anyGraph {
		wv = 1
	}

	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		c := byID[id]
		var nv, ng float64
		if c.HasVector {
			nv = normVec(c.VectorScore)
		}
		if c.HasGraph {
			ng = normGraph(c.GraphScore)
		}

		c.FusedScore = wv*nv + wg*ng
		if c.Source == SourceBoth {
			// Agreement floor: a recipe both paths found must not score
			// below its best single-path normalized score.
			if m := math.Max(nv, ng); c.FusedScore < m {
				c.FusedScore = m
			}
			c.FusedScore += w.BonusBoth
		}
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return candidateLess(&out[i], &out[j])
	})

	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// candidateLess orders candidates by fused score descending, breaking
// near-ties by source=BOTH first, then higher raw vector score, then
// lexicographic recipe ID.
func candidateLess(a, b *Candidate) bool {
	if d := a.FusedScore - b.FusedScore; math.Abs(d) > scoreEpsilon {
		return d > 0
	}
	if (a.Source == SourceBoth) != (b.Source == SourceBoth) {
		return a.Source == SourceBoth
	}
	if a.VectorScore != b.VectorScore {
		return a.VectorScore > b.VectorScore
	}
	return a.RecipeID < b.RecipeID
}

// batchNormalizer returns a min-max normalizer over the scores present
// in the batch. A degenerate batch (all scores equal) normalizes to 1.
func batchNormalizer(byID map[string]*Candidate, get func(*Candidate) (float64, bool)) func(float64) float64 {
	min, max := math.Inf(1), math.Inf(-1)
	n := 0
	for _, c := range byID {
		if v, ok := get(c); ok {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
			n++
		}
	}
	if n == 0 || max == min {
		return func(float64) float64 { return 1 }
	}
	span := max - min
	return func(v float64) float64 { return (v - min) / span }
}

func validScore(id string, score float64) bool {
	return id != "" && !math.IsNaN(score) && score >= 0 && score <= 1
}

func appendUnique(dst []string, add ...string) []string {
	for _, a := range add {
		dup := false
		for _, d := range dst {
			if d == a {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, a)
		}
	}
	return dst
}
