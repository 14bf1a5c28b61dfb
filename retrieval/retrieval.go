// Package retrieval runs the vector and graph retrieval paths
// concurrently and fuses their candidates into one ranked list.
package retrieval

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/zxcasde/RecipeGraphRAG/intent"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

// ErrBothPathsFailed is returned when neither retrieval path produced a
// result set. Callers surface it as an empty recommendation list, never
// as a crash.
var ErrBothPathsFailed = errors.New("retrieval: both retrieval paths failed")

// Profile-boost scores for graph hits injected from the user's learned
// preferences. Explicit preference queries ("我喜欢吃辣") rank higher
// than implicit profile matches.
const (
	boostFlavorExplicit = 0.98
	boostFlavorProfile  = 0.88
	boostTagExplicit    = 0.92
	boostTagProfile     = 0.82
)

// Embedder produces embeddings for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the read contract against the vector store.
type VectorIndex interface {
	SearchRecipes(ctx context.Context, embedding []float32, k int) ([]store.VectorHit, error)
}

// GraphIndex is the read contract against the recipe graph.
type GraphIndex interface {
	RecipesByName(ctx context.Context, name string, limit int) ([]store.GraphHit, error)
	RecipesByIngredient(ctx context.Context, ingredient string, limit int) ([]store.GraphHit, error)
	RecipesByTag(ctx context.Context, tag string, limit int) ([]store.GraphHit, error)
	RecipesByFlavor(ctx context.Context, flavor string, limit int) ([]store.GraphHit, error)
	RecipesByScene(ctx context.Context, scene string, limit int) ([]store.GraphHit, error)
}

// Config holds retrieval engine configuration.
type Config struct {
	WeightVector float64
	WeightGraph  float64
	BonusBoth    float64
	// PathTimeout bounds each retrieval path independently.
	PathTimeout time.Duration
}

// SearchOptions configures a single search operation. Zero values fall
// back to the engine config.
type SearchOptions struct {
	TopN          int
	MaxCandidates int
	Weights       FusionWeights
	PathTimeout   time.Duration

	// PreferredFlavors and PreferredTags inject profile-boost graph hits
	// for recommendation intents.
	PreferredFlavors []string
	PreferredTags    []string
	// ExplicitPreference marks queries that state a preference outright,
	// which raises the boost scores.
	ExplicitPreference bool
}

// SearchTrace records the breakdown of one hybrid search.
type SearchTrace struct {
	VecResults    int     `json:"vec_results"`
	GraphResults  int     `json:"graph_results"`
	FusedResults  int     `json:"fused_results"`
	VecWeight     float64 `json:"vec_weight"`
	GraphWeight   float64 `json:"graph_weight"`
	BonusBoth     float64 `json:"bonus_both"`
	VecTimedOut   bool    `json:"vec_timed_out,omitempty"`
	GraphTimedOut bool    `json:"graph_timed_out,omitempty"`
	VecFailed     bool    `json:"vec_failed,omitempty"`
	GraphFailed   bool    `json:"graph_failed,omitempty"`
	ProfileBoost  bool    `json:"profile_boost,omitempty"`
	ElapsedMs     int64   `json:"elapsed_ms"`
}

// Engine performs hybrid retrieval over the vector index and the graph.
type Engine struct {
	vectors  VectorIndex
	graph    GraphIndex
	embedder Embedder
	cfg      Config
}

// New creates a retrieval engine.
func New(vectors VectorIndex, graph GraphIndex, embedder Embedder, cfg Config) *Engine {
	if cfg.PathTimeout <= 0 {
		cfg.PathTimeout = 10 * time.Second
	}
	return &Engine{vectors: vectors, graph: graph, embedder: embedder, cfg: cfg}
}

// WeightsForIntent picks the fusion weight preset for an intent. Explicit
// preference queries lean on the graph; queries naming a concrete dish
// type lean on semantic similarity; everything else uses the defaults.
func (e *Engine) WeightsForIntent(it *intent.Intent, explicitPreference bool) FusionWeights {
	w := FusionWeights{Vector: e.cfg.WeightVector, Graph: e.cfg.WeightGraph, BonusBoth: e.cfg.BonusBoth}
	switch {
	case explicitPreference:
		w.Vector, w.Graph = 0.15, 0.85
	case it != nil && len(it.Entities.Dishes) > 0:
		w.Vector, w.Graph = 0.7, 0.3
	}
	return w
}

// Search runs both retrieval paths concurrently, each under its own
// timeout, and fuses the results. A failed or slow path degrades to a
// single-source list; only when both paths fail does Search return
// ErrBothPathsFailed together with the trace.
func (e *Engine) Search(ctx context.Context, it *intent.Intent, opts SearchOptions) ([]Candidate, *SearchTrace, error) {
	if opts.MaxCandidates <= 0 {
		opts.MaxCandidates = 20
	}
	if opts.Weights == (FusionWeights{}) {
		opts.Weights = FusionWeights{Vector: e.cfg.WeightVector, Graph: e.cfg.WeightGraph, BonusBoth: e.cfg.BonusBoth}
	}
	if opts.PathTimeout <= 0 {
		opts.PathTimeout = e.cfg.PathTimeout
	}

	trace := &SearchTrace{
		VecWeight:    opts.Weights.Vector,
		GraphWeight:  opts.Weights.Graph,
		BonusBoth:    opts.Weights.BonusBoth,
		ProfileBoost: len(opts.PreferredFlavors)+len(opts.PreferredTags) > 0,
	}
	start := time.Now()

	type vecResult struct {
		hits []store.VectorHit
		err  error
	}
	type graphResult struct {
		hits []store.GraphHit
		err  error
	}

	vecCh := make(chan vecResult, 1)
	graphCh := make(chan graphResult, 1)

	go func() {
		pathCtx, cancel := context.WithTimeout(ctx, opts.PathTimeout)
		defer cancel()
		hits, err := e.vectorSearch(pathCtx, it, opts.MaxCandidates)
		vecCh <- vecResult{hits, err}
	}()

	go func() {
		pathCtx, cancel := context.WithTimeout(ctx, opts.PathTimeout)
		defer cancel()
		hits, err := e.graphSearch(pathCtx, it, opts)
		graphCh <- graphResult{hits, err}
	}()

	vec := <-vecCh
	graph := <-graphCh

	if vec.err != nil {
		trace.VecFailed = true
		trace.VecTimedOut = errors.Is(vec.err, context.DeadlineExceeded)
		slog.Warn("retrieval: vector path degraded", "error", vec.err, "timed_out", trace.VecTimedOut)
	}
	if graph.err != nil {
		trace.GraphFailed = true
		trace.GraphTimedOut = errors.Is(graph.err, context.DeadlineExceeded)
		slog.Warn("retrieval: graph path degraded", "error", graph.err, "timed_out", trace.GraphTimedOut)
	}
	trace.VecResults = len(vec.hits)
	trace.GraphResults = len(graph.hits)

	if vec.err != nil && graph.err != nil {
		trace.ElapsedMs = time.Since(start).Milliseconds()
		return nil, trace, ErrBothPathsFailed
	}

	fused := Fuse(vec.hits, graph.hits, opts.Weights, opts.TopN)
	trace.FusedResults = len(fused)
	trace.ElapsedMs = time.Since(start).Milliseconds()

	slog.Debug("retrieval: hybrid search complete",
		"vec_results", trace.VecResults,
		"graph_results", trace.GraphResults,
		"fused", trace.FusedResults,
		"elapsed", time.Since(start).Round(time.Millisecond))

	return fused, trace, nil
}

// vectorSearch embeds the query text and searches the vector index.
func (e *Engine) vectorSearch(ctx context.Context, it *intent.Intent, k int) ([]store.VectorHit, error) {
	if e.embedder == nil || e.vectors == nil {
		return nil, errors.New("retrieval: vector path not configured")
	}
	query := it.Optimized
	if query == "" {
		query = it.RawText
	}
	embeddings, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, errors.New("retrieval: empty embedding returned")
	}
	return e.vectors.SearchRecipes(ctx, embeddings[0], k)
}

// graphSearch traverses the graph per extracted entity, then injects
// profile-boost hits, merging everything by recipe with max score and
// deduplicated reasons.
func (e *Engine) graphSearch(ctx context.Context, it *intent.Intent, opts SearchOptions) ([]store.GraphHit, error) {
	if e.graph == nil {
		return nil, errors.New("retrieval: graph path not configured")
	}

	type query struct {
		run      func(context.Context, string, int) ([]store.GraphHit, error)
		names    []string
		override float64 // 0 keeps the store-assigned score
		reason   string  // prefix replacing the store reason when overriding
	}

	flavorBoost, tagBoost := boostFlavorProfile, boostTagProfile
	if opts.ExplicitPreference {
		flavorBoost, tagBoost = boostFlavorExplicit, boostTagExplicit
	}

	queries := []query{
		{e.graph.RecipesByName, it.Entities.Dishes, 0, ""},
		{e.graph.RecipesByFlavor, it.Entities.Flavors, 0, ""},
		{e.graph.RecipesByIngredient, it.Entities.Ingredients, 0, ""},
		{e.graph.RecipesByScene, it.Entities.Scenes, 0, ""},
		{e.graph.RecipesByTag, it.Entities.Tags, 0, ""},
		{e.graph.RecipesByFlavor, opts.PreferredFlavors, flavorBoost, "偏好口味:"},
		{e.graph.RecipesByTag, opts.PreferredTags, tagBoost, "偏好标签:"},
	}

	merged := make(map[string]*store.GraphHit)
	var order []string
	ran := false

	for _, q := range queries {
		for _, name := range q.names {
			ran = true
			hits, err := q.run(ctx, name, opts.MaxCandidates)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("retrieval: graph query failed", "entity", name, "error", err)
				continue
			}
			for _, h := range hits {
				if q.override > 0 {
					h.Score = q.override
					h.MatchedReasons = []string{q.reason + name}
				}
				m, ok := merged[h.RecipeID]
				if !ok {
					hit := h
					merged[h.RecipeID] = &hit
					order = append(order, h.RecipeID)
					continue
				}
				if h.Score > m.Score {
					m.Score = h.Score
				}
				for _, r := range h.MatchedReasons {
					m.MatchedReasons = mergeReason(m.MatchedReasons, r)
				}
			}
		}
	}

	if !ran {
		// Nothing to traverse: an empty result, not a failure.
		return nil, nil
	}

	out := make([]store.GraphHit, 0, len(order))
	for _, id := range order {
		out = append(out, *merged[id])
	}
	return out, nil
}

func mergeReason(reasons []string, r string) []string {
	for _, have := range reasons {
		if have == r {
			return reasons
		}
	}
	return append(reasons, r)
}
