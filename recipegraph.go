// Package recipegraph is a Graph-RAG recipe assistant: it answers
// natural language recipe queries by fusing vector search with graph
// traversal, re-ranks with a learned per-user preference profile and
// synthesizes the final answer through a chat model.
package recipegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/zxcasde/RecipeGraphRAG/answer"
	"github.com/zxcasde/RecipeGraphRAG/intent"
	"github.com/zxcasde/RecipeGraphRAG/llm"
	"github.com/zxcasde/RecipeGraphRAG/preference"
	"github.com/zxcasde/RecipeGraphRAG/recommend"
	"github.com/zxcasde/RecipeGraphRAG/retrieval"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

// Engine is the main entry point for the recipe assistant.
type Engine interface {
	// Ask answers a natural language query. Retrieval failures degrade
	// to an empty recommendation list with a best-effort answer; Ask
	// only errors on invalid input or engine shutdown.
	Ask(ctx context.Context, query string, opts ...AskOption) (*Answer, error)

	// AskStream answers a query with incremental synthesis. The
	// recommendation list in the returned Answer is fixed before the
	// first delta is produced.
	AskStream(ctx context.Context, query string, opts ...AskOption) (*Answer, <-chan llm.StreamDelta, error)

	// Retrieve runs hybrid retrieval without ranking or synthesis.
	Retrieve(ctx context.Context, query string, opts ...AskOption) ([]retrieval.Candidate, *retrieval.SearchTrace, error)

	// RecordInteraction appends a user interaction event and updates the
	// preference profile. Returns the event ID.
	RecordInteraction(ctx context.Context, userID, recipeID, interactionType string) (string, error)

	// PreferenceWeights returns the user's current profile, empty for
	// unknown users.
	PreferenceWeights(ctx context.Context, userID string) ([]store.WeightRow, error)

	// RecommendScenario returns recipes for a named scenario, optionally
	// personalized.
	RecommendScenario(ctx context.Context, name, userID string, topN int) ([]recommend.Recommendation, error)

	// SimilarRecipes returns recipes structurally similar to a seed.
	SimilarRecipes(ctx context.Context, recipeID string, topN int) ([]recommend.Recommendation, error)

	// UnexploredRecipes recommends recipes matching the user's profile
	// that the user has never cooked.
	UnexploredRecipes(ctx context.Context, userID string, topN int) ([]recommend.Recommendation, error)

	// Scenarios lists the configured scenario names.
	Scenarios() []string

	// AddRecipe upserts a recipe with its graph dimensions and indexes
	// its embedding.
	AddRecipe(ctx context.Context, r store.Recipe, dims []store.Dimension) error

	// Health verifies the store is reachable and the chat model is
	// accepting calls.
	Health(ctx context.Context) error

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

// Answer is the result of one query.
type Answer struct {
	Query           string                     `json:"query"`
	UserID          string                     `json:"user_id,omitempty"`
	Intent          *intent.Intent             `json:"intent,omitempty"`
	Recommendations []recommend.Recommendation `json:"recommendations"`
	Text            string                     `json:"text,omitempty"`
	RetrievalTrace  *retrieval.SearchTrace     `json:"retrieval_trace,omitempty"`
	ModelUsed       string                     `json:"model_used,omitempty"`
	ElapsedMs       int64                      `json:"elapsed_ms"`
}

// AskOption configures a single query.
type AskOption func(*askOptions)

type askOptions struct {
	userID    string
	topN      int
	weightVec float64
	weightGr  float64
	bonusBoth float64
}

// WithUser personalizes retrieval, ranking and the answer with the
// user's preference profile.
func WithUser(userID string) AskOption {
	return func(o *askOptions) { o.userID = userID }
}

// WithTopN overrides the number of recommendations for this query.
func WithTopN(n int) AskOption {
	return func(o *askOptions) { o.topN = n }
}

// WithWeights overrides the fusion weights for this query.
func WithWeights(vec, graph, bonusBoth float64) AskOption {
	return func(o *askOptions) {
		o.weightVec = vec
		o.weightGr = graph
		o.bonusBoth = bonusBoth
	}
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg         Config
	store       *store.Store
	chatLLM     llm.Provider
	embedLLM    llm.Provider
	extractor   *intent.Extractor
	retriever   *retrieval.Engine
	prefs       *preference.Model
	recommender *recommend.Recommender
	synth       *answer.Synthesizer
}

// New creates a RecipeGraphRAG engine with the given configuration.
func New(cfg Config) (Engine, error) {
	dbPath := cfg.resolveDBPath()
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 1024
	}

	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	chatLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Chat.Provider,
		Model:    cfg.Chat.Model,
		BaseURL:  cfg.Chat.BaseURL,
		APIKey:   cfg.Chat.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating chat provider: %w", err)
	}
	chatLLM = llm.WithBreaker(chatLLM)

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	embedLLM = llm.WithBreaker(embedLLM)

	prefs := preference.NewModel(s, preference.Config{
		RecencyDecay: cfg.RecencyDecay,
		DecayFactor:  cfg.DecayFactor,
	})
	if cfg.DecaySchedule != "" {
		if err := prefs.ScheduleDecay(cfg.DecaySchedule); err != nil {
			s.Close()
			return nil, err
		}
	}

	e := &engine{
		cfg:       cfg,
		store:     s,
		chatLLM:   chatLLM,
		embedLLM:  embedLLM,
		extractor: intent.NewExtractor(chatLLM),
		retriever: retrieval.New(s, s, embedLLM, retrieval.Config{
			WeightVector: cfg.WeightVector,
			WeightGraph:  cfg.WeightGraph,
			BonusBoth:    cfg.BonusBoth,
			PathTimeout:  cfg.RetrievalTimeout,
		}),
		prefs: prefs,
		recommender: recommend.New(s, recommend.Config{
			PreferenceClamp: cfg.PreferenceClamp,
			Scenarios:       cfg.Scenarios,
		}),
		synth: answer.New(chatLLM),
	}
	return e, nil
}

// Ask runs the full pipeline: intent extraction, hybrid retrieval,
// preference-weighted ranking and answer synthesis.
func (e *engine) Ask(ctx context.Context, query string, opts ...AskOption) (*Answer, error) {
	ans, in, err := e.prepare(ctx, query, opts...)
	if err != nil {
		return nil, err
	}
	ans.Text = e.synth.Synthesize(ctx, in.Input)
	ans.ModelUsed = e.cfg.Chat.Model
	ans.ElapsedMs = time.Since(in.start).Milliseconds()

	e.logQuery(ans)
	return ans, nil
}

// AskStream runs the pipeline up to a fixed recommendation list, then
// streams the synthesized answer. The Answer is complete except for its
// text, which arrives on the channel.
func (e *engine) AskStream(ctx context.Context, query string, opts ...AskOption) (*Answer, <-chan llm.StreamDelta, error) {
	ans, in, err := e.prepare(ctx, query, opts...)
	if err != nil {
		return nil, nil, err
	}
	ans.ModelUsed = e.cfg.Chat.Model
	ans.ElapsedMs = time.Since(in.start).Milliseconds()

	e.logQuery(ans)
	return ans, e.synth.SynthesizeStream(ctx, in.Input), nil
}

// synthesisInput pairs the synthesizer input with query timing.
type synthesisInput struct {
	answer.Input
	start time.Time
}

// prepare runs everything before synthesis and fixes the recommendation
// list.
func (e *engine) prepare(ctx context.Context, query string, opts ...AskOption) (*Answer, *synthesisInput, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, ErrEmptyQuery
	}
	options := &askOptions{topN: e.cfg.TopN}
	for _, o := range opts {
		o(options)
	}

	start := time.Now()
	it := e.extractor.Extract(ctx, query)

	dishes, err := e.store.RecipeNames(ctx)
	if err != nil {
		slog.Warn("recipe names unavailable, skipping dish matching", "error", err)
		dishes = nil
	}
	stated := preference.ExtractStated(query, dishes)
	if options.userID != "" && stated.HasPreference() {
		// Stated preferences feed the profile off the query path.
		go e.recordStated(options.userID, stated)
	}

	cands, trace, err := e.search(ctx, it, stated, options)
	if err != nil && !errors.Is(err, retrieval.ErrBothPathsFailed) {
		return nil, nil, err
	}

	var weights map[store.Dimension]float64
	if options.userID != "" {
		weights, err = e.prefs.Weights(ctx, options.userID)
		if err != nil {
			slog.Warn("profile unavailable, ranking without preferences",
				"user", options.userID, "error", err)
			weights = nil
		}
	}

	recs, err := e.recommender.Personalized(ctx, cands, weights, options.topN)
	if err != nil {
		return nil, nil, err
	}

	in := &synthesisInput{start: start}
	in.Query = query
	in.Intent = it
	in.Recommendations = recs
	in.Context = e.recipeContext(ctx, recs)
	if trace != nil {
		in.GraphResults = trace.GraphResults
	}
	if options.userID != "" {
		in.UserFlavors, _ = e.prefs.TopDimensions(ctx, options.userID, store.DimFlavor, 3)
		in.UserTags, _ = e.prefs.TopDimensions(ctx, options.userID, store.DimTag, 3)
	}

	return &Answer{
		Query:           query,
		UserID:          options.userID,
		Intent:          it,
		Recommendations: recs,
		RetrievalTrace:  trace,
	}, in, nil
}

// Retrieve exposes hybrid retrieval directly.
func (e *engine) Retrieve(ctx context.Context, query string, opts ...AskOption) ([]retrieval.Candidate, *retrieval.SearchTrace, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil, ErrEmptyQuery
	}
	options := &askOptions{topN: e.cfg.TopN}
	for _, o := range opts {
		o(options)
	}
	it := e.extractor.Extract(ctx, query)
	cands, trace, err := e.search(ctx, it, preference.ExtractStated(query, nil), options)
	if errors.Is(err, retrieval.ErrBothPathsFailed) {
		return nil, trace, fmt.Errorf("%w: %s", ErrBothRetrievalsFailed, query)
	}
	return cands, trace, err
}

func (e *engine) search(ctx context.Context, it *intent.Intent, stated preference.Stated, options *askOptions) ([]retrieval.Candidate, *retrieval.SearchTrace, error) {
	explicit := len(stated.Flavors) > 0 || len(stated.Ingredients) > 0

	searchOpts := retrieval.SearchOptions{
		TopN:               options.topN * 2,
		Weights:            e.retriever.WeightsForIntent(it, explicit),
		PreferredFlavors:   stated.Flavors,
		PreferredTags:      stated.Tags,
		ExplicitPreference: explicit,
	}
	if options.weightVec > 0 || options.weightGr > 0 {
		searchOpts.Weights = retrieval.FusionWeights{
			Vector:    options.weightVec,
			Graph:     options.weightGr,
			BonusBoth: options.bonusBoth,
		}
	}

	// Recommendation intents also lean on the learned profile.
	if options.userID != "" && it.Kind == intent.KindRecommend {
		if flavors, err := e.prefs.TopDimensions(ctx, options.userID, store.DimFlavor, 3); err == nil {
			searchOpts.PreferredFlavors = mergeValues(searchOpts.PreferredFlavors, flavors)
		}
		if tags, err := e.prefs.TopDimensions(ctx, options.userID, store.DimTag, 3); err == nil {
			searchOpts.PreferredTags = mergeValues(searchOpts.PreferredTags, tags)
		}
	}

	return e.retriever.Search(ctx, it, searchOpts)
}

// recipeContext loads graph detail for each recommended recipe. Lookup
// failures leave the entry out rather than failing the answer.
func (e *engine) recipeContext(ctx context.Context, recs []recommend.Recommendation) map[string]answer.RecipeContext {
	out := make(map[string]answer.RecipeContext, len(recs))
	for _, rec := range recs {
		r, err := e.store.GetRecipe(ctx, rec.RecipeID)
		if err != nil {
			continue
		}
		dims, err := e.store.RecipeDimensions(ctx, rec.RecipeID)
		if err != nil {
			dims = nil
		}
		out[rec.RecipeID] = answer.RecipeContext{Recipe: *r, Dimensions: dims}
	}
	return out
}

func (e *engine) recordStated(userID string, stated preference.Stated) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.prefs.RecordStated(ctx, userID, stated); err != nil {
		slog.Warn("recording stated preferences failed", "user", userID, "error", err)
	}
}

func (e *engine) logQuery(ans *Answer) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	method := "hybrid"
	if t := ans.RetrievalTrace; t != nil {
		switch {
		case t.VecFailed && !t.GraphFailed:
			method = "graph_only"
		case t.GraphFailed && !t.VecFailed:
			method = "vector_only"
		case t.VecFailed && t.GraphFailed:
			method = "none"
		}
	}
	if err := e.store.LogQuery(ctx, store.QueryLog{
		UserID:          ans.UserID,
		Query:           ans.Query,
		Intent:          ans.Intent,
		Answer:          ans.Text,
		RetrievalMethod: method,
		ModelUsed:       ans.ModelUsed,
	}); err != nil {
		slog.Warn("query log write failed", "error", err)
	}
}

// RecordInteraction appends an interaction event and updates the profile.
func (e *engine) RecordInteraction(ctx context.Context, userID, recipeID, interactionType string) (string, error) {
	if _, err := e.store.GetRecipe(ctx, recipeID); err != nil {
		return "", fmt.Errorf("%w: %s", ErrRecipeNotFound, recipeID)
	}
	id, err := e.prefs.RecordInteraction(ctx, userID, recipeID, interactionType)
	if err != nil {
		if errors.Is(err, preference.ErrUnknownInteraction) || errors.Is(err, preference.ErrInvalidEvent) {
			return "", fmt.Errorf("%w: %v", ErrInvalidInteraction, err)
		}
		return "", err
	}
	return id, nil
}

// PreferenceWeights returns the user's profile as sorted rows.
func (e *engine) PreferenceWeights(ctx context.Context, userID string) ([]store.WeightRow, error) {
	weights, err := e.prefs.Weights(ctx, userID)
	if err != nil {
		return nil, err
	}
	rows := make([]store.WeightRow, 0, len(weights))
	for d, w := range weights {
		rows = append(rows, store.WeightRow{Dim: d, Weight: w})
	}
	sortWeightRows(rows)
	return rows, nil
}

// RecommendScenario returns ranked recipes for a named scenario.
func (e *engine) RecommendScenario(ctx context.Context, name, userID string, topN int) ([]recommend.Recommendation, error) {
	if topN <= 0 {
		topN = e.cfg.TopN
	}
	var weights map[store.Dimension]float64
	if userID != "" {
		weights, _ = e.prefs.Weights(ctx, userID)
	}
	recs, err := e.recommender.Scenario(ctx, name, weights, topN)
	if errors.Is(err, recommend.ErrUnknownScenario) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}
	return recs, err
}

// SimilarRecipes returns recipes structurally similar to the seed.
func (e *engine) SimilarRecipes(ctx context.Context, recipeID string, topN int) ([]recommend.Recommendation, error) {
	if topN <= 0 {
		topN = e.cfg.TopN
	}
	recs, err := e.recommender.Similar(ctx, recipeID, topN)
	if errors.Is(err, recommend.ErrRecipeNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, recipeID)
	}
	return recs, err
}

// UnexploredRecipes recommends profile matches the user has not cooked.
func (e *engine) UnexploredRecipes(ctx context.Context, userID string, topN int) ([]recommend.Recommendation, error) {
	if topN <= 0 {
		topN = e.cfg.TopN
	}
	weights, err := e.prefs.Weights(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.recommender.Unexplored(ctx, userID, weights, topN)
}

// Scenarios lists the configured scenario names.
func (e *engine) Scenarios() []string {
	return e.recommender.ScenarioNames()
}

// AddRecipe upserts a recipe, links its dimensions and indexes its
// embedding. Embedding failures leave the recipe searchable through the
// graph only.
func (e *engine) AddRecipe(ctx context.Context, r store.Recipe, dims []store.Dimension) error {
	if err := e.store.UpsertRecipe(ctx, r, dims); err != nil {
		return fmt.Errorf("upserting recipe: %w", err)
	}

	text := r.Name
	if r.Description != "" {
		text += "\n" + r.Description
	}
	embeddings, err := e.embedLLM.Embed(ctx, []string{text})
	if err != nil || len(embeddings) == 0 {
		slog.Warn("embedding recipe failed, graph-only indexing", "recipe", r.ID, "error", err)
		return nil
	}
	if err := e.store.InsertRecipeEmbedding(ctx, r.ID, embeddings[0]); err != nil {
		return fmt.Errorf("indexing embedding: %w", err)
	}
	return nil
}

// Health verifies the store answers queries and the chat model's
// circuit breaker is closed.
func (e *engine) Health(ctx context.Context) error {
	if _, err := e.store.Stats(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreClosed, err)
	}
	if hc, ok := e.chatLLM.(llm.HealthChecker); ok && !hc.Available() {
		return ErrLLMUnavailable
	}
	return nil
}

// Store returns the underlying store.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close shuts down the decay schedule and the store.
func (e *engine) Close() error {
	e.prefs.Close()
	return e.store.Close()
}

func mergeValues(base, extra []string) []string {
	for _, v := range extra {
		dup := false
		for _, have := range base {
			if have == v {
				dup = true
				break
			}
		}
		if !dup {
			base = append(base, v)
		}
	}
	return base
}

func sortWeightRows(rows []store.WeightRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Dim.Type != rows[j].Dim.Type {
			return rows[i].Dim.Type < rows[j].Dim.Type
		}
		return rows[i].Dim.Value < rows[j].Dim.Value
	})
}
