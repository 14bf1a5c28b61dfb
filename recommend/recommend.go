// Package recommend ranks retrieval candidates into final
// recommendations: preference-weighted re-ranking, scenario browsing,
// similar-recipe lookup and unexplored-recipe discovery.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zxcasde/RecipeGraphRAG/retrieval"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

// ErrUnknownScenario is returned when a scenario name is not in the
// configured table.
var ErrUnknownScenario = errors.New("recommend: unknown scenario")

// ErrRecipeNotFound is returned when a seed recipe does not exist.
var ErrRecipeNotFound = errors.New("recommend: recipe not found")

// rationaleThreshold is the preference adjustment magnitude above which
// the rationale mentions the user's profile.
const rationaleThreshold = 0.1

// Recommendation is one ranked result with a deterministic explanation.
type Recommendation struct {
	RecipeID    string   `json:"recipe_id"`
	Name        string   `json:"name,omitempty"`
	FinalScore  float64  `json:"final_score"`
	Rationale   string   `json:"rationale"`
	Difficulty  string   `json:"difficulty,omitempty"`
	MatchedTags []string `json:"matched_tags,omitempty"`
}

// Store is the graph access the recommender needs.
type Store interface {
	GetRecipe(ctx context.Context, id string) (*store.Recipe, error)
	RecipeDimensions(ctx context.Context, recipeID string) ([]store.Dimension, error)
	RecipesByTags(ctx context.Context, tags []string, limit int) ([]store.GraphHit, error)
	RecipesByFlavor(ctx context.Context, flavor string, limit int) ([]store.GraphHit, error)
	RelatedTags(ctx context.Context, tag string) ([]string, error)
	SimilarRecipes(ctx context.Context, seedID string, limit int) ([]store.SimilarHit, error)
	CookedRecipeIDs(ctx context.Context, userID string) ([]string, error)
}

// Config holds recommender tuning.
type Config struct {
	// PreferenceClamp bounds the preference adjustment so one strong
	// historical signal cannot dominate retrieval relevance.
	PreferenceClamp float64
	Scenarios       []Scenario
}

// Recommender applies scenario rules and preference weighting on top of
// fused or raw candidate pools.
type Recommender struct {
	store     Store
	clamp     float64
	scenarios map[string]Scenario
	order     []string
}

// New creates a recommender. An empty scenario list falls back to the
// built-in table.
func New(st Store, cfg Config) *Recommender {
	if cfg.PreferenceClamp <= 0 {
		cfg.PreferenceClamp = 0.5
	}
	scenarios := cfg.Scenarios
	if len(scenarios) == 0 {
		scenarios = DefaultScenarios()
	}
	r := &Recommender{store: st, clamp: cfg.PreferenceClamp, scenarios: make(map[string]Scenario, len(scenarios))}
	for _, sc := range scenarios {
		if _, dup := r.scenarios[sc.Name]; !dup {
			r.order = append(r.order, sc.Name)
		}
		r.scenarios[sc.Name] = sc
	}
	return r
}

// ScenarioNames returns the configured scenario names in table order.
func (r *Recommender) ScenarioNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// MatchScenario returns the first configured scenario whose name occurs
// in the query text, if any.
func (r *Recommender) MatchScenario(query string) (Scenario, bool) {
	for _, name := range r.order {
		if strings.Contains(query, name) {
			return r.scenarios[name], true
		}
	}
	return Scenario{}, false
}

// Personalized re-ranks fused candidates with the user's preference
// weights: final = fused * (1 + adjustment), where the adjustment is the
// dot product of the recipe's dimensions and the weights, clamped. Empty
// weights leave the fused order untouched.
func (r *Recommender) Personalized(ctx context.Context, cands []retrieval.Candidate, weights map[store.Dimension]float64, topN int) ([]Recommendation, error) {
	out := make([]Recommendation, 0, len(cands))
	for _, c := range cands {
		adj := 0.0
		if len(weights) > 0 {
			dims, err := r.store.RecipeDimensions(ctx, c.RecipeID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				slog.Warn("recommend: dimension lookup failed, skipping adjustment",
					"recipe", c.RecipeID, "error", err)
			} else {
				adj = clamp(dotProduct(dims, weights), r.clamp)
			}
		}
		out = append(out, Recommendation{
			RecipeID:   c.RecipeID,
			Name:       c.Name,
			FinalScore: c.FusedScore * (1 + adj),
			Rationale:  personalRationale(c, adj),
		})
	}

	sortRecommendations(out)
	return truncate(out, topN), nil
}

// Scenario returns recipes for a named scenario: the scenario's tags are
// expanded through the graph's tag hierarchy, the pool is filtered to
// recipes matching at least one tag, and ranking follows tag coverage
// adjusted by the user's preference weights.
func (r *Recommender) Scenario(ctx context.Context, name string, weights map[store.Dimension]float64, topN int) ([]Recommendation, error) {
	sc, ok := r.scenarios[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownScenario, name)
	}

	tags := r.expandTags(ctx, sc.Tags)
	pool, err := r.store.RecipesByTags(ctx, tags, poolLimit(topN))
	if err != nil {
		return nil, fmt.Errorf("scenario pool: %w", err)
	}
	pool = FilterByTags(pool, tags)

	out := make([]Recommendation, 0, len(pool))
	for _, h := range pool {
		adj := 0.0
		if len(weights) > 0 {
			dims, derr := r.store.RecipeDimensions(ctx, h.RecipeID)
			if derr == nil {
				adj = clamp(dotProduct(dims, weights), r.clamp)
			}
		}
		out = append(out, Recommendation{
			RecipeID:    h.RecipeID,
			Name:        h.Name,
			FinalScore:  h.Score * (1 + adj),
			Rationale:   "适合场景:" + name + "（" + strings.Join(matchedTagValues(h), "、") + "）",
			MatchedTags: matchedTagValues(h),
		})
	}

	sortRecommendations(out)
	return truncate(out, topN), nil
}

// Similar ranks recipes by structural similarity to a seed recipe,
// excluding the seed itself. The rationale names the shared features.
func (r *Recommender) Similar(ctx context.Context, seedID string, topN int) ([]Recommendation, error) {
	seed, err := r.store.GetRecipe(ctx, seedID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrRecipeNotFound, seedID)
	}

	hits, err := r.store.SimilarRecipes(ctx, seedID, poolLimit(topN))
	if err != nil {
		return nil, fmt.Errorf("similar recipes: %w", err)
	}

	out := make([]Recommendation, 0, len(hits))
	for _, h := range hits {
		if h.RecipeID == seedID {
			continue
		}
		out = append(out, Recommendation{
			RecipeID:   h.RecipeID,
			Name:       h.Name,
			FinalScore: h.Score,
			Difficulty: h.Difficulty,
			Rationale:  similarRationale(seed.Name, h),
		})
	}
	return truncate(out, topN), nil
}

// Unexplored recommends recipes matching the user's learned flavors and
// tags that the user has never cooked. Flavor matches weigh double.
func (r *Recommender) Unexplored(ctx context.Context, userID string, weights map[store.Dimension]float64, topN int) ([]Recommendation, error) {
	flavors := topPositive(weights, store.DimFlavor, 5)
	tags := topPositive(weights, store.DimTag, 5)
	if len(flavors) == 0 && len(tags) == 0 {
		return []Recommendation{}, nil
	}

	cooked, err := r.store.CookedRecipeIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cooked recipes: %w", err)
	}
	done := make(map[string]bool, len(cooked))
	for _, id := range cooked {
		done[id] = true
	}

	type tally struct {
		name        string
		flavorMatch int
		tagMatch    int
	}
	scores := make(map[string]*tally)
	var order []string

	note := func(h store.GraphHit) *tally {
		t, ok := scores[h.RecipeID]
		if !ok {
			t = &tally{name: h.Name}
			scores[h.RecipeID] = t
			order = append(order, h.RecipeID)
		}
		return t
	}

	for _, flavor := range flavors {
		hits, ferr := r.store.RecipesByFlavor(ctx, flavor, poolLimit(topN))
		if ferr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			slog.Warn("recommend: flavor lookup failed", "flavor", flavor, "error", ferr)
			continue
		}
		for _, h := range hits {
			if done[h.RecipeID] {
				continue
			}
			note(h).flavorMatch++
		}
	}
	if len(tags) > 0 {
		hits, terr := r.store.RecipesByTags(ctx, tags, poolLimit(topN))
		if terr != nil {
			return nil, fmt.Errorf("tag pool: %w", terr)
		}
		for _, h := range hits {
			if done[h.RecipeID] {
				continue
			}
			note(h).tagMatch = len(matchedTagValues(h))
		}
	}

	out := make([]Recommendation, 0, len(order))
	for _, id := range order {
		t := scores[id]
		score := float64(t.flavorMatch*2 + t.tagMatch)
		if score <= 0 {
			continue
		}
		out = append(out, Recommendation{
			RecipeID:   id,
			Name:       t.name,
			FinalScore: score,
			Rationale:  unexploredRationale(t.flavorMatch, t.tagMatch),
		})
	}

	sortRecommendations(out)
	return truncate(out, topN), nil
}

// FilterByTags keeps only hits that matched at least one of the tags.
// The filter is idempotent: reapplying it to its own output is a no-op.
func FilterByTags(pool []store.GraphHit, tags []string) []store.GraphHit {
	want := make(map[string]bool, len(tags))
	for _, t := range tags {
		want[t] = true
	}
	out := make([]store.GraphHit, 0, len(pool))
	for _, h := range pool {
		for _, tag := range matchedTagValues(h) {
			if want[tag] {
				out = append(out, h)
				break
			}
		}
	}
	return out
}

// expandTags widens scenario tags through the tag hierarchy. Lookup
// failures degrade to the literal tags.
func (r *Recommender) expandTags(ctx context.Context, tags []string) []string {
	out := make([]string, 0, len(tags)*2)
	seen := make(map[string]bool, len(tags))
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, t := range tags {
		add(t)
	}
	for _, t := range tags {
		related, err := r.store.RelatedTags(ctx, t)
		if err != nil {
			slog.Warn("recommend: related tag lookup failed", "tag", t, "error", err)
			continue
		}
		for _, rt := range related {
			add(rt)
		}
	}
	return out
}

// ----------------------------------------------------------------------------
// Rationale and scoring helpers
// ----------------------------------------------------------------------------

func personalRationale(c retrieval.Candidate, adj float64) string {
	var parts []string
	if c.Source == retrieval.SourceBoth {
		parts = append(parts, "语义与图谱双路召回")
	}
	for i, reason := range c.MatchedReasons {
		if i == 2 {
			break
		}
		parts = append(parts, reason)
	}
	switch {
	case adj >= rationaleThreshold:
		parts = append(parts, "符合你的口味偏好")
	case adj <= -rationaleThreshold:
		parts = append(parts, "与你的历史偏好不符")
	}
	if len(parts) == 0 {
		parts = append(parts, "语义相关")
	}
	return strings.Join(parts, "；")
}

func similarRationale(seedName string, h store.SimilarHit) string {
	var parts []string
	if len(h.SharedFlavors) > 0 {
		parts = append(parts, "口味相近:"+strings.Join(h.SharedFlavors, "、"))
	}
	if len(h.SharedIngredients) > 0 {
		parts = append(parts, "食材相同:"+strings.Join(h.SharedIngredients, "、"))
	}
	if len(h.SharedTags) > 0 {
		parts = append(parts, "同类标签:"+strings.Join(h.SharedTags, "、"))
	}
	if len(parts) == 0 {
		return "与" + seedName + "相似"
	}
	return "与" + seedName + "相似（" + strings.Join(parts, "；") + "）"
}

func unexploredRationale(flavorMatch, tagMatch int) string {
	var parts []string
	if flavorMatch > 0 {
		parts = append(parts, fmt.Sprintf("口味匹配(%d个)", flavorMatch))
	}
	if tagMatch > 0 {
		parts = append(parts, fmt.Sprintf("标签匹配(%d个)", tagMatch))
	}
	if len(parts) == 0 {
		return "可能喜欢"
	}
	return strings.Join(parts, "；")
}

// matchedTagValues strips reason prefixes down to the tag names.
func matchedTagValues(h store.GraphHit) []string {
	out := make([]string, 0, len(h.MatchedReasons))
	for _, reason := range h.MatchedReasons {
		if v, ok := strings.CutPrefix(reason, "标签:"); ok {
			out = append(out, v)
		}
	}
	return out
}

func dotProduct(dims []store.Dimension, weights map[store.Dimension]float64) float64 {
	var sum float64
	for _, d := range dims {
		sum += weights[d]
	}
	return sum
}

func clamp(x, limit float64) float64 {
	if x > limit {
		return limit
	}
	if x < -limit {
		return -limit
	}
	return x
}

func topPositive(weights map[store.Dimension]float64, dimType string, limit int) []string {
	type dw struct {
		value  string
		weight float64
	}
	var picks []dw
	for d, w := range weights {
		if d.Type == dimType && w > 0 {
			picks = append(picks, dw{d.Value, w})
		}
	}
	sort.Slice(picks, func(i, j int) bool {
		if picks[i].weight != picks[j].weight {
			return picks[i].weight > picks[j].weight
		}
		return picks[i].value < picks[j].value
	})
	if len(picks) > limit {
		picks = picks[:limit]
	}
	out := make([]string, len(picks))
	for i, p := range picks {
		out[i] = p.value
	}
	return out
}

func sortRecommendations(recs []Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].FinalScore != recs[j].FinalScore {
			return recs[i].FinalScore > recs[j].FinalScore
		}
		return recs[i].RecipeID < recs[j].RecipeID
	})
}

func truncate(recs []Recommendation, topN int) []Recommendation {
	if topN > 0 && len(recs) > topN {
		return recs[:topN]
	}
	return recs
}

func poolLimit(topN int) int {
	if topN <= 0 {
		topN = 5
	}
	return topN * 4
}
