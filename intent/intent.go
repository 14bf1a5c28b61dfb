// Package intent turns free-text recipe queries into a structured Intent
// via an LLM extraction call, with a rule-based dictionary fallback that
// always yields a well-formed result even when the model is unavailable.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zxcasde/RecipeGraphRAG/llm"
)

// Kind classifies what the user is asking for.
type Kind string

const (
	KindQueryDish        Kind = "query_dish"
	KindRecommend        Kind = "recommend"
	KindHowToCook        Kind = "how_to_cook"
	KindIngredientSearch Kind = "ingredient_search"
	KindSceneSearch      Kind = "scene_search"
)

// Entities groups the extracted entity names by graph node type.
type Entities struct {
	Dishes      []string `json:"dishes"`
	Ingredients []string `json:"ingredients"`
	Scenes      []string `json:"scenes"`
	Flavors     []string `json:"flavors"`
	Tags        []string `json:"tags"`
}

// Intent is the structured form of a query. Immutable once produced;
// retrievers and the recommender consume it read-only.
type Intent struct {
	RawText      string            `json:"raw_text"`
	Optimized    string            `json:"optimized_query"`
	Kind         Kind              `json:"intent"`
	Entities     Entities          `json:"entities"`
	ScenarioTags []string          `json:"scenario_tags"`
	Constraints  map[string]string `json:"constraints"`
	Keywords     []string          `json:"keywords"`
	// FromFallback is true when the rule-based fallback produced this
	// intent instead of the LLM.
	FromFallback bool `json:"from_fallback,omitempty"`
}

// Empty reports whether extraction found no entities or scenario tags at all.
func (it *Intent) Empty() bool {
	e := it.Entities
	return len(e.Dishes)+len(e.Ingredients)+len(e.Scenes)+len(e.Flavors)+len(e.Tags)+len(it.ScenarioTags) == 0
}

// Extractor extracts structured intents from raw queries.
type Extractor struct {
	provider llm.Provider
}

// NewExtractor creates an Extractor backed by the given chat provider.
// A nil provider is allowed; extraction then always takes the rule path.
func NewExtractor(provider llm.Provider) *Extractor {
	return &Extractor{provider: provider}
}

const extractionPrompt = `你是一个菜谱问答系统的查询理解助手。请分析用户的查询，提取关键信息，严格按JSON格式返回。

用户查询：%s

返回格式：
{
    "optimized_query": "优化后的查询（补充完整、去除口语化）",
    "intent": "意图类型（query_dish/recommend/how_to_cook/ingredient_search/scene_search）",
    "entities": {
        "dishes": ["菜品名或菜品类型"],
        "ingredients": ["食材名"],
        "scenes": ["场景"],
        "flavors": ["口味"],
        "tags": ["标签，如：快手菜、甜品、家常菜、新手友好"]
    },
    "keywords": ["关键词"],
    "difficulty_preference": "难度偏好（easy/medium/hard/null）"
}

注意：
- 常见口味包括：酸、甜、苦、辣、咸、鲜、麻、香、清淡等
- 常见标签包括：快手菜、甜品、烘焙、下午茶、家常菜、宴客菜、新手友好、减肥、营养等
- 难度关键词：新手/简单/容易/快手 → easy，中等 → medium，复杂/高级/难 → hard
- 只返回JSON，不要解释`

// llmExtraction mirrors the JSON shape the prompt asks for.
type llmExtraction struct {
	OptimizedQuery string   `json:"optimized_query"`
	Intent         string   `json:"intent"`
	Entities       Entities `json:"entities"`
	Keywords       []string `json:"keywords"`
	Difficulty     string   `json:"difficulty_preference"`
}

// Extract produces an Intent for the query. It never fails: any LLM or
// parse error falls back to dictionary matching, so the result is always
// well-formed (entities may be empty).
func (e *Extractor) Extract(ctx context.Context, query string) *Intent {
	query = strings.TrimSpace(query)
	if query == "" {
		return &Intent{Constraints: map[string]string{}, FromFallback: true}
	}

	if e.provider != nil {
		if it, err := e.extractLLM(ctx, query); err == nil {
			return it
		} else {
			slog.Warn("intent extraction via LLM failed, using rule fallback",
				"query", query, "error", err)
		}
	}
	return e.extractRules(query)
}

func (e *Extractor) extractLLM(ctx context.Context, query string) (*Intent, error) {
	resp, err := e.provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: fmt.Sprintf(extractionPrompt, query)},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, err
	}

	var parsed llmExtraction
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		return nil, err
	}

	it := &Intent{
		RawText:      query,
		Optimized:    parsed.OptimizedQuery,
		Kind:         normalizeKind(parsed.Intent),
		Entities:     parsed.Entities,
		ScenarioTags: parsed.Entities.Scenes,
		Keywords:     parsed.Keywords,
		Constraints:  map[string]string{},
	}
	if it.Optimized == "" {
		it.Optimized = query
	}
	if d := strings.ToLower(parsed.Difficulty); d == "easy" || d == "medium" || d == "hard" {
		it.Constraints["difficulty"] = d
	}
	return it, nil
}

// extractRules is the dictionary fallback modeled on the keyword tables.
func (e *Extractor) extractRules(query string) *Intent {
	it := &Intent{
		RawText:      query,
		Optimized:    query,
		Kind:         KindQueryDish,
		Constraints:  map[string]string{},
		FromFallback: true,
	}

	switch {
	case containsAny(query, "推荐", "有什么", "做什么"):
		it.Kind = KindRecommend
	case containsAny(query, "怎么做", "做法", "步骤"):
		it.Kind = KindHowToCook
	case containsAny(query, "食材", "原料", "需要什么"):
		it.Kind = KindIngredientSearch
	}

	it.Entities.Scenes = MatchScenes(query)
	it.Entities.Flavors = MatchFlavors(query)
	it.Entities.Tags = MatchTags(query)
	it.Entities.Ingredients = MatchIngredients(query)
	it.Entities.Dishes = MatchDishTypes(query)
	it.ScenarioTags = it.Entities.Scenes

	if len(it.Entities.Scenes) > 0 && it.Kind == KindQueryDish {
		it.Kind = KindSceneSearch
	}

	switch {
	case containsAny(query, "新手", "简单", "容易", "快手"):
		it.Constraints["difficulty"] = "easy"
	case strings.Contains(query, "中等"):
		it.Constraints["difficulty"] = "medium"
	case containsAny(query, "复杂", "高级", "挑战"):
		it.Constraints["difficulty"] = "hard"
	}

	it.Keywords = append(it.Keywords, it.Entities.Scenes...)
	it.Keywords = append(it.Keywords, it.Entities.Flavors...)
	it.Keywords = append(it.Keywords, it.Entities.Tags...)

	return it
}

func normalizeKind(s string) Kind {
	switch Kind(strings.TrimSpace(strings.ToLower(s))) {
	case KindRecommend:
		return KindRecommend
	case KindHowToCook:
		return KindHowToCook
	case KindIngredientSearch:
		return KindIngredientSearch
	case KindSceneSearch:
		return KindSceneSearch
	default:
		return KindQueryDish
	}
}

// extractJSON pulls the outermost JSON object out of a model response
// that may be wrapped in prose or code fences.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
