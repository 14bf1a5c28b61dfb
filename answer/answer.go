// Package answer turns a fixed recommendation list into a natural
// language answer through the chat model. Prompts are intent-dependent:
// how-to-cook queries foreground ingredients and steps, recommendation
// queries foreground reasons and the user's preferences.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zxcasde/RecipeGraphRAG/intent"
	"github.com/zxcasde/RecipeGraphRAG/llm"
	"github.com/zxcasde/RecipeGraphRAG/recommend"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

// RecipeContext is the graph detail attached to one recommended recipe.
type RecipeContext struct {
	Recipe     store.Recipe
	Dimensions []store.Dimension
}

// Input is everything the synthesizer needs. Recommendations are
// immutable once handed over: synthesis never reorders or drops them.
type Input struct {
	Query           string
	Intent          *intent.Intent
	Recommendations []recommend.Recommendation
	Context         map[string]RecipeContext

	// UserFlavors and UserTags personalize the prompt.
	UserFlavors []string
	UserTags    []string

	// GraphResults drives the thin-coverage note for flavor queries.
	GraphResults int
}

// Synthesizer generates answers from ranked recommendations.
type Synthesizer struct {
	provider llm.Provider
}

// New creates a synthesizer. A nil provider degrades to deterministic
// template answers.
func New(provider llm.Provider) *Synthesizer {
	return &Synthesizer{provider: provider}
}

// Synthesize produces a complete answer. Model failures never surface:
// the fallback template keeps the response well-formed.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) string {
	if s.provider == nil {
		return fallbackAnswer(in)
	}
	resp, err := s.provider.Chat(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: buildPrompt(in)}},
		Temperature: 0.7,
	})
	if err != nil {
		slog.Warn("answer: synthesis failed, using fallback", "error", err)
		return fallbackAnswer(in)
	}
	return resp.Content
}

// SynthesizeStream produces the answer incrementally. The caller must
// not hand over recommendations that can still change. Cancelling ctx
// stops generation; a failed model connection degrades to the fallback
// answer delivered as a single chunk.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, in Input) <-chan llm.StreamDelta {
	if s.provider == nil {
		return singleDelta(fallbackAnswer(in))
	}
	deltas, err := s.provider.ChatStream(ctx, llm.ChatRequest{
		Messages:    []llm.Message{{Role: "user", Content: buildPrompt(in)}},
		Temperature: 0.7,
	})
	if err != nil {
		slog.Warn("answer: stream failed, using fallback", "error", err)
		return singleDelta(fallbackAnswer(in))
	}
	return deltas
}

func singleDelta(text string) <-chan llm.StreamDelta {
	ch := make(chan llm.StreamDelta, 2)
	ch <- llm.StreamDelta{Content: text}
	ch <- llm.StreamDelta{Done: true}
	close(ch)
	return ch
}

// ----------------------------------------------------------------------------
// Prompt construction
// ----------------------------------------------------------------------------

func buildPrompt(in Input) string {
	contextText := contextBlock(in)
	userContext := userBlock(in)
	note := limitationNote(in)

	if in.Intent != nil && in.Intent.Kind == intent.KindHowToCook {
		return fmt.Sprintf(`你是一个专业的菜谱助手。用户询问菜品的做法，请基于知识图谱中的信息详细回答。

用户问题: %s
%s
知识图谱中的菜品信息:
%s

请详细回答用户的做法问题。要求:
1. 先列出所需食材和调料，再详细说明制作步骤，最后给出烹饪技巧和注意事项
2. 如果没有找到该菜品，说明知识图谱中暂无该菜品信息
3. 步骤要详细、具体、可操作

请回答:`, in.Query, userContext, contextText)
	}

	return fmt.Sprintf(`你是一个专业的菜谱助手，基于知识图谱和智能推荐系统回答用户问题。

用户问题: %s
%s
检索到的相关信息:
%s%s

请根据以上信息详细回答用户问题。要求:
1. 如果有数据限制提示，必须在回答开头明确告知用户
2. 对每道推荐的菜品说明推荐理由、主要食材、关键做法和适合的场景
3. 结合用户偏好给出个性化建议，推荐时要说明理由
4. 语言要自然、友好、专业

请回答:`, in.Query, userContext, contextText, note)
}

// contextBlock renders each recommendation with its graph detail.
func contextBlock(in Input) string {
	if len(in.Recommendations) == 0 {
		return "（未检索到相关菜品）"
	}
	blocks := make([]string, 0, len(in.Recommendations))
	for _, rec := range in.Recommendations {
		name := rec.Name
		if name == "" {
			name = rec.RecipeID
		}
		parts := []string{
			"【" + name + "】",
			"推荐理由: " + rec.Rationale,
			fmt.Sprintf("相关度: %.2f", rec.FinalScore),
		}
		if rc, ok := in.Context[rec.RecipeID]; ok {
			if rc.Recipe.Difficulty != "" {
				parts = append(parts, "难度: "+rc.Recipe.Difficulty)
			}
			if rc.Recipe.TimeCost != "" {
				parts = append(parts, "耗时: "+rc.Recipe.TimeCost)
			}
			appendDims := func(label string, vals []string) {
				if len(vals) > 0 {
					parts = append(parts, label+": "+strings.Join(vals, "、"))
				}
			}
			appendDims("主要食材", dimValues(rc.Dimensions, store.DimIngredient))
			appendDims("口味", dimValues(rc.Dimensions, store.DimFlavor))
			appendDims("标签", dimValues(rc.Dimensions, store.DimTag))
			appendDims("适合场景", dimValues(rc.Dimensions, store.DimScene))
			if rc.Recipe.Description != "" {
				parts = append(parts, "简介: "+rc.Recipe.Description)
			}
		}
		blocks = append(blocks, strings.Join(parts, "\n"))
	}
	return strings.Join(blocks, "\n\n")
}

func userBlock(in Input) string {
	var b strings.Builder
	if len(in.UserFlavors) > 0 {
		b.WriteString("用户偏好口味: " + strings.Join(in.UserFlavors, "、") + "\n")
	}
	if len(in.UserTags) > 0 {
		b.WriteString("用户偏好标签: " + strings.Join(in.UserTags, "、") + "\n")
	}
	return b.String()
}

// limitationNote warns when a flavor query found little graph coverage,
// so the model does not oversell semantic-only matches.
func limitationNote(in Input) string {
	if in.Intent == nil || len(in.Intent.Entities.Flavors) == 0 || in.GraphResults >= 3 {
		return ""
	}
	flavors := strings.Join(in.Intent.Entities.Flavors, ",")
	if in.GraphResults == 0 {
		return fmt.Sprintf("\n\n注意：知识图谱中暂无标注为'%s'口味的菜品，以下推荐基于语义相似度。", flavors)
	}
	return fmt.Sprintf("\n\n注意：知识图谱中仅有%d道标注为'%s'口味的菜品，其余推荐基于语义相似度。", in.GraphResults, flavors)
}

// fallbackAnswer lists the recommendations without model involvement.
func fallbackAnswer(in Input) string {
	if len(in.Recommendations) == 0 {
		return "抱歉，没有找到与你的问题相关的菜品。换个说法试试？"
	}
	var b strings.Builder
	b.WriteString("为你找到以下菜品：\n")
	for i, rec := range in.Recommendations {
		name := rec.Name
		if name == "" {
			name = rec.RecipeID
		}
		fmt.Fprintf(&b, "%d. %s（%s）\n", i+1, name, rec.Rationale)
	}
	return b.String()
}

func dimValues(dims []store.Dimension, dimType string) []string {
	var out []string
	for _, d := range dims {
		if d.Type == dimType {
			out = append(out, d.Value)
		}
	}
	return out
}
