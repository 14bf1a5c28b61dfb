// Command e2e_test runs a live smoke test against a real model backend:
// it seeds a small recipe graph, records interactions and walks the
// main query paths. Requires a running Ollama instance (or explicit
// provider configuration via environment).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	recipegraph "github.com/zxcasde/RecipeGraphRAG"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	tmpDir, _ := os.MkdirTemp("", "recipegraph-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := recipegraph.DefaultConfig()
	cfg.DBPath = tmpDir + "/test.db"
	if v := os.Getenv("RECIPEGRAPH_CHAT_BASE_URL"); v != "" {
		cfg.Chat.BaseURL = v
	}
	if v := os.Getenv("RECIPEGRAPH_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	engine, err := recipegraph.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Seed a handful of recipes.
	seed := []struct {
		recipe store.Recipe
		dims   []store.Dimension
	}{
		{
			store.Recipe{ID: "gongbao", Name: "宫保鸡丁", Difficulty: "中等", Description: "川菜经典，鸡肉与花生同炒"},
			[]store.Dimension{
				{Type: store.DimIngredient, Value: "鸡肉"},
				{Type: store.DimIngredient, Value: "花生"},
				{Type: store.DimFlavor, Value: "辣"},
				{Type: store.DimTag, Value: "家常"},
				{Type: store.DimTag, Value: "下饭"},
			},
		},
		{
			store.Recipe{ID: "luyu", Name: "清蒸鲈鱼", Difficulty: "简单", Description: "清淡鲜美，适合减脂餐"},
			[]store.Dimension{
				{Type: store.DimIngredient, Value: "鲈鱼"},
				{Type: store.DimFlavor, Value: "清淡"},
				{Type: store.DimTag, Value: "低脂"},
				{Type: store.DimTag, Value: "健康"},
				{Type: store.DimScene, Value: "健身"},
			},
		},
		{
			store.Recipe{ID: "laziji", Name: "辣子鸡", Difficulty: "中等", Description: "干辣椒爆炒鸡块"},
			[]store.Dimension{
				{Type: store.DimIngredient, Value: "鸡肉"},
				{Type: store.DimFlavor, Value: "辣"},
				{Type: store.DimTag, Value: "家常"},
			},
		},
	}
	for _, s := range seed {
		if err := engine.AddRecipe(ctx, s.recipe, s.dims); err != nil {
			fmt.Fprintf(os.Stderr, "seeding %s: %v\n", s.recipe.ID, err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded %d recipes\n", len(seed))

	// Record interactions to build a profile.
	for _, typ := range []string{"cooked", "liked"} {
		if _, err := engine.RecordInteraction(ctx, "alice", "gongbao", typ); err != nil {
			fmt.Fprintf(os.Stderr, "recording interaction: %v\n", err)
			os.Exit(1)
		}
	}
	weights, err := engine.PreferenceWeights(ctx, "alice")
	if err != nil || len(weights) == 0 {
		fmt.Fprintf(os.Stderr, "profile not learned: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("profile has %d weighted dimensions\n", len(weights))

	// Full query path.
	answer, err := engine.Ask(ctx, "推荐一道低脂的晚餐", recipegraph.WithUser("alice"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(answer, "", "  ")
	fmt.Printf("answer:\n%s\n", out)

	// Similar and scenario paths.
	similar, err := engine.SimilarRecipes(ctx, "gongbao", 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "similar: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("similar to 宫保鸡丁: %d results\n", len(similar))

	scenario, err := engine.RecommendScenario(ctx, "健身减脂", "alice", 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scenario: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("健身减脂 scenario: %d results\n", len(scenario))

	fmt.Println("e2e smoke test passed")
}
