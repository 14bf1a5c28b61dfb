//go:build cgo

package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedRecipes loads a small graph: three dishes with overlapping
// ingredients, flavors and tags.
func seedRecipes(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()

	recipes := []struct {
		r    Recipe
		dims []Dimension
	}{
		{
			Recipe{ID: "r1", Name: "宫保鸡丁", Difficulty: "2"},
			[]Dimension{
				{DimIngredient, "鸡肉"}, {DimIngredient, "花生"},
				{DimFlavor, "辣"}, {DimFlavor, "甜"},
				{DimTag, "家常菜"}, {DimTag, "下饭"},
			},
		},
		{
			Recipe{ID: "r2", Name: "辣子鸡", Difficulty: "3"},
			[]Dimension{
				{DimIngredient, "鸡肉"}, {DimIngredient, "干辣椒"},
				{DimFlavor, "辣"},
				{DimTag, "家常菜"},
			},
		},
		{
			Recipe{ID: "r3", Name: "清蒸鲈鱼", Difficulty: "2"},
			[]Dimension{
				{DimIngredient, "鲈鱼"},
				{DimFlavor, "清淡"},
				{DimTag, "低脂"}, {DimTag, "健康"},
				{DimScene, "健身减脂"},
			},
		},
	}
	for _, rc := range recipes {
		if err := s.UpsertRecipe(ctx, rc.r, rc.dims); err != nil {
			t.Fatalf("upserting %s: %v", rc.r.ID, err)
		}
	}
}

// ---------------------------------------------------------------------------
// Schema / construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sub", "dir")
	dbPath := filepath.Join(dir, "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

// ---------------------------------------------------------------------------
// Recipes and graph edges
// ---------------------------------------------------------------------------

func TestUpsertAndGetRecipe(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)
	ctx := context.Background()

	got, err := s.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("getting recipe: %v", err)
	}
	if got.Name != "宫保鸡丁" {
		t.Errorf("name = %q, want 宫保鸡丁", got.Name)
	}

	// Upsert replaces fields and edges.
	if err := s.UpsertRecipe(ctx, Recipe{ID: "r1", Name: "宫保鸡丁", Difficulty: "4"},
		[]Dimension{{DimFlavor, "辣"}}); err != nil {
		t.Fatalf("re-upserting: %v", err)
	}
	got, err = s.GetRecipe(ctx, "r1")
	if err != nil {
		t.Fatalf("getting recipe after upsert: %v", err)
	}
	if got.Difficulty != "4" {
		t.Errorf("difficulty = %q, want 4", got.Difficulty)
	}
	dims, err := s.RecipeDimensions(ctx, "r1")
	if err != nil {
		t.Fatalf("dimensions: %v", err)
	}
	if len(dims) != 1 || dims[0] != (Dimension{DimFlavor, "辣"}) {
		t.Errorf("dimensions after upsert = %v, want only flavor 辣", dims)
	}
}

func TestGetRecipeNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetRecipe(context.Background(), "nope")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("err = %v, want sql.ErrNoRows", err)
	}
}

func TestGetRecipeByName(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)

	got, err := s.GetRecipeByName(context.Background(), "辣子鸡")
	if err != nil {
		t.Fatalf("get by name: %v", err)
	}
	if got.ID != "r2" {
		t.Errorf("id = %q, want r2", got.ID)
	}
}

func TestRecipeNames(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)

	names, err := s.RecipeNames(context.Background())
	if err != nil {
		t.Fatalf("recipe names: %v", err)
	}
	if len(names) != 3 {
		t.Fatalf("len = %d, want 3", len(names))
	}
	want := map[string]bool{"宫保鸡丁": true, "辣子鸡": true, "清蒸鲈鱼": true}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected name %q", n)
		}
	}
}

func TestGraphQueries(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)
	ctx := context.Background()

	tests := []struct {
		name      string
		query     func() ([]GraphHit, error)
		wantIDs   map[string]bool
		wantScore float64
	}{
		{
			"by ingredient",
			func() ([]GraphHit, error) { return s.RecipesByIngredient(ctx, "鸡肉", 10) },
			map[string]bool{"r1": true, "r2": true},
			ScoreIngredient,
		},
		{
			"by flavor",
			func() ([]GraphHit, error) { return s.RecipesByFlavor(ctx, "辣", 10) },
			map[string]bool{"r1": true, "r2": true},
			ScoreFlavor,
		},
		{
			"by tag",
			func() ([]GraphHit, error) { return s.RecipesByTag(ctx, "低脂", 10) },
			map[string]bool{"r3": true},
			ScoreTag,
		},
		{
			"by scene",
			func() ([]GraphHit, error) { return s.RecipesByScene(ctx, "健身减脂", 10) },
			map[string]bool{"r3": true},
			ScoreScene,
		},
		{
			"by name",
			func() ([]GraphHit, error) { return s.RecipesByName(ctx, "鲈鱼", 10) },
			map[string]bool{"r3": true},
			ScoreDirectDish,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := tt.query()
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(hits) != len(tt.wantIDs) {
				t.Fatalf("got %d hits, want %d: %v", len(hits), len(tt.wantIDs), hits)
			}
			for _, h := range hits {
				if !tt.wantIDs[h.RecipeID] {
					t.Errorf("unexpected hit %s", h.RecipeID)
				}
				if h.Score != tt.wantScore {
					t.Errorf("score = %f, want %f", h.Score, tt.wantScore)
				}
				if len(h.MatchedReasons) == 0 {
					t.Error("missing matched reasons")
				}
			}
		})
	}
}

func TestRecipesByTagsScoresByFraction(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)

	hits, err := s.RecipesByTags(context.Background(), []string{"低脂", "健康"}, 10)
	if err != nil {
		t.Fatalf("RecipesByTags: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].RecipeID != "r3" || hits[0].Score != 1.0 {
		t.Errorf("hit = %+v, want r3 with score 1.0 (2/2 tags)", hits[0])
	}
	if len(hits[0].MatchedReasons) != 2 {
		t.Errorf("reasons = %v, want two tag reasons", hits[0].MatchedReasons)
	}
}

func TestSimilarRecipes(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)

	// r1 and r2 share: flavor 辣 (x3), ingredient 鸡肉 (x2), tag 家常菜 (x1) = 6.
	hits, err := s.SimilarRecipes(context.Background(), "r1", 10)
	if err != nil {
		t.Fatalf("SimilarRecipes: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1 (r3 shares nothing with r1)", len(hits))
	}
	h := hits[0]
	if h.RecipeID != "r2" {
		t.Errorf("similar recipe = %s, want r2", h.RecipeID)
	}
	if h.Score != 6 {
		t.Errorf("score = %f, want 6 (1 flavor*3 + 1 ingredient*2 + 1 tag)", h.Score)
	}
	if len(h.SharedFlavors) != 1 || h.SharedFlavors[0] != "辣" {
		t.Errorf("shared flavors = %v, want [辣]", h.SharedFlavors)
	}
	if len(h.SharedIngredients) != 1 || h.SharedIngredients[0] != "鸡肉" {
		t.Errorf("shared ingredients = %v, want [鸡肉]", h.SharedIngredients)
	}
}

func TestRelatedTags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// 健康 is the parent of 低脂 and 高蛋白.
	for _, child := range []string{"低脂", "高蛋白"} {
		if err := s.LinkTagParent(ctx, child, "健康"); err != nil {
			t.Fatalf("linking %s: %v", child, err)
		}
	}

	related, err := s.RelatedTags(ctx, "低脂")
	if err != nil {
		t.Fatalf("RelatedTags: %v", err)
	}
	want := map[string]bool{"健康": true, "高蛋白": true}
	if len(related) != len(want) {
		t.Fatalf("related = %v, want parent and sibling", related)
	}
	for _, r := range related {
		if !want[r] {
			t.Errorf("unexpected related tag %s", r)
		}
	}
}

// ---------------------------------------------------------------------------
// Vector search
// ---------------------------------------------------------------------------

func TestInsertAndSearchEmbeddings(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)
	ctx := context.Background()

	embeddings := map[string][]float32{
		"r1": {1, 0, 0, 0},
		"r2": {0.9, 0.1, 0, 0},
		"r3": {0, 0, 1, 0},
	}
	for id, emb := range embeddings {
		if err := s.InsertRecipeEmbedding(ctx, id, emb); err != nil {
			t.Fatalf("inserting embedding for %s: %v", id, err)
		}
	}

	hits, err := s.SearchRecipes(ctx, []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchRecipes: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].RecipeID != "r1" {
		t.Errorf("top hit = %s, want r1", hits[0].RecipeID)
	}
	// Ordered by similarity descending, all scores in [0,1].
	for i, h := range hits {
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("hit %d score %f outside [0,1]", i, h.Score)
		}
		if i > 0 && h.Score > hits[i-1].Score {
			t.Errorf("hits not ordered by score descending")
		}
	}
}

func TestInsertEmbeddingUnknownRecipe(t *testing.T) {
	s := newTestStore(t)
	err := s.InsertRecipeEmbedding(context.Background(), "ghost", []float32{0, 0, 0, 0})
	if err == nil {
		t.Fatal("expected error for unknown recipe")
	}
}

// ---------------------------------------------------------------------------
// Profiles and interactions
// ---------------------------------------------------------------------------

func TestAppendAndListInteractions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	events := []Interaction{
		{EventID: "e1", UserID: "u1", RecipeID: "r1", Type: "cooked"},
		{EventID: "e2", UserID: "u1", RecipeID: "r2", Type: "liked"},
		{EventID: "e3", UserID: "u2", RecipeID: "r1", Type: "viewed"},
	}
	for _, e := range events {
		if err := s.AppendInteraction(ctx, e); err != nil {
			t.Fatalf("appending %s: %v", e.EventID, err)
		}
	}

	got, err := s.ListInteractions(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events for u1, want 2", len(got))
	}
	// Append order preserved.
	if got[0].EventID != "e1" || got[1].EventID != "e2" {
		t.Errorf("order = %s, %s; want e1, e2", got[0].EventID, got[1].EventID)
	}
}

func TestCookedRecipeIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, e := range []Interaction{
		{EventID: "e1", UserID: "u1", RecipeID: "r1", Type: "cooked"},
		{EventID: "e2", UserID: "u1", RecipeID: "r1", Type: "cooked"},
		{EventID: "e3", UserID: "u1", RecipeID: "r2", Type: "viewed"},
	} {
		if err := s.AppendInteraction(ctx, e); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}

	ids, err := s.CookedRecipeIDs(ctx, "u1")
	if err != nil {
		t.Fatalf("CookedRecipeIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "r1" {
		t.Errorf("cooked = %v, want [r1]", ids)
	}
}

func TestSaveAndLoadWeights(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	weights := []WeightRow{
		{Dim: Dimension{DimFlavor, "辣"}, Weight: 1.5},
		{Dim: Dimension{DimTag, "低脂"}, Weight: -0.3},
	}
	if err := s.SaveWeights(ctx, "u1", weights); err != nil {
		t.Fatalf("saving: %v", err)
	}

	// Read-after-write.
	got, err := s.LoadWeights(ctx, "u1")
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d rows, want 2", len(got))
	}

	// Save replaces wholesale.
	if err := s.SaveWeights(ctx, "u1", weights[:1]); err != nil {
		t.Fatalf("re-saving: %v", err)
	}
	got, err = s.LoadWeights(ctx, "u1")
	if err != nil {
		t.Fatalf("loading after replace: %v", err)
	}
	if len(got) != 1 || got[0].Dim.Value != "辣" {
		t.Errorf("rows after replace = %v, want only 辣", got)
	}
}

func TestLoadWeightsUnknownUser(t *testing.T) {
	s := newTestStore(t)
	got, err := s.LoadWeights(context.Background(), "stranger")
	if err != nil {
		t.Fatalf("loading unknown user: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d rows for unknown user, want 0", len(got))
	}
}

func TestListUserIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []string{"bob", "alice"} {
		if err := s.EnsureUser(ctx, u); err != nil {
			t.Fatalf("ensuring %s: %v", u, err)
		}
	}
	ids, err := s.ListUserIDs(ctx)
	if err != nil {
		t.Fatalf("listing users: %v", err)
	}
	if len(ids) != 2 || ids[0] != "alice" || ids[1] != "bob" {
		t.Errorf("ids = %v, want [alice bob]", ids)
	}
}

// ---------------------------------------------------------------------------
// Query log and stats
// ---------------------------------------------------------------------------

func TestLogQueryAndStats(t *testing.T) {
	s := newTestStore(t)
	seedRecipes(t, s)
	ctx := context.Background()

	if err := s.LogQuery(ctx, QueryLog{
		UserID:          "u1",
		Query:           "低脂晚餐",
		Answer:          "推荐清蒸鲈鱼",
		RetrievalMethod: "hybrid",
		ModelUsed:       "qwen2.5:7b",
	}); err != nil {
		t.Fatalf("logging query: %v", err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Recipes != 3 {
		t.Errorf("recipes = %d, want 3", stats.Recipes)
	}
	if stats.Flavors != 3 {
		t.Errorf("flavors = %d, want 3 (辣 甜 清淡)", stats.Flavors)
	}
}
