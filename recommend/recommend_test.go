package recommend

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/zxcasde/RecipeGraphRAG/retrieval"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

// ----------------------------------------------------------------------------
// Test fixtures
// ----------------------------------------------------------------------------

type fakeStore struct {
	recipes  map[string]*store.Recipe
	dims     map[string][]store.Dimension
	byTags   []store.GraphHit
	byFlavor map[string][]store.GraphHit
	related  map[string][]string
	similar  []store.SimilarHit
	cooked   []string
}

func (f *fakeStore) GetRecipe(ctx context.Context, id string) (*store.Recipe, error) {
	r, ok := f.recipes[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return r, nil
}

func (f *fakeStore) RecipeDimensions(ctx context.Context, id string) ([]store.Dimension, error) {
	return f.dims[id], nil
}

func (f *fakeStore) RecipesByTags(ctx context.Context, tags []string, limit int) ([]store.GraphHit, error) {
	return f.byTags, nil
}

func (f *fakeStore) RecipesByFlavor(ctx context.Context, flavor string, limit int) ([]store.GraphHit, error) {
	return f.byFlavor[flavor], nil
}

func (f *fakeStore) RelatedTags(ctx context.Context, tag string) ([]string, error) {
	return f.related[tag], nil
}

func (f *fakeStore) SimilarRecipes(ctx context.Context, seedID string, limit int) ([]store.SimilarHit, error) {
	return f.similar, nil
}

func (f *fakeStore) CookedRecipeIDs(ctx context.Context, userID string) ([]string, error) {
	return f.cooked, nil
}

func weightsOf(pairs map[string]float64) map[store.Dimension]float64 {
	out := make(map[store.Dimension]float64, len(pairs))
	for k, w := range pairs {
		parts := strings.SplitN(k, "/", 2)
		out[store.Dimension{Type: parts[0], Value: parts[1]}] = w
	}
	return out
}

// ----------------------------------------------------------------------------
// Personalized mode
// ----------------------------------------------------------------------------

func TestPersonalizedClampBounds(t *testing.T) {
	fs := &fakeStore{dims: map[string][]store.Dimension{
		"r1": {{Type: store.DimFlavor, Value: "辣"}},
	}}
	r := New(fs, Config{})
	cands := []retrieval.Candidate{{RecipeID: "r1", FusedScore: 1.0}}

	tests := []struct {
		name   string
		weight float64
		want   float64
	}{
		{"strong positive clamps at +0.5", 40.0, 1.5},
		{"strong negative clamps at -0.5", -40.0, 0.5},
		{"small signal passes through", 0.2, 1.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := r.Personalized(context.Background(), cands,
				weightsOf(map[string]float64{"flavor/辣": tt.weight}), 0)
			if err != nil {
				t.Fatalf("Personalized: %v", err)
			}
			if math.Abs(recs[0].FinalScore-tt.want) > 1e-9 {
				t.Errorf("final score = %f, want %f", recs[0].FinalScore, tt.want)
			}
		})
	}
}

func TestPersonalizedEmptyWeightsPreservesOrder(t *testing.T) {
	r := New(&fakeStore{}, Config{})
	cands := []retrieval.Candidate{
		{RecipeID: "r1", FusedScore: 0.9},
		{RecipeID: "r2", FusedScore: 0.7},
		{RecipeID: "r3", FusedScore: 0.5},
	}
	recs, err := r.Personalized(context.Background(), cands, nil, 0)
	if err != nil {
		t.Fatalf("Personalized: %v", err)
	}
	for i, want := range []string{"r1", "r2", "r3"} {
		if recs[i].RecipeID != want {
			t.Errorf("recs[%d] = %s, want %s", i, recs[i].RecipeID, want)
		}
		if recs[i].FinalScore != cands[i].FusedScore {
			t.Errorf("score changed without weights: %f", recs[i].FinalScore)
		}
	}
}

func TestPersonalizedRationale(t *testing.T) {
	fs := &fakeStore{dims: map[string][]store.Dimension{
		"r1": {{Type: store.DimFlavor, Value: "辣"}},
	}}
	r := New(fs, Config{})
	cands := []retrieval.Candidate{{
		RecipeID:       "r1",
		Source:         retrieval.SourceBoth,
		FusedScore:     1.0,
		MatchedReasons: []string{"口味:辣"},
	}}

	recs, _ := r.Personalized(context.Background(), cands,
		weightsOf(map[string]float64{"flavor/辣": 0.3}), 0)
	got := recs[0].Rationale
	for _, want := range []string{"双路召回", "口味:辣", "符合你的口味偏好"} {
		if !strings.Contains(got, want) {
			t.Errorf("rationale %q missing %q", got, want)
		}
	}
}

// ----------------------------------------------------------------------------
// Scenario mode
// ----------------------------------------------------------------------------

func TestScenarioUnknown(t *testing.T) {
	r := New(&fakeStore{}, Config{})
	if _, err := r.Scenario(context.Background(), "火星野餐", nil, 5); !errors.Is(err, ErrUnknownScenario) {
		t.Fatalf("err = %v, want ErrUnknownScenario", err)
	}
}

func TestScenarioRanking(t *testing.T) {
	fs := &fakeStore{
		byTags: []store.GraphHit{
			{RecipeID: "r1", Name: "鸡胸沙拉", Score: 1.0, MatchedReasons: []string{"标签:低脂", "标签:高蛋白"}},
			{RecipeID: "r2", Name: "清蒸鲈鱼", Score: 0.5, MatchedReasons: []string{"标签:低脂"}},
		},
		related: map[string][]string{"低脂": {"健康"}},
	}
	r := New(fs, Config{})

	recs, err := r.Scenario(context.Background(), "健身减脂", nil, 5)
	if err != nil {
		t.Fatalf("Scenario: %v", err)
	}
	if len(recs) != 2 || recs[0].RecipeID != "r1" {
		t.Fatalf("recs = %+v, want r1 first", recs)
	}
	if !strings.Contains(recs[0].Rationale, "健身减脂") {
		t.Errorf("rationale %q should name the scenario", recs[0].Rationale)
	}
	if !reflect.DeepEqual(recs[0].MatchedTags, []string{"低脂", "高蛋白"}) {
		t.Errorf("matched tags = %v", recs[0].MatchedTags)
	}
}

func TestFilterByTagsIdempotent(t *testing.T) {
	pool := []store.GraphHit{
		{RecipeID: "r1", MatchedReasons: []string{"标签:低脂"}},
		{RecipeID: "r2", MatchedReasons: []string{"标签:下饭"}},
		{RecipeID: "r3", MatchedReasons: []string{"口味:辣"}},
	}
	tags := []string{"低脂", "高蛋白"}

	once := FilterByTags(pool, tags)
	twice := FilterByTags(once, tags)
	if !reflect.DeepEqual(once, twice) {
		t.Errorf("filter not idempotent: %v vs %v", once, twice)
	}
	if len(once) != 1 || once[0].RecipeID != "r1" {
		t.Errorf("filtered = %v, want only r1", once)
	}
}

// ----------------------------------------------------------------------------
// Similar and unexplored modes
// ----------------------------------------------------------------------------

func TestSimilar(t *testing.T) {
	fs := &fakeStore{
		recipes: map[string]*store.Recipe{"r1": {ID: "r1", Name: "宫保鸡丁"}},
		similar: []store.SimilarHit{
			{RecipeID: "r1", Name: "宫保鸡丁", Score: 99},
			{RecipeID: "r2", Name: "辣子鸡", Score: 6,
				SharedFlavors: []string{"辣"}, SharedIngredients: []string{"鸡肉"}},
		},
	}
	r := New(fs, Config{})

	recs, err := r.Similar(context.Background(), "r1", 5)
	if err != nil {
		t.Fatalf("Similar: %v", err)
	}
	if len(recs) != 1 || recs[0].RecipeID != "r2" {
		t.Fatalf("recs = %+v, want only r2 (seed excluded)", recs)
	}
	for _, want := range []string{"宫保鸡丁", "口味相近:辣", "食材相同:鸡肉"} {
		if !strings.Contains(recs[0].Rationale, want) {
			t.Errorf("rationale %q missing %q", recs[0].Rationale, want)
		}
	}
}

func TestSimilarUnknownSeed(t *testing.T) {
	r := New(&fakeStore{}, Config{})
	if _, err := r.Similar(context.Background(), "ghost", 5); !errors.Is(err, ErrRecipeNotFound) {
		t.Fatalf("err = %v, want ErrRecipeNotFound", err)
	}
}

func TestUnexplored(t *testing.T) {
	fs := &fakeStore{
		byFlavor: map[string][]store.GraphHit{
			"辣": {
				{RecipeID: "r1", Name: "宫保鸡丁"},
				{RecipeID: "r2", Name: "辣子鸡"},
			},
		},
		cooked: []string{"r1"},
	}
	r := New(fs, Config{})

	recs, err := r.Unexplored(context.Background(), "u1",
		weightsOf(map[string]float64{"flavor/辣": 1.5}), 5)
	if err != nil {
		t.Fatalf("Unexplored: %v", err)
	}
	if len(recs) != 1 || recs[0].RecipeID != "r2" {
		t.Fatalf("recs = %+v, want only the uncooked r2", recs)
	}
	if recs[0].FinalScore != 2 {
		t.Errorf("score = %f, want 2 (one flavor match doubled)", recs[0].FinalScore)
	}
	if recs[0].Rationale != "口味匹配(1个)" {
		t.Errorf("rationale = %q", recs[0].Rationale)
	}
}

func TestUnexploredEmptyProfile(t *testing.T) {
	r := New(&fakeStore{}, Config{})
	recs, err := r.Unexplored(context.Background(), "new-user", nil, 5)
	if err != nil {
		t.Fatalf("Unexplored: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("recs = %v, want empty for empty profile", recs)
	}
}

func TestMatchScenario(t *testing.T) {
	r := New(&fakeStore{}, Config{})
	sc, ok := r.MatchScenario("我今晚要熬夜加班，吃点什么")
	if !ok || sc.Name != "熬夜加班" {
		t.Errorf("matched = %v %v, want 熬夜加班", sc, ok)
	}
	if _, ok := r.MatchScenario("今天天气不错"); ok {
		t.Error("unexpected scenario match")
	}
}
