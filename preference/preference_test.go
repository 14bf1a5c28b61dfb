package preference

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/zxcasde/RecipeGraphRAG/store"
)

// ----------------------------------------------------------------------------
// Test fixtures
// ----------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	dims    map[string][]store.Dimension
	names   map[string]string
	events  []store.Interaction
	weights map[string][]store.WeightRow
	users   []string

	saveErr error
	dimsErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		dims: map[string][]store.Dimension{
			"r_spicy": {
				{Type: store.DimFlavor, Value: "辣"},
				{Type: store.DimTag, Value: "家常"},
			},
			"r_light": {
				{Type: store.DimFlavor, Value: "清淡"},
			},
		},
		names: map[string]string{
			"辣子鸡":  "r_spicy",
			"清蒸鲈鱼": "r_light",
		},
		weights: make(map[string][]store.WeightRow),
	}
}

func (f *fakeStore) AppendInteraction(ctx context.Context, in store.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, in)
	return nil
}

func (f *fakeStore) RecipeDimensions(ctx context.Context, recipeID string) ([]store.Dimension, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dimsErr != nil {
		return nil, f.dimsErr
	}
	return f.dims[recipeID], nil
}

func (f *fakeStore) GetRecipeByName(ctx context.Context, name string) (*store.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.names[name]
	if !ok {
		return nil, errors.New("no such recipe")
	}
	return &store.Recipe{ID: id, Name: name}, nil
}

func (f *fakeStore) LoadWeights(ctx context.Context, userID string) ([]store.WeightRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.weights[userID], nil
}

func (f *fakeStore) SaveWeights(ctx context.Context, userID string, ws []store.WeightRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.weights[userID] = ws
	return nil
}

func (f *fakeStore) ListUserIDs(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users, nil
}

func (f *fakeStore) eventCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestModel(t *testing.T, fs *fakeStore) *Model {
	t.Helper()
	return NewModel(fs, Config{PersistBackoff: time.Millisecond})
}

// ----------------------------------------------------------------------------
// Model tests
// ----------------------------------------------------------------------------

func TestRecordInteractionUpdatesWeights(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	id, err := m.RecordInteraction(ctx, "u1", "r_spicy", "cooked")
	if err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	if id == "" {
		t.Error("event ID should not be empty")
	}

	w, err := m.Weights(ctx, "u1")
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	spicy := store.Dimension{Type: store.DimFlavor, Value: "辣"}
	if w[spicy] != 1.0 {
		t.Errorf("cooked weight = %f, want 1.0", w[spicy])
	}

	// A second event decays the first before adding its own weight.
	if _, err := m.RecordInteraction(ctx, "u1", "r_spicy", "liked"); err != nil {
		t.Fatalf("RecordInteraction: %v", err)
	}
	w, _ = m.Weights(ctx, "u1")
	want := 1.0*0.95 + 0.8
	if math.Abs(w[spicy]-want) > 1e-9 {
		t.Errorf("weight after decay+liked = %f, want %f", w[spicy], want)
	}
}

func TestRecencyOrdering(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	// Same interaction type, different recipes: the later one must end
	// up strictly heavier.
	m.RecordInteraction(ctx, "u1", "r_spicy", "cooked")
	m.RecordInteraction(ctx, "u1", "r_light", "cooked")

	w, _ := m.Weights(ctx, "u1")
	spicy := w[store.Dimension{Type: store.DimFlavor, Value: "辣"}]
	light := w[store.Dimension{Type: store.DimFlavor, Value: "清淡"}]
	if light <= spicy {
		t.Errorf("recent weight %f should exceed older weight %f", light, spicy)
	}
}

func TestRejectedSubtractsWeight(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	m.RecordInteraction(ctx, "u1", "r_spicy", "rejected")
	w, _ := m.Weights(ctx, "u1")
	spicy := w[store.Dimension{Type: store.DimFlavor, Value: "辣"}]
	if spicy != -0.8 {
		t.Errorf("rejected weight = %f, want -0.8", spicy)
	}
}

func TestUnknownInteractionType(t *testing.T) {
	m := newTestModel(t, newFakeStore())
	if _, err := m.RecordInteraction(context.Background(), "u1", "r_spicy", "teleported"); !errors.Is(err, ErrUnknownInteraction) {
		t.Fatalf("err = %v, want ErrUnknownInteraction", err)
	}
	if _, err := m.RecordInteraction(context.Background(), "", "r_spicy", "cooked"); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestWeightsUnknownUser(t *testing.T) {
	m := newTestModel(t, newFakeStore())
	w, err := m.Weights(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Weights: %v", err)
	}
	if w == nil || len(w) != 0 {
		t.Errorf("unknown user weights = %v, want empty map", w)
	}
}

func TestConcurrentRecordNoLostUpdates(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.RecordInteraction(ctx, "u1", "r_light", "cooked"); err != nil {
				t.Errorf("RecordInteraction: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := fs.eventCount(); got != n {
		t.Errorf("history has %d events, want exactly %d", got, n)
	}

	// With one dimension and identical events the final weight is
	// order-independent: sum of 0.95^i for i in [0,n).
	w, _ := m.Weights(ctx, "u1")
	light := w[store.Dimension{Type: store.DimFlavor, Value: "清淡"}]
	want := (1 - math.Pow(0.95, n)) / 0.05
	if math.Abs(light-want) > 1e-6 {
		t.Errorf("accumulated weight = %f, want %f", light, want)
	}
}

func TestPersistFailureDoesNotFailCaller(t *testing.T) {
	fs := newFakeStore()
	fs.saveErr = errors.New("disk full")
	m := newTestModel(t, fs)
	ctx := context.Background()

	id, err := m.RecordInteraction(ctx, "u1", "r_spicy", "cooked")
	if err != nil {
		t.Fatalf("persistence failure must not surface: %v", err)
	}
	if id == "" {
		t.Error("event ID should still be issued")
	}

	// The in-memory profile keeps the update even though the write was
	// dropped.
	w, _ := m.Weights(ctx, "u1")
	if w[store.Dimension{Type: store.DimFlavor, Value: "辣"}] != 1.0 {
		t.Errorf("in-memory weight lost: %v", w)
	}
}

func TestDecaySweep(t *testing.T) {
	fs := newFakeStore()
	fs.users = []string{"u2"}
	fs.weights["u2"] = []store.WeightRow{
		{Dim: store.Dimension{Type: store.DimTag, Value: "家常"}, Weight: 0.5},
		{Dim: store.Dimension{Type: store.DimTag, Value: "下饭"}, Weight: 0.005},
	}
	m := newTestModel(t, fs)
	ctx := context.Background()

	if err := m.DecaySweep(ctx); err != nil {
		t.Fatalf("DecaySweep: %v", err)
	}

	w, _ := m.Weights(ctx, "u2")
	kept := store.Dimension{Type: store.DimTag, Value: "家常"}
	if math.Abs(w[kept]-0.45) > 1e-9 {
		t.Errorf("decayed weight = %f, want 0.45", w[kept])
	}
	if _, ok := w[store.Dimension{Type: store.DimTag, Value: "下饭"}]; ok {
		t.Error("near-zero weight should be dropped by the sweep")
	}
}

func TestScheduleDecayBadSpec(t *testing.T) {
	m := newTestModel(t, newFakeStore())
	if err := m.ScheduleDecay("not a cron spec"); err == nil {
		t.Fatal("expected error for malformed schedule")
	}
}

func TestTopDimensions(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	m.RecordInteraction(ctx, "u1", "r_spicy", "cooked") // 辣 1.0, 家常 1.0
	m.RecordInteraction(ctx, "u1", "r_light", "viewed") // 辣 0.95, 清淡 0.2
	m.RecordInteraction(ctx, "u1", "r_light", "cooked") // 清淡 1.19, 辣 0.9025

	flavors, err := m.TopDimensions(ctx, "u1", store.DimFlavor, 2)
	if err != nil {
		t.Fatalf("TopDimensions: %v", err)
	}
	if len(flavors) != 2 || flavors[0] != "清淡" || flavors[1] != "辣" {
		t.Errorf("top flavors = %v, want [清淡 辣]", flavors)
	}
}

func TestRecordStatedCookedDishRecordsInteraction(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	err := m.RecordStated(ctx, "u1", Stated{CookedDishes: []string{"辣子鸡"}})
	if err != nil {
		t.Fatalf("RecordStated: %v", err)
	}
	if fs.eventCount() != 1 {
		t.Fatalf("event count = %d, want 1", fs.eventCount())
	}
	ev := fs.events[0]
	if ev.Type != "cooked" || ev.RecipeID != "r_spicy" {
		t.Errorf("event = %s/%s, want cooked/r_spicy", ev.Type, ev.RecipeID)
	}
	weights, _ := m.Weights(ctx, "u1")
	if got := weights[store.Dimension{Type: store.DimFlavor, Value: "辣"}]; got != 1.0 {
		t.Errorf("辣 weight = %v, want 1.0", got)
	}
}

func TestRecordStatedLikedDishAndFlavor(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)
	ctx := context.Background()

	err := m.RecordStated(ctx, "u1", Stated{
		LikedDishes: []string{"清蒸鲈鱼"},
		Flavors:     []string{"辣"},
	})
	if err != nil {
		t.Fatalf("RecordStated: %v", err)
	}
	if fs.eventCount() != 1 {
		t.Fatalf("event count = %d, want 1", fs.eventCount())
	}
	if ev := fs.events[0]; ev.Type != "liked" || ev.RecipeID != "r_light" {
		t.Errorf("event = %s/%s, want liked/r_light", ev.Type, ev.RecipeID)
	}
	weights, _ := m.Weights(ctx, "u1")
	if got := weights[store.Dimension{Type: store.DimFlavor, Value: "清淡"}]; got != 0.8 {
		t.Errorf("清淡 weight = %v, want 0.8", got)
	}
	if got := weights[store.Dimension{Type: store.DimFlavor, Value: "辣"}]; got != 0.5 {
		t.Errorf("辣 weight = %v, want 0.5", got)
	}
}

func TestRecordStatedUnknownDishSkipped(t *testing.T) {
	fs := newFakeStore()
	m := newTestModel(t, fs)

	err := m.RecordStated(context.Background(), "u1", Stated{CookedDishes: []string{"没有的菜"}})
	if err != nil {
		t.Fatalf("RecordStated: %v", err)
	}
	if fs.eventCount() != 0 {
		t.Errorf("event count = %d, want 0", fs.eventCount())
	}
}

// ----------------------------------------------------------------------------
// Stated-preference extraction tests
// ----------------------------------------------------------------------------

func TestExtractStated(t *testing.T) {
	dishes := []string{"宫保鸡丁", "麻婆豆腐", "白灼虾"}

	tests := []struct {
		name  string
		query string
		check func(t *testing.T, s Stated)
	}{
		{
			name:  "stated flavor liking",
			query: "我喜欢吃辛辣的食物",
			check: func(t *testing.T, s Stated) {
				if len(s.Flavors) != 1 || s.Flavors[0] != "辣" {
					t.Errorf("flavors = %v, want [辣]", s.Flavors)
				}
			},
		},
		{
			name:  "cooked dish",
			query: "我做过宫保鸡丁",
			check: func(t *testing.T, s Stated) {
				if len(s.CookedDishes) != 1 || s.CookedDishes[0] != "宫保鸡丁" {
					t.Errorf("cooked = %v, want [宫保鸡丁]", s.CookedDishes)
				}
			},
		},
		{
			name:  "liked dishes",
			query: "我特别喜欢宫保鸡丁和麻婆豆腐",
			check: func(t *testing.T, s Stated) {
				if len(s.LikedDishes) != 2 {
					t.Errorf("liked = %v, want two dishes", s.LikedDishes)
				}
			},
		},
		{
			name:  "lifestyle tags without liking words",
			query: "我最近经常熬夜，想吃点养生的食物",
			check: func(t *testing.T, s Stated) {
				if !contains(s.Tags, "熬夜") || !contains(s.Tags, "养生") {
					t.Errorf("tags = %v, want 熬夜 and 养生", s.Tags)
				}
			},
		},
		{
			name:  "liked ingredient",
			query: "我喜欢吃鸡肉",
			check: func(t *testing.T, s Stated) {
				if len(s.Ingredients) != 1 || s.Ingredients[0] != "鸡肉" {
					t.Errorf("ingredients = %v, want [鸡肉]", s.Ingredients)
				}
			},
		},
		{
			name:  "plain how-to query carries no preference",
			query: "白灼虾怎么做",
			check: func(t *testing.T, s Stated) {
				if s.HasPreference() {
					t.Errorf("unexpected preference signals: %+v", s)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, ExtractStated(tt.query, dishes))
		})
	}
}

func contains(list []string, v string) bool {
	for _, have := range list {
		if have == v {
			return true
		}
	}
	return false
}
