// Package preference maintains per-user taste profiles learned from
// interaction history. A profile is a weighted map over recipe
// dimensions (flavors, tags, ingredients, scenes) plus an append-only
// event log; weights decay exponentially so recent interactions
// dominate older ones.
package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/zxcasde/RecipeGraphRAG/store"
)

// ErrUnknownInteraction is returned for interaction types outside the
// supported set.
var ErrUnknownInteraction = errors.New("preference: unknown interaction type")

// ErrInvalidEvent is returned when a recorded event is missing its user
// or recipe.
var ErrInvalidEvent = errors.New("preference: user and recipe are required")

// typeWeights maps interaction types to the signed weight each event
// contributes to the recipe's dimensions. Rejections subtract weight.
var typeWeights = map[string]float64{
	"cooked":   1.0,
	"liked":    0.8,
	"saved":    0.6,
	"viewed":   0.2,
	"rejected": -0.8,
}

// minWeight is the magnitude below which a decayed weight is dropped
// from the profile.
const minWeight = 0.01

// InteractionTypes lists the supported interaction types in descending
// weight order.
func InteractionTypes() []string {
	out := make([]string, 0, len(typeWeights))
	for t := range typeWeights {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return typeWeights[out[i]] > typeWeights[out[j]] })
	return out
}

// Store is the persistence contract the model needs.
type Store interface {
	AppendInteraction(ctx context.Context, in store.Interaction) error
	RecipeDimensions(ctx context.Context, recipeID string) ([]store.Dimension, error)
	GetRecipeByName(ctx context.Context, name string) (*store.Recipe, error)
	LoadWeights(ctx context.Context, userID string) ([]store.WeightRow, error)
	SaveWeights(ctx context.Context, userID string, weights []store.WeightRow) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Config holds preference model tuning.
type Config struct {
	// RecencyDecay multiplies all existing weights before each new
	// interaction is applied, so later events carry more weight.
	RecencyDecay float64
	// DecayFactor is applied to every weight by the scheduled sweep.
	DecayFactor float64
	// PersistAttempts bounds retries of a failed profile write before
	// the update is dropped with a warning.
	PersistAttempts int
	PersistBackoff  time.Duration
}

func (c *Config) defaults() {
	if c.RecencyDecay <= 0 || c.RecencyDecay > 1 {
		c.RecencyDecay = 0.95
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		c.DecayFactor = 0.9
	}
	if c.PersistAttempts <= 0 {
		c.PersistAttempts = 3
	}
	if c.PersistBackoff <= 0 {
		c.PersistBackoff = 200 * time.Millisecond
	}
}

// profile is the in-memory state for one user. Its mutex serializes all
// updates to that user; different users never contend.
type profile struct {
	mu      sync.Mutex
	loaded  bool
	weights map[store.Dimension]float64
}

// Model owns all user profiles. Reads and writes for the same user are
// serialized through the per-user lock so no update is lost and readers
// never observe a half-applied event.
type Model struct {
	store Store
	cfg   Config

	mu    sync.Mutex
	users map[string]*profile

	sched *cron.Cron
}

// NewModel creates a preference model backed by st.
func NewModel(st Store, cfg Config) *Model {
	cfg.defaults()
	return &Model{store: st, cfg: cfg, users: make(map[string]*profile)}
}

func (m *Model) profileFor(userID string) *profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.users[userID]
	if !ok {
		p = &profile{weights: make(map[store.Dimension]float64)}
		m.users[userID] = p
	}
	return p
}

// ensureLoaded pulls the persisted weights into memory once per user.
// Caller holds p.mu.
func (m *Model) ensureLoaded(ctx context.Context, p *profile, userID string) error {
	if p.loaded {
		return nil
	}
	rows, err := m.store.LoadWeights(ctx, userID)
	if err != nil {
		return fmt.Errorf("load profile %s: %w", userID, err)
	}
	for _, r := range rows {
		p.weights[r.Dim] = r.Weight
	}
	p.loaded = true
	return nil
}

// RecordInteraction appends an event to the user's history and folds the
// recipe's dimensions into the profile. Existing weights are first
// multiplied by RecencyDecay, then the signed type weight is added for
// each dimension of the recipe. The event ID is returned for dedup.
//
// Persistence failures are retried with backoff; if the store keeps
// rejecting the write the update survives in memory and the loss is
// logged rather than surfaced.
func (m *Model) RecordInteraction(ctx context.Context, userID, recipeID, interactionType string) (string, error) {
	tw, ok := typeWeights[interactionType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownInteraction, interactionType)
	}
	if userID == "" || recipeID == "" {
		return "", ErrInvalidEvent
	}

	dims, err := m.store.RecipeDimensions(ctx, recipeID)
	if err != nil {
		return "", fmt.Errorf("recipe dimensions: %w", err)
	}

	ev := store.Interaction{
		EventID:   uuid.NewString(),
		UserID:    userID,
		RecipeID:  recipeID,
		Type:      interactionType,
		CreatedAt: time.Now().UTC(),
	}

	p := m.profileFor(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.ensureLoaded(ctx, p, userID); err != nil {
		return "", err
	}

	m.withRetry(ctx, "append interaction", userID, func() error {
		return m.store.AppendInteraction(ctx, ev)
	})

	for d := range p.weights {
		p.weights[d] *= m.cfg.RecencyDecay
	}
	for _, d := range dims {
		p.weights[d] += tw
	}

	m.withRetry(ctx, "save weights", userID, func() error {
		return m.store.SaveWeights(ctx, userID, weightRows(p.weights))
	})

	slog.Debug("preference: interaction recorded",
		"user", userID, "recipe", recipeID, "type", interactionType, "dims", len(dims))
	return ev.EventID, nil
}

// Stated-preference weights are softer than interaction weights: a
// remark in passing should nudge the profile, not dominate it.
const (
	statedFlavorWeight     = 0.5
	statedTagWeight        = 0.3
	statedIngredientWeight = 0.3
)

// RecordStated folds preferences stated in a query into the profile.
// Dish mentions become full interaction events: "我做过宫保鸡丁" counts as
// cooked, "喜欢辣子鸡" as liked. Flavor/tag/ingredient remarks carry no
// history event and apply no decay: they reinforce dimensions without
// displacing learned weights.
func (m *Model) RecordStated(ctx context.Context, userID string, s Stated) error {
	if userID == "" || !s.HasPreference() {
		return nil
	}

	m.recordDishes(ctx, userID, s.CookedDishes, "cooked")
	m.recordDishes(ctx, userID, s.LikedDishes, "liked")
	if len(s.Flavors)+len(s.Tags)+len(s.Ingredients) == 0 {
		return nil
	}

	p := m.profileFor(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.ensureLoaded(ctx, p, userID); err != nil {
		return err
	}
	for _, v := range s.Flavors {
		p.weights[store.Dimension{Type: store.DimFlavor, Value: v}] += statedFlavorWeight
	}
	for _, v := range s.Tags {
		p.weights[store.Dimension{Type: store.DimTag, Value: v}] += statedTagWeight
	}
	for _, v := range s.Ingredients {
		p.weights[store.Dimension{Type: store.DimIngredient, Value: v}] += statedIngredientWeight
	}
	m.withRetry(ctx, "save stated preferences", userID, func() error {
		return m.store.SaveWeights(ctx, userID, weightRows(p.weights))
	})
	return nil
}

// recordDishes resolves stated dish names and records them as
// interaction events. Names that no longer match a recipe are skipped.
func (m *Model) recordDishes(ctx context.Context, userID string, dishes []string, interactionType string) {
	for _, name := range dishes {
		r, err := m.store.GetRecipeByName(ctx, name)
		if err != nil {
			slog.Debug("preference: stated dish not found", "user", userID, "dish", name)
			continue
		}
		if _, err := m.RecordInteraction(ctx, userID, r.ID, interactionType); err != nil {
			slog.Warn("preference: recording stated dish failed",
				"user", userID, "dish", name, "type", interactionType, "error", err)
		}
	}
}

// Weights returns a snapshot of the user's preference weights. Unknown
// users get an empty, valid map.
func (m *Model) Weights(ctx context.Context, userID string) (map[store.Dimension]float64, error) {
	p := m.profileFor(userID)
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := m.ensureLoaded(ctx, p, userID); err != nil {
		return nil, err
	}
	out := make(map[store.Dimension]float64, len(p.weights))
	for d, w := range p.weights {
		out[d] = w
	}
	return out, nil
}

// TopDimensions returns the user's strongest positive dimensions of the
// given type, best first.
func (m *Model) TopDimensions(ctx context.Context, userID, dimType string, limit int) ([]string, error) {
	weights, err := m.Weights(ctx, userID)
	if err != nil {
		return nil, err
	}
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
	if limit > 0 && len(picks) > limit {
		picks = picks[:limit]
	}
	out := make([]string, len(picks))
	for i, p := range picks {
		out[i] = p.value
	}
	return out, nil
}

// DecaySweep multiplies every weight of every known user by DecayFactor
// and drops weights that have decayed to noise. It visits persisted and
// in-memory users alike.
func (m *Model) DecaySweep(ctx context.Context) error {
	ids, err := m.store.ListUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	m.mu.Lock()
	for id := range m.users {
		if !seen[id] {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		p := m.profileFor(id)
		p.mu.Lock()
		if err := m.ensureLoaded(ctx, p, id); err != nil {
			p.mu.Unlock()
			errs = append(errs, err)
			continue
		}
		for d, w := range p.weights {
			w *= m.cfg.DecayFactor
			if math.Abs(w) < minWeight {
				delete(p.weights, d)
				continue
			}
			p.weights[d] = w
		}
		m.withRetry(ctx, "save decayed weights", id, func() error {
			return m.store.SaveWeights(ctx, id, weightRows(p.weights))
		})
		p.mu.Unlock()
	}

	slog.Info("preference: decay sweep complete", "users", len(ids), "errors", len(errs))
	return errors.Join(errs...)
}

// ScheduleDecay starts a cron schedule that runs DecaySweep. The spec
// uses standard five-field cron syntax.
func (m *Model) ScheduleDecay(spec string) error {
	if m.sched != nil {
		m.sched.Stop()
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := m.DecaySweep(ctx); err != nil {
			slog.Warn("preference: scheduled decay sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule decay %q: %w", spec, err)
	}
	c.Start()
	m.sched = c
	slog.Info("preference: decay sweep scheduled", "spec", spec)
	return nil
}

// Close stops the decay schedule if one is running.
func (m *Model) Close() {
	if m.sched != nil {
		m.sched.Stop()
		m.sched = nil
	}
}

// withRetry runs fn up to PersistAttempts times with linear backoff.
// A write that still fails is dropped with a warning: losing one profile
// update is acceptable, blocking the caller is not.
func (m *Model) withRetry(ctx context.Context, op, userID string, fn func() error) {
	var err error
	for attempt := 1; attempt <= m.cfg.PersistAttempts; attempt++ {
		if err = fn(); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < m.cfg.PersistAttempts {
			time.Sleep(time.Duration(attempt) * m.cfg.PersistBackoff)
		}
	}
	slog.Warn("preference: dropping profile update",
		"op", op, "user", userID, "attempts", m.cfg.PersistAttempts, "error", err)
}

// weightRows converts the in-memory map to sorted rows for persistence.
func weightRows(weights map[store.Dimension]float64) []store.WeightRow {
	rows := make([]store.WeightRow, 0, len(weights))
	for d, w := range weights {
		rows = append(rows, store.WeightRow{Dim: d, Weight: w})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Dim.Type != rows[j].Dim.Type {
			return rows[i].Dim.Type < rows[j].Dim.Type
		}
		return rows[i].Dim.Value < rows[j].Dim.Value
	})
	return rows
}
