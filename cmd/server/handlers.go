package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	recipegraph "github.com/zxcasde/RecipeGraphRAG"
	"github.com/zxcasde/RecipeGraphRAG/store"
)

type handler struct {
	engine recipegraph.Engine
}

func newHandler(e recipegraph.Engine) *handler {
	return &handler{engine: e}
}

// POST /ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req struct {
		Query     string  `json:"query"`
		UserID    string  `json:"user_id,omitempty"`
		TopN      int     `json:"top_n,omitempty"`
		WeightVec float64 `json:"weight_vector,omitempty"`
		WeightGr  float64 `json:"weight_graph,omitempty"`
		BonusBoth float64 `json:"bonus_both,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	answer, err := h.engine.Ask(ctx, req.Query, askOptions(req.UserID, req.TopN, req.WeightVec, req.WeightGr, req.BonusBoth)...)
	if err != nil {
		if errors.Is(err, recipegraph.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("ask error", "query", req.Query, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, answer)
}

// GET /ask/stream?q=...&user=...&top_n=...
// Streams the answer as server-sent events. The recommendation list is
// sent first in one "meta" event; answer text follows as "delta" events.
func (h *handler) handleAskStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	userID := r.URL.Query().Get("user")
	topN, _ := strconv.Atoi(r.URL.Query().Get("top_n"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	answer, deltas, err := h.engine.AskStream(r.Context(), query, askOptions(userID, topN, 0, 0, 0)...)
	if err != nil {
		if errors.Is(err, recipegraph.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "query parameter q is required")
			return
		}
		writeError(w, http.StatusInternalServerError, "query failed")
		slog.Error("ask stream error", "query", query, "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeEvent(w, "meta", answer)
	flusher.Flush()

	for delta := range deltas {
		if delta.Err != nil {
			writeEvent(w, "error", map[string]string{"error": "generation failed"})
			flusher.Flush()
			slog.Warn("stream delta error", "error", delta.Err)
			return
		}
		if delta.Done {
			break
		}
		writeEvent(w, "delta", map[string]string{"content": delta.Content})
		flusher.Flush()
	}

	writeEvent(w, "done", map[string]string{"status": "complete"})
	flusher.Flush()
}

// POST /users/{id}/interactions
func (h *handler) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	var req struct {
		RecipeID string `json:"recipe_id"`
		Type     string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	eventID, err := h.engine.RecordInteraction(r.Context(), userID, req.RecipeID, req.Type)
	if err != nil {
		switch {
		case errors.Is(err, recipegraph.ErrInvalidInteraction):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, recipegraph.ErrRecipeNotFound):
			writeError(w, http.StatusNotFound, "recipe not found")
		default:
			writeError(w, http.StatusInternalServerError, "recording interaction failed")
			slog.Error("interaction error", "user", userID, "error", err)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"event_id": eventID})
}

// GET /users/{id}/weights
func (h *handler) handleWeights(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	rows, err := h.engine.PreferenceWeights(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "loading profile failed")
		slog.Error("weights error", "user", userID, "error", err)
		return
	}
	if rows == nil {
		rows = []store.WeightRow{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"weights": rows,
	})
}

// GET /recommend/scenario/{name}?user=...&top_n=...
func (h *handler) handleScenario(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	userID := r.URL.Query().Get("user")
	topN, _ := strconv.Atoi(r.URL.Query().Get("top_n"))

	recs, err := h.engine.RecommendScenario(r.Context(), name, userID, topN)
	if err != nil {
		if errors.Is(err, recipegraph.ErrUnknownScenario) {
			writeError(w, http.StatusNotFound, "unknown scenario")
			return
		}
		writeError(w, http.StatusInternalServerError, "scenario recommendation failed")
		slog.Error("scenario error", "scenario", name, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenario":        name,
		"recommendations": recs,
	})
}

// GET /recommend/unexplored?user=...&top_n=...
func (h *handler) handleUnexplored(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user parameter is required")
		return
	}
	topN, _ := strconv.Atoi(r.URL.Query().Get("top_n"))

	recs, err := h.engine.UnexploredRecipes(r.Context(), userID, topN)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "recommendation failed")
		slog.Error("unexplored error", "user", userID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":         userID,
		"recommendations": recs,
	})
}

// GET /recipes/{id}/similar?top_n=...
func (h *handler) handleSimilar(w http.ResponseWriter, r *http.Request) {
	recipeID := chi.URLParam(r, "id")
	topN, _ := strconv.Atoi(r.URL.Query().Get("top_n"))

	recs, err := h.engine.SimilarRecipes(r.Context(), recipeID, topN)
	if err != nil {
		if errors.Is(err, recipegraph.ErrRecipeNotFound) {
			writeError(w, http.StatusNotFound, "recipe not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "similarity lookup failed")
		slog.Error("similar error", "recipe", recipeID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recipe_id":       recipeID,
		"recommendations": recs,
	})
}

// POST /recipes
func (h *handler) handleAddRecipe(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	var req struct {
		store.Recipe
		Dimensions []store.Dimension `json:"dimensions,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	if err := h.engine.AddRecipe(ctx, req.Recipe, req.Dimensions); err != nil {
		writeError(w, http.StatusInternalServerError, "adding recipe failed")
		slog.Error("add recipe error", "recipe", req.ID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"recipe_id": req.ID})
}

// GET /scenarios
func (h *handler) handleScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scenarios": h.engine.Scenarios(),
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.engine.Health(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func askOptions(userID string, topN int, wv, wg, bonus float64) []recipegraph.AskOption {
	var opts []recipegraph.AskOption
	if userID != "" {
		opts = append(opts, recipegraph.WithUser(userID))
	}
	if topN > 0 && topN <= 50 {
		opts = append(opts, recipegraph.WithTopN(topN))
	}
	if wv > 0 || wg > 0 {
		opts = append(opts, recipegraph.WithWeights(wv, wg, bonus))
	}
	return opts
}

func writeEvent(w http.ResponseWriter, event string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
