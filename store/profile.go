package store

import (
	"context"
	"database/sql"
	"time"
)

// EnsureUser creates the user row if it does not exist.
func (s *Store) EnsureUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO users (id) VALUES (?)", userID)
	return err
}

// AppendInteraction writes one event to the append-only interaction log.
func (s *Store) AppendInteraction(ctx context.Context, in Interaction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (id) VALUES (?)", in.UserID); err != nil {
			return err
		}
		createdAt := in.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO interactions (event_id, user_id, recipe_id, interaction_type, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, in.EventID, in.UserID, in.RecipeID, in.Type, createdAt)
		return err
	})
}

// ListInteractions returns a user's history, oldest first.
func (s *Store) ListInteractions(ctx context.Context, userID string, limit int) ([]Interaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, user_id, recipe_id, interaction_type, created_at
		FROM interactions WHERE user_id = ?
		ORDER BY seq
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Interaction
	for rows.Next() {
		var in Interaction
		if err := rows.Scan(&in.EventID, &in.UserID, &in.RecipeID, &in.Type, &in.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, in)
	}
	return events, rows.Err()
}

// CookedRecipeIDs returns the distinct recipes the user has cooked,
// for the unexplored-recipe recommendation mode.
func (s *Store) CookedRecipeIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT recipe_id FROM interactions
		WHERE user_id = ? AND interaction_type = 'cooked'
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LoadWeights reads the persisted preference weights for a user. An
// unknown user yields an empty slice, not an error.
func (s *Store) LoadWeights(ctx context.Context, userID string) ([]WeightRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dim_type, dim_value, weight
		FROM profile_weights WHERE user_id = ?
		ORDER BY dim_type, dim_value
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var weights []WeightRow
	for rows.Next() {
		var w WeightRow
		if err := rows.Scan(&w.Dim.Type, &w.Dim.Value, &w.Weight); err != nil {
			return nil, err
		}
		weights = append(weights, w)
	}
	return weights, rows.Err()
}

// SaveWeights replaces the user's persisted weights in one transaction,
// giving read-after-write consistency per user.
func (s *Store) SaveWeights(ctx context.Context, userID string, weights []WeightRow) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO users (id) VALUES (?)", userID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM profile_weights WHERE user_id = ?", userID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO profile_weights (user_id, dim_type, dim_value, weight)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, w := range weights {
			if _, err := stmt.ExecContext(ctx, userID, w.Dim.Type, w.Dim.Value, w.Weight); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUserIDs returns every known user, for the decay sweep.
func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM users ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
