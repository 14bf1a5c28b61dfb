package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Dimension type names used in recipe dimensions and preference weights.
const (
	DimIngredient = "ingredient"
	DimTag        = "tag"
	DimFlavor     = "flavor"
	DimScene      = "scene"
)

// Dimension is a typed feature of a recipe: an ingredient, tag, flavor
// or scene it is linked to in the graph.
type Dimension struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Recipe represents a row in the recipes table.
type Recipe struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Difficulty  string `json:"difficulty,omitempty"`
	TimeCost    string `json:"time_cost,omitempty"`
	Description string `json:"description,omitempty"`
}

// VectorHit is a single KNN search result. Score is a similarity in [0,1].
type VectorHit struct {
	RecipeID string  `json:"recipe_id"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
}

// GraphHit is a single graph traversal result. Score is the structural
// relevance weight assigned by the matched relation, always in [0,1].
type GraphHit struct {
	RecipeID       string   `json:"recipe_id"`
	Name           string   `json:"name"`
	Score          float64  `json:"score"`
	MatchedReasons []string `json:"matched_reasons"`
}

// SimilarHit is a recipe structurally similar to a seed recipe. Score is
// the raw weighted shared-feature count.
type SimilarHit struct {
	RecipeID          string   `json:"recipe_id"`
	Name              string   `json:"name"`
	Score             float64  `json:"score"`
	Difficulty        string   `json:"difficulty,omitempty"`
	SharedFlavors     []string `json:"shared_flavors,omitempty"`
	SharedIngredients []string `json:"shared_ingredients,omitempty"`
	SharedTags        []string `json:"shared_tags,omitempty"`
}

// Interaction is a single entry of a user's append-only history.
type Interaction struct {
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	RecipeID  string    `json:"recipe_id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// WeightRow is one persisted preference weight.
type WeightRow struct {
	Dim    Dimension `json:"dim"`
	Weight float64   `json:"weight"`
}

// QueryLog represents a row in the query_log table.
type QueryLog struct {
	UserID          string      `json:"user_id,omitempty"`
	Query           string      `json:"query"`
	Intent          interface{} `json:"intent,omitempty"`
	Answer          string      `json:"answer,omitempty"`
	RetrievalMethod string      `json:"retrieval_method,omitempty"`
	ModelUsed       string      `json:"model_used,omitempty"`
}

// Store wraps the SQLite database for all recipegraph persistence: the
// recipe graph, the vector index and user profiles.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual table.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Recipe operations ---

// UpsertRecipe inserts or updates a recipe and replaces its graph edges
// with the given dimensions. Intended for an external ETL; the engine
// itself never builds the graph.
func (s *Store) UpsertRecipe(ctx context.Context, r Recipe, dims []Dimension) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recipes (id, name, difficulty, time_cost, description)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				difficulty = excluded.difficulty,
				time_cost = excluded.time_cost,
				description = excluded.description
		`, r.ID, r.Name, r.Difficulty, r.TimeCost, r.Description); err != nil {
			return err
		}

		for _, table := range []string{"need_ingredient", "has_tag", "has_flavor", "suitable_for"} {
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM "+table+" WHERE recipe_id = ?", r.ID); err != nil {
				return err
			}
		}

		for _, d := range dims {
			if err := s.linkDimension(ctx, tx, r.ID, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) linkDimension(ctx context.Context, tx *sql.Tx, recipeID string, d Dimension) error {
	var nodeTable, edgeTable, edgeCol string
	switch d.Type {
	case DimIngredient:
		nodeTable, edgeTable, edgeCol = "ingredients", "need_ingredient", "ingredient_id"
	case DimTag:
		nodeTable, edgeTable, edgeCol = "tags", "has_tag", "tag_id"
	case DimFlavor:
		nodeTable, edgeTable, edgeCol = "flavors", "has_flavor", "flavor_id"
	case DimScene:
		nodeTable, edgeTable, edgeCol = "scenes", "suitable_for", "scene_id"
	default:
		return fmt.Errorf("unknown dimension type: %s", d.Type)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+nodeTable+" (name) VALUES (?)", d.Value); err != nil {
		return err
	}

	var nodeID int64
	if err := tx.QueryRowContext(ctx,
		"SELECT id FROM "+nodeTable+" WHERE name = ?", d.Value).Scan(&nodeID); err != nil {
		return err
	}

	_, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+edgeTable+" (recipe_id, "+edgeCol+") VALUES (?, ?)",
		recipeID, nodeID)
	return err
}

// GetRecipe retrieves a recipe by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetRecipe(ctx context.Context, id string) (*Recipe, error) {
	r := &Recipe{}
	var difficulty, timeCost, description sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, difficulty, time_cost, description
		FROM recipes WHERE id = ?
	`, id).Scan(&r.ID, &r.Name, &difficulty, &timeCost, &description)
	if err != nil {
		return nil, err
	}
	r.Difficulty = difficulty.String
	r.TimeCost = timeCost.String
	r.Description = description.String
	return r, nil
}

// GetRecipeByName retrieves a recipe by its exact name.
func (s *Store) GetRecipeByName(ctx context.Context, name string) (*Recipe, error) {
	var id string
	if err := s.db.QueryRowContext(ctx,
		"SELECT id FROM recipes WHERE name = ?", name).Scan(&id); err != nil {
		return nil, err
	}
	return s.GetRecipe(ctx, id)
}

// RecipeNames lists every recipe name, for scanning queries against the
// known dish vocabulary.
func (s *Store) RecipeNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM recipes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// --- Embedding operations ---

// InsertRecipeEmbedding stores a vector embedding for a recipe.
func (s *Store) InsertRecipeEmbedding(ctx context.Context, recipeID string, embedding []float32) error {
	var rowid int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT rowid FROM recipes WHERE id = ?", recipeID).Scan(&rowid); err != nil {
		return fmt.Errorf("resolving recipe %s: %w", recipeID, err)
	}
	// vec0 virtual tables reject INSERT OR REPLACE, so delete first.
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM vec_recipes WHERE recipe_rowid = ?", rowid); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO vec_recipes (recipe_rowid, embedding) VALUES (?, ?)",
		rowid, serializeFloat32(embedding))
	return err
}

// SearchRecipes performs a KNN search returning the top-k nearest recipes.
// Results are ordered by similarity descending, similarity in [0,1].
func (s *Store) SearchRecipes(ctx context.Context, queryEmbedding []float32, k int) ([]VectorHit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.name, v.distance
		FROM vec_recipes v
		JOIN recipes r ON r.rowid = v.recipe_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		var distance float64
		if err := rows.Scan(&h.RecipeID, &h.Name, &distance); err != nil {
			return nil, err
		}
		// Convert distance to similarity, clamped to [0,1] for fusion.
		h.Score = 1.0 - distance
		if h.Score < 0 {
			h.Score = 0
		} else if h.Score > 1 {
			h.Score = 1
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// --- Query log ---

// LogQuery writes an entry to the query audit log.
func (s *Store) LogQuery(ctx context.Context, q QueryLog) error {
	intentJSON, _ := json.Marshal(q.Intent)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_log (user_id, query, intent, answer, retrieval_method, model_used)
		VALUES (?, ?, ?, ?, ?, ?)
	`, q.UserID, q.Query, string(intentJSON), q.Answer, q.RetrievalMethod, q.ModelUsed)
	return err
}

// --- Diagnostics ---

// DBStats holds counts of key database objects.
type DBStats struct {
	Recipes      int `json:"recipes"`
	Embeddings   int `json:"embeddings"`
	Ingredients  int `json:"ingredients"`
	Tags         int `json:"tags"`
	Flavors      int `json:"flavors"`
	Users        int `json:"users"`
	Interactions int `json:"interactions"`
}

// Stats returns counts of recipes, embeddings, graph nodes, users and
// interactions.
func (s *Store) Stats(ctx context.Context) (*DBStats, error) {
	stats := &DBStats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM recipes", &stats.Recipes},
		{"SELECT COUNT(*) FROM vec_recipes", &stats.Embeddings},
		{"SELECT COUNT(*) FROM ingredients", &stats.Ingredients},
		{"SELECT COUNT(*) FROM tags", &stats.Tags},
		{"SELECT COUNT(*) FROM flavors", &stats.Flavors},
		{"SELECT COUNT(*) FROM users", &stats.Users},
		{"SELECT COUNT(*) FROM interactions", &stats.Interactions},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}
