package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Recipe registry. The text id is the stable external key; the implicit
-- rowid keys the vec0 table.
CREATE TABLE IF NOT EXISTS recipes (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    difficulty TEXT,
    time_cost TEXT,
    description TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Graph node tables
CREATE TABLE IF NOT EXISTS ingredients (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS tags (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

-- Tag hierarchy: a tag may have multiple parents (e.g. 低脂 under both
-- 健康 and 减脂).
CREATE TABLE IF NOT EXISTS tag_parents (
    tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    parent_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (tag_id, parent_id)
);

CREATE TABLE IF NOT EXISTS flavors (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS scenes (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

-- Graph edge tables
CREATE TABLE IF NOT EXISTS need_ingredient (
    recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
    ingredient_id INTEGER NOT NULL REFERENCES ingredients(id) ON DELETE CASCADE,
    amount TEXT,
    PRIMARY KEY (recipe_id, ingredient_id)
);

CREATE TABLE IF NOT EXISTS has_tag (
    recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
    tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
    PRIMARY KEY (recipe_id, tag_id)
);

CREATE TABLE IF NOT EXISTS has_flavor (
    recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
    flavor_id INTEGER NOT NULL REFERENCES flavors(id) ON DELETE CASCADE,
    PRIMARY KEY (recipe_id, flavor_id)
);

CREATE TABLE IF NOT EXISTS suitable_for (
    recipe_id TEXT NOT NULL REFERENCES recipes(id) ON DELETE CASCADE,
    scene_id INTEGER NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
    PRIMARY KEY (recipe_id, scene_id)
);

-- Vector embeddings via sqlite-vec, keyed by recipes.rowid
CREATE VIRTUAL TABLE IF NOT EXISTS vec_recipes USING vec0(
    recipe_rowid INTEGER PRIMARY KEY,
    embedding float[%d]
);

-- Users and their append-only interaction log
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS interactions (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    event_id TEXT NOT NULL UNIQUE,
    user_id TEXT NOT NULL REFERENCES users(id),
    recipe_id TEXT NOT NULL,
    interaction_type TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Serialized preference weights, one row per (user, dimension)
CREATE TABLE IF NOT EXISTS profile_weights (
    user_id TEXT NOT NULL REFERENCES users(id),
    dim_type TEXT NOT NULL,
    dim_value TEXT NOT NULL,
    weight REAL NOT NULL,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (user_id, dim_type, dim_value)
);

-- Query audit log
CREATE TABLE IF NOT EXISTS query_log (
    id INTEGER PRIMARY KEY,
    user_id TEXT,
    query TEXT NOT NULL,
    intent JSON,
    answer TEXT,
    retrieval_method TEXT,
    model_used TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_need_ingredient_ing ON need_ingredient(ingredient_id);
CREATE INDEX IF NOT EXISTS idx_has_tag_tag ON has_tag(tag_id);
CREATE INDEX IF NOT EXISTS idx_has_flavor_flavor ON has_flavor(flavor_id);
CREATE INDEX IF NOT EXISTS idx_suitable_for_scene ON suitable_for(scene_id);
CREATE INDEX IF NOT EXISTS idx_interactions_user ON interactions(user_id);
CREATE INDEX IF NOT EXISTS idx_tag_parents_parent ON tag_parents(parent_id);
`, embeddingDim)
}
