package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Structural relevance weights per relation. A direct dish-name hit beats
// everything; flavor edges are the strongest indirect signal, shared tags
// the weakest. All lie in [0,1] so fusion can normalize across batches.
const (
	ScoreDirectDish = 1.0
	ScoreFlavor     = 0.95
	ScoreIngredient = 0.9
	ScoreScene      = 0.8
	ScoreTag        = 0.8
)

// RecipesByName returns recipes whose name contains the given dish name.
func (s *Store) RecipesByName(ctx context.Context, name string, limit int) ([]GraphHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name FROM recipes
		WHERE name LIKE '%' || ? || '%'
		LIMIT ?
	`, name, limit)
	if err != nil {
		return nil, err
	}
	return scanEdgeHits(rows, ScoreDirectDish, "菜品匹配:"+name)
}

// RecipesByIngredient returns recipes linked to the named ingredient.
func (s *Store) RecipesByIngredient(ctx context.Context, ingredient string, limit int) ([]GraphHit, error) {
	return s.edgeQuery(ctx, "need_ingredient", "ingredient_id", "ingredients",
		ingredient, limit, ScoreIngredient, "包含食材:"+ingredient)
}

// RecipesByTag returns recipes linked to the named tag.
func (s *Store) RecipesByTag(ctx context.Context, tag string, limit int) ([]GraphHit, error) {
	return s.edgeQuery(ctx, "has_tag", "tag_id", "tags",
		tag, limit, ScoreTag, "标签:"+tag)
}

// RecipesByFlavor returns recipes linked to the named flavor.
func (s *Store) RecipesByFlavor(ctx context.Context, flavor string, limit int) ([]GraphHit, error) {
	return s.edgeQuery(ctx, "has_flavor", "flavor_id", "flavors",
		flavor, limit, ScoreFlavor, "口味:"+flavor)
}

// RecipesByScene returns recipes suitable for the named scene.
func (s *Store) RecipesByScene(ctx context.Context, scene string, limit int) ([]GraphHit, error) {
	return s.edgeQuery(ctx, "suitable_for", "scene_id", "scenes",
		scene, limit, ScoreScene, "适合场景:"+scene)
}

func (s *Store) edgeQuery(ctx context.Context, edgeTable, edgeCol, nodeTable, name string, limit int, score float64, reason string) ([]GraphHit, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`
		SELECT r.id, r.name
		FROM %s e
		JOIN %s n ON n.id = e.%s
		JOIN recipes r ON r.id = e.recipe_id
		WHERE n.name = ?
		LIMIT ?
	`, edgeTable, nodeTable, edgeCol)

	rows, err := s.db.QueryContext(ctx, query, name, limit)
	if err != nil {
		return nil, err
	}
	return scanEdgeHits(rows, score, reason)
}

func scanEdgeHits(rows *sql.Rows, score float64, reason string) ([]GraphHit, error) {
	defer rows.Close()
	var hits []GraphHit
	for rows.Next() {
		var h GraphHit
		if err := rows.Scan(&h.RecipeID, &h.Name); err != nil {
			return nil, err
		}
		h.Score = score
		h.MatchedReasons = []string{reason}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RecipesByTags returns recipes matching any of the given tags, scored by
// the fraction of tags matched. Used by scenario browsing where a scenario
// expands to a tag set.
func (s *Store) RecipesByTags(ctx context.Context, tags []string, limit int) ([]GraphHit, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT r.id, r.name, GROUP_CONCAT(t.name, ','), COUNT(DISTINCT t.id)
		FROM has_tag ht
		JOIN tags t ON t.id = ht.tag_id
		JOIN recipes r ON r.id = ht.recipe_id
		WHERE t.name IN (?` + repeatPlaceholders(len(tags)-1) + `)
		GROUP BY r.id
		ORDER BY COUNT(DISTINCT t.id) DESC, r.id
		LIMIT ?`

	args := make([]interface{}, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []GraphHit
	for rows.Next() {
		var h GraphHit
		var matched string
		var count int
		if err := rows.Scan(&h.RecipeID, &h.Name, &matched, &count); err != nil {
			return nil, err
		}
		h.Score = float64(count) / float64(len(tags))
		for _, m := range strings.Split(matched, ",") {
			h.MatchedReasons = append(h.MatchedReasons, "标签:"+m)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RecipeDimensions returns every graph dimension a recipe is linked to.
func (s *Store) RecipeDimensions(ctx context.Context, recipeID string) ([]Dimension, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ? , i.name FROM need_ingredient e JOIN ingredients i ON i.id = e.ingredient_id WHERE e.recipe_id = ?
		UNION ALL
		SELECT ?, t.name FROM has_tag e JOIN tags t ON t.id = e.tag_id WHERE e.recipe_id = ?
		UNION ALL
		SELECT ?, f.name FROM has_flavor e JOIN flavors f ON f.id = e.flavor_id WHERE e.recipe_id = ?
		UNION ALL
		SELECT ?, sc.name FROM suitable_for e JOIN scenes sc ON sc.id = e.scene_id WHERE e.recipe_id = ?
	`, DimIngredient, recipeID, DimTag, recipeID, DimFlavor, recipeID, DimScene, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dims []Dimension
	for rows.Next() {
		var d Dimension
		if err := rows.Scan(&d.Type, &d.Value); err != nil {
			return nil, err
		}
		dims = append(dims, d)
	}
	return dims, rows.Err()
}

// RelatedTags returns tags related to the given tag through the tag
// hierarchy: its children, its parents, and siblings sharing a parent.
// The input tag itself is excluded.
func (s *Store) RelatedTags(ctx context.Context, tag string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		WITH seed AS (SELECT id FROM tags WHERE name = ?)
		SELECT DISTINCT t.name FROM tags t
		WHERE t.id IN (
			-- children
			SELECT tp.tag_id FROM tag_parents tp WHERE tp.parent_id IN (SELECT id FROM seed)
			UNION
			-- parents
			SELECT tp.parent_id FROM tag_parents tp WHERE tp.tag_id IN (SELECT id FROM seed)
			UNION
			-- siblings
			SELECT tp2.tag_id FROM tag_parents tp1
			JOIN tag_parents tp2 ON tp2.parent_id = tp1.parent_id
			WHERE tp1.tag_id IN (SELECT id FROM seed)
		)
		AND t.id NOT IN (SELECT id FROM seed)
		ORDER BY t.name
	`, tag)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// LinkTagParent records a parent-child edge in the tag hierarchy,
// creating either tag if missing.
func (s *Store) LinkTagParent(ctx context.Context, child, parent string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		ids := make([]int64, 2)
		for i, name := range []string{child, parent} {
			if _, err := tx.ExecContext(ctx,
				"INSERT OR IGNORE INTO tags (name) VALUES (?)", name); err != nil {
				return err
			}
			if err := tx.QueryRowContext(ctx,
				"SELECT id FROM tags WHERE name = ?", name).Scan(&ids[i]); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO tag_parents (tag_id, parent_id) VALUES (?, ?)",
			ids[0], ids[1])
		return err
	})
}

// SimilarRecipes ranks recipes by structural similarity to the seed:
// shared flavors weigh 3, shared ingredients 2, shared tags 1. The seed
// itself is excluded; recipes with no shared features are omitted.
func (s *Store) SimilarRecipes(ctx context.Context, seedID string, limit int) ([]SimilarHit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		WITH shared_f AS (
			SELECT h2.recipe_id, GROUP_CONCAT(f.name, ',') AS names, COUNT(*) AS n
			FROM has_flavor h1
			JOIN has_flavor h2 ON h2.flavor_id = h1.flavor_id AND h2.recipe_id != h1.recipe_id
			JOIN flavors f ON f.id = h1.flavor_id
			WHERE h1.recipe_id = ?
			GROUP BY h2.recipe_id
		),
		shared_i AS (
			SELECT n2.recipe_id, GROUP_CONCAT(i.name, ',') AS names, COUNT(*) AS n
			FROM need_ingredient n1
			JOIN need_ingredient n2 ON n2.ingredient_id = n1.ingredient_id AND n2.recipe_id != n1.recipe_id
			JOIN ingredients i ON i.id = n1.ingredient_id
			WHERE n1.recipe_id = ?
			GROUP BY n2.recipe_id
		),
		shared_t AS (
			SELECT t2.recipe_id, GROUP_CONCAT(t.name, ',') AS names, COUNT(*) AS n
			FROM has_tag t1
			JOIN has_tag t2 ON t2.tag_id = t1.tag_id AND t2.recipe_id != t1.recipe_id
			JOIN tags t ON t.id = t1.tag_id
			WHERE t1.recipe_id = ?
			GROUP BY t2.recipe_id
		)
		SELECT r.id, r.name, COALESCE(r.difficulty, ''),
			COALESCE(sf.names, ''), COALESCE(si.names, ''), COALESCE(st.names, ''),
			COALESCE(sf.n, 0) * 3 + COALESCE(si.n, 0) * 2 + COALESCE(st.n, 0) AS score
		FROM recipes r
		LEFT JOIN shared_f sf ON sf.recipe_id = r.id
		LEFT JOIN shared_i si ON si.recipe_id = r.id
		LEFT JOIN shared_t st ON st.recipe_id = r.id
		WHERE r.id != ?
			AND COALESCE(sf.n, 0) * 3 + COALESCE(si.n, 0) * 2 + COALESCE(st.n, 0) > 0
		ORDER BY score DESC, r.difficulty ASC, r.id
		LIMIT ?
	`, seedID, seedID, seedID, seedID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SimilarHit
	for rows.Next() {
		var h SimilarHit
		var flavors, ingredients, tags string
		if err := rows.Scan(&h.RecipeID, &h.Name, &h.Difficulty,
			&flavors, &ingredients, &tags, &h.Score); err != nil {
			return nil, err
		}
		h.SharedFlavors = splitNonEmpty(flavors)
		h.SharedIngredients = splitNonEmpty(ingredients)
		h.SharedTags = splitNonEmpty(tags)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
