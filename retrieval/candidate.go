package retrieval

// Source marks which retrieval path produced a candidate.
type Source string

const (
	SourceVector Source = "vector"
	SourceGraph  Source = "graph"
	SourceBoth   Source = "both"
)

// Candidate is one recipe produced by retrieval. Raw per-source scores
// are kept alongside the fused score so the tie-break and the rationale
// generation can inspect them.
type Candidate struct {
	RecipeID string `json:"recipe_id"`
	Name     string `json:"name,omitempty"`
	Source   Source `json:"source"`

	VectorScore float64 `json:"vector_score,omitempty"`
	HasVector   bool    `json:"has_vector,omitempty"`
	GraphScore  float64 `json:"graph_score,omitempty"`
	HasGraph    bool    `json:"has_graph,omitempty"`

	FusedScore     float64  `json:"fused_score"`
	MatchedReasons []string `json:"matched_reasons,omitempty"`
}
