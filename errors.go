package recipegraph

import "errors"

var (
	// ErrEmptyQuery is returned when Ask is called with an empty query string.
	ErrEmptyQuery = errors.New("recipegraph: query must not be empty")

	// ErrRecipeNotFound is returned when a recipe ID does not exist in the graph.
	ErrRecipeNotFound = errors.New("recipegraph: recipe not found")

	// ErrUnknownScenario is returned when a scenario name has no entry in the
	// scenario table.
	ErrUnknownScenario = errors.New("recipegraph: unknown scenario")

	// ErrBothRetrievalsFailed is returned by the retrieval layer when both the
	// vector and graph paths failed. Callers translate it into an empty
	// recommendation list, never into a user-facing crash.
	ErrBothRetrievalsFailed = errors.New("recipegraph: both retrieval paths failed")

	// ErrLLMUnavailable is returned when the LLM provider is unreachable.
	ErrLLMUnavailable = errors.New("recipegraph: LLM provider unavailable")

	// ErrStoreClosed is returned when operating on a closed store.
	ErrStoreClosed = errors.New("recipegraph: store is closed")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("recipegraph: invalid configuration")

	// ErrInvalidInteraction is returned when recording an interaction with an
	// unknown interaction type or missing identifiers.
	ErrInvalidInteraction = errors.New("recipegraph: invalid interaction")
)
