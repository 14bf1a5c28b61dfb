package llm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the provider's circuit breaker has
// tripped and calls are being rejected without reaching the backend.
var ErrCircuitOpen = errors.New("llm: circuit breaker open")

// breakerProvider wraps a Provider with a circuit breaker so that a
// failing or slow LLM backend stops blocking callers. Chat and Embed
// calls share one breaker; once it opens, callers fail fast and can
// fall back to rule-based behavior.
type breakerProvider struct {
	inner Provider
	chat  *gobreaker.CircuitBreaker[*ChatResponse]
	embed *gobreaker.CircuitBreaker[[][]float32]
}

// WithBreaker wraps p with circuit breakers for chat and embedding
// calls. The breaker trips after five consecutive failures and resets
// after thirty seconds.
func WithBreaker(p Provider) Provider {
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("llm circuit breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String())
			},
		}
	}
	return &breakerProvider{
		inner: p,
		chat:  gobreaker.NewCircuitBreaker[*ChatResponse](settings("llm-chat")),
		embed: gobreaker.NewCircuitBreaker[[][]float32](settings("llm-embed")),
	}
}

func (b *breakerProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	resp, err := b.chat.Execute(func() (*ChatResponse, error) {
		return b.inner.Chat(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return resp, err
}

func (b *breakerProvider) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error) {
	// Streams are long-lived, so only the initial connection counts
	// against the breaker. Mid-stream errors are delivered on the
	// channel and do not trip it.
	if b.chat.State() == gobreaker.StateOpen {
		return nil, ErrCircuitOpen
	}
	return b.inner.ChatStream(ctx, req)
}

// Available reports whether the chat breaker is accepting calls. Used
// by health checks to probe availability without a model call.
func (b *breakerProvider) Available() bool {
	return b.chat.State() != gobreaker.StateOpen
}

func (b *breakerProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := b.embed.Execute(func() ([][]float32, error) {
		return b.inner.Embed(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return vecs, err
}
