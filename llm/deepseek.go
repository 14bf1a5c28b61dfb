package llm

// NewDeepSeek creates a provider for the DeepSeek API. DeepSeek serves
// an OpenAI-compatible chat endpoint but no embeddings endpoint, so a
// DeepSeek provider is typically paired with a separate embedding
// provider (e.g. Ollama).
func NewDeepSeek(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-chat"
	}
	return NewOpenAICompat(cfg)
}
