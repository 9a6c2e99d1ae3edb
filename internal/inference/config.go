package inference

import (
	"fmt"
	"time"
)

// Kind selects a Backend implementation
type Kind string

const (
	KindStub Kind = "stub"
	KindLive Kind = "live"
)

// Config selects and configures a backend once at startup
type Config struct {
	Kind Kind
	// Provider is "gemini" or "ollama"; only used by KindLive
	Provider    string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	StubDelay   time.Duration
}

// New builds the backend described by cfg
func New(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindStub:
		return NewStub(cfg.StubDelay), nil
	case KindLive:
		provider, err := newProvider(cfg)
		if err != nil {
			return nil, err
		}
		return NewLive(provider), nil
	default:
		return nil, fmt.Errorf("invalid backend %q: valid backends are stub or live", cfg.Kind)
	}
}

func newProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "gemini":
		p, err := NewGemini(cfg.GeminiKey, cfg.GeminiModel)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return p, nil
	case "ollama":
		p, err := NewOllama(cfg.OllamaURL, cfg.OllamaModel)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("invalid provider %q: valid providers are gemini or ollama", cfg.Provider)
	}
}
