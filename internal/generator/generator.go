package generator

import (
	"context"
	"fmt"
	"net/http"

	"chatrelay/internal/config"
)

// Message is one turn of dialogue history handed to a generator.
type Message struct {
	Role string
	Text string
}

// Generator produces the bot's reply from the ordered dialogue history.
// Implementations may take several seconds; callers pass the request context.
type Generator interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// New builds the generator selected by configuration.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Kind {
	case config.GeneratorMock:
		return NewMock(cfg.MockMinDelay, cfg.MockMaxDelay), nil
	case config.GeneratorOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
			HTTPClient:   &http.Client{Timeout: cfg.Timeout},
			MaxRetries:   cfg.MaxRetries,
			BackoffBase:  cfg.BackoffBase,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported generator kind %q", cfg.Kind)
	}
}
