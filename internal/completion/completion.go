// Package completion talks to text-completion services that are asked for
// schema-constrained JSON. Responses are returned as raw text; parsing and
// validation belong to the extract package.
package completion

import (
	"context"
	"time"

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
	"github.com/sells-group/tender-cli/pkg/anthropic"
)

// Request is one completion call.
type Request struct {
	Model  string
	System string
	Prompt string
	// Format is a JSON schema the service should constrain output to.
	Format    map[string]any
	MaxTokens int
}

// Completer returns text believed to be structured data. Unreachable
// endpoints and 5xx/429 responses are transient; other 4xx responses are
// UPSTREAM_REJECTED.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
}

// New builds the configured provider behind a circuit breaker.
func New(cfg config.CompletionConfig, anthropicKey string) (Completer, error) {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second

	var c Completer
	switch cfg.Provider {
	case "ollama", "":
		c = NewOllama(cfg.Endpoint, timeout)
	case "anthropic":
		if anthropicKey == "" {
			return nil, resilience.Classifiedf(model.ClassConfigurationError,
				"completion: anthropic provider requires anthropic.key")
		}
		c = NewAnthropic(anthropic.NewClient(anthropicKey, cfg.Endpoint))
	default:
		return nil, resilience.Classifiedf(model.ClassConfigurationError,
			"completion: unknown provider %q", cfg.Provider)
	}

	return WithBreaker(c, resilience.NewBreaker(resilience.BreakerConfig{
		Name:             c.Name(),
		FailureThreshold: cfg.BreakerThreshold,
		Cooldown:         time.Duration(cfg.BreakerCooldownSecs) * time.Second,
	})), nil
}

type guarded struct {
	next    Completer
	breaker *resilience.Breaker
}

// WithBreaker routes calls through b. An open circuit fails fast with a
// transient error.
func WithBreaker(c Completer, b *resilience.Breaker) Completer {
	return &guarded{next: c, breaker: b}
}

func (g *guarded) Complete(ctx context.Context, req Request) (string, error) {
	return resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (string, error) {
		return g.next.Complete(ctx, req)
	})
}

func (g *guarded) Name() string { return g.next.Name() }
