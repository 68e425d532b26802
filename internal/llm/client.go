// Package llm wraps chat-completion providers behind a JSON-in/JSON-out
// contract with retries, a monthly budget gate, and per-run usage accounting.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"intakeflow/internal/usage"
)

// ErrBudgetExceeded aborts a call before it is made when projected monthly
// spend would meet or exceed the configured ceiling.
var ErrBudgetExceeded = errors.New("monthly LLM budget exceeded")

// Usage reports token consumption of one provider call.
type Usage struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
}

// Client is a raw chat-completion backend. Implementations return the
// response body text (expected to contain JSON) plus token usage.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, Usage, error)
}

// Config tunes the provider wrapper.
type Config struct {
	// MonthlyCeilingUSD caps spend per calendar month. Zero disables the gate.
	MonthlyCeilingUSD float64
	// MaxRetries is the number of additional attempts after a failure.
	MaxRetries int
	// Prices is the per-model price table used for cost accounting.
	Prices usage.PriceTable
}

// DefaultConfig returns the wrapper defaults: two retries, no ceiling.
func DefaultConfig() Config {
	return Config{MaxRetries: 2, Prices: usage.DefaultPrices()}
}

// Provider is the budget- and retry-aware adapter handed to the AI task
// orchestrator. It is scoped to one run: the accumulator and the budget
// latch are never shared across concurrent runs.
type Provider struct {
	client       Client
	cfg          Config
	monthlySpend float64
	acc          *usage.Accumulator
	budgetHit    bool
	logger       *zap.Logger
}

// NewProvider builds a per-run provider. monthlySpend is the already-known
// spend for the current calendar month, read from the store before the run.
func NewProvider(client Client, monthlySpend float64, cfg Config, logger *zap.Logger) *Provider {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		client:       client,
		cfg:          cfg,
		monthlySpend: monthlySpend,
		acc:          usage.NewAccumulator(cfg.Prices),
		logger:       logger,
	}
}

// GenerateJSON runs one prompt and returns the JSON payload extracted from
// the completion. The budget gate runs once per attempt: once it trips, every
// later call in the same run fails fast without touching the backend.
func (p *Provider) GenerateJSON(ctx context.Context, promptID, systemPrompt, userPrompt string) (json.RawMessage, error) {
	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if err := p.checkBudget(); err != nil {
			return nil, err
		}

		text, u, err := p.client.Complete(ctx, systemPrompt, userPrompt)
		if err != nil {
			lastErr = err
			p.logger.Warn("llm call failed",
				zap.String("prompt_id", promptID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			continue
		}

		cost := p.acc.Record(u.Model, u.PromptTokens, u.CompletionTokens)
		p.logger.Debug("llm call succeeded",
			zap.String("prompt_id", promptID),
			zap.String("model", u.Model),
			zap.Int("prompt_tokens", u.PromptTokens),
			zap.Int("completion_tokens", u.CompletionTokens),
			zap.Float64("cost_usd", cost))

		raw := ExtractJSON(text)
		if raw == "" {
			lastErr = fmt.Errorf("no JSON found in completion for prompt %s", promptID)
			continue
		}
		return json.RawMessage(raw), nil
	}

	return nil, fmt.Errorf("prompt %s exhausted retries: %w", promptID, lastErr)
}

// checkBudget trips and latches when projected spend reaches the ceiling.
func (p *Provider) checkBudget() error {
	if p.budgetHit {
		return ErrBudgetExceeded
	}
	if p.cfg.MonthlyCeilingUSD <= 0 {
		return nil
	}
	projected := p.monthlySpend + p.acc.CostSoFar()
	if projected >= p.cfg.MonthlyCeilingUSD {
		p.budgetHit = true
		p.logger.Warn("llm budget ceiling reached",
			zap.Float64("projected_usd", projected),
			zap.Float64("ceiling_usd", p.cfg.MonthlyCeilingUSD))
		return ErrBudgetExceeded
	}
	return nil
}

// Usage returns the run's accumulated usage summary.
func (p *Provider) Usage() usage.Summary {
	return p.acc.Summary()
}

// RunCost reports the cost accumulated by this run so far.
func (p *Provider) RunCost() float64 {
	return p.acc.CostSoFar()
}
