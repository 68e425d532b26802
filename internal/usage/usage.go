// Package usage accounts for LLM token consumption and cost. An Accumulator
// is scoped to a single orchestration run and is never shared across runs;
// monthly totals live in the store and are read before a run starts.
package usage

import (
	"sync"
)

// TokenCounts holds prompt/completion sums and the computed cost.
type TokenCounts struct {
	Prompt     int64   `json:"prompt"`
	Completion int64   `json:"completion"`
	Total      int64   `json:"total"`
	CostUSD    float64 `json:"cost_usd"`
}

func (tc *TokenCounts) add(prompt, completion int, cost float64) {
	tc.Prompt += int64(prompt)
	tc.Completion += int64(completion)
	tc.Total += int64(prompt + completion)
	tc.CostUSD += cost
}

// ModelPrice is USD per one million tokens.
type ModelPrice struct {
	PromptPerMTok     float64 `yaml:"prompt_per_mtok" json:"prompt_per_mtok"`
	CompletionPerMTok float64 `yaml:"completion_per_mtok" json:"completion_per_mtok"`
}

// PriceTable maps model name to its price. Unknown models fall back to the
// "default" entry when present, else cost zero.
type PriceTable map[string]ModelPrice

// DefaultPrices returns the built-in price table.
func DefaultPrices() PriceTable {
	return PriceTable{
		"gemini-2.5-flash":         {PromptPerMTok: 0.30, CompletionPerMTok: 2.50},
		"gemini-2.5-pro":           {PromptPerMTok: 1.25, CompletionPerMTok: 10.00},
		"claude-sonnet-4-20250514": {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
		"default":                  {PromptPerMTok: 3.00, CompletionPerMTok: 15.00},
	}
}

// Cost computes the price of one call.
func (p PriceTable) Cost(model string, prompt, completion int) float64 {
	price, ok := p[model]
	if !ok {
		price, ok = p["default"]
		if !ok {
			return 0
		}
	}
	return float64(prompt)/1e6*price.PromptPerMTok + float64(completion)/1e6*price.CompletionPerMTok
}

// Summary is the immutable usage report attached to a run log.
type Summary struct {
	Total   TokenCounts            `json:"total"`
	ByModel map[string]TokenCounts `json:"by_model"`
}

// Accumulator tallies usage across the calls of one run.
type Accumulator struct {
	mu      sync.Mutex
	prices  PriceTable
	total   TokenCounts
	byModel map[string]TokenCounts
}

// NewAccumulator builds a per-run accumulator over the given price table.
func NewAccumulator(prices PriceTable) *Accumulator {
	if prices == nil {
		prices = DefaultPrices()
	}
	return &Accumulator{
		prices:  prices,
		byModel: make(map[string]TokenCounts),
	}
}

// Record tallies one successful call and returns its computed cost.
func (a *Accumulator) Record(model string, prompt, completion int) float64 {
	cost := a.prices.Cost(model, prompt, completion)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.total.add(prompt, completion, cost)
	entry := a.byModel[model]
	entry.add(prompt, completion, cost)
	a.byModel[model] = entry
	return cost
}

// CostSoFar reports the run's accumulated cost.
func (a *Accumulator) CostSoFar() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total.CostUSD
}

// Summary returns a copy of the accumulated totals.
func (a *Accumulator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	byModel := make(map[string]TokenCounts, len(a.byModel))
	for model, counts := range a.byModel {
		byModel[model] = counts
	}
	return Summary{Total: a.total, ByModel: byModel}
}
