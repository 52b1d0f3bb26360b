// Package pipeline composes aggregation, feature derivation and scoring into
// a single batch run.
package pipeline

import (
	"context"
	"log/slog"
	"sync"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Pipeline runs the two-phase batch computation: collect every feature
// vector first, then score each against the finished population stats.
// Population stats form a hard barrier; no account is scored before every
// vector in the batch exists.
type Pipeline struct {
	engine     *features.Engine
	scorer     *scoring.Scorer
	flags      *rules.FlagEngine
	maxWorkers int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithFlagEngine attaches a flag rule engine whose matched flags are added
// to each score result.
func WithFlagEngine(engine *rules.FlagEngine) Option {
	return func(p *Pipeline) {
		p.flags = engine
	}
}

// WithMaxWorkers bounds the scoring fan-out.
func WithMaxWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxWorkers = n
		}
	}
}

// New creates a pipeline. A nil config falls back to the default model.
func New(cfg *domain.ScoringConfig, opts ...Option) *Pipeline {
	if cfg == nil {
		cfg = domain.DefaultScoringConfig()
	}

	p := &Pipeline{
		engine:     features.NewEngine(cfg),
		scorer:     scoring.New(cfg),
		maxWorkers: 8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Aggregate folds raw events into per-account summaries.
func (p *Pipeline) Aggregate(events []domain.Event) map[string]*domain.AccountSummary {
	return aggregate.Fold(events)
}

// Featureize derives feature vectors for every qualifying account.
func (p *Pipeline) Featureize(summaries map[string]*domain.AccountSummary) map[string]*domain.FeatureVector {
	return p.engine.DeriveAll(summaries)
}

// ComputeStats builds population stats over a vector batch.
func (p *Pipeline) ComputeStats(vectors map[string]*domain.FeatureVector) domain.PopulationStats {
	return features.ComputeStats(vectors)
}

// Score maps every vector to a score result against the given stats.
// Accounts are independent once stats are fixed, so scoring fans out across
// a bounded set of goroutines.
func (p *Pipeline) Score(ctx context.Context, vectors map[string]*domain.FeatureVector, stats domain.PopulationStats) map[string]*domain.ScoreResult {
	accounts := make([]string, 0, len(vectors))
	for account := range vectors {
		accounts = append(accounts, account)
	}

	scored := make([]*domain.ScoreResult, len(accounts))

	var wg sync.WaitGroup
	sem := make(chan struct{}, p.maxWorkers)

	for i, account := range accounts {
		wg.Add(1)
		go func(idx int, v *domain.FeatureVector) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			result := p.scorer.Score(v, stats)
			if p.flags != nil {
				result.Flags = p.flags.Evaluate(ctx, v)
			}
			scored[idx] = result
		}(i, vectors[account])
	}

	wg.Wait()

	results := make(map[string]*domain.ScoreResult, len(accounts))
	for _, result := range scored {
		results[result.Account] = result
	}
	return results
}

// Run executes the full batch: events in, score results out. An empty event
// sequence yields an empty result map, not an error.
func (p *Pipeline) Run(ctx context.Context, events []domain.Event) map[string]*domain.ScoreResult {
	summaries := p.Aggregate(events)
	vectors := p.Featureize(summaries)
	stats := p.ComputeStats(vectors)
	results := p.Score(ctx, vectors, stats)

	slog.Debug("pipeline run complete",
		"events", len(events),
		"accounts", len(summaries),
		"scored", len(results),
	)

	return results
}
