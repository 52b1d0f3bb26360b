// Package worker provides async batch scoring for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
)

// Worker rescores tenants asynchronously from the EventBus. Every ingest
// notification triggers a full batch run over the tenant's stored events,
// so population stats always reflect the complete ledger.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	cache    domain.Cache
	pipeline *pipeline.Pipeline

	alertThreshold int
	scoreTTL       time.Duration

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process.
	TenantIDs []string

	// AlertThreshold is the score below which a risk alert is published.
	AlertThreshold int

	// ScoreTTL is how long computed scores stay cached.
	ScoreTTL time.Duration
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, cache domain.Cache, p *pipeline.Pipeline) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:            bus,
		repo:           repo,
		cache:          cache,
		pipeline:       p,
		alertThreshold: 20,
		scoreTTL:       15 * time.Minute,
		ctx:            ctx,
		cancel:         cancel,
	}
}

// Start begins processing ingest notifications for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if cfg.AlertThreshold > 0 {
		w.alertThreshold = cfg.AlertThreshold
	}
	if cfg.ScoreTTL > 0 {
		w.scoreTTL = cfg.ScoreTTL
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startTenantWorker subscribes a tenant to the ingest topic.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicEventsIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.scoreBatch(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicEventsIngested,
	)

	return nil
}

// IngestMessage is the payload published when events are ingested.
type IngestMessage struct {
	TenantID   string `json:"tenantId"`
	EventCount int    `json:"eventCount"`
	TraceID    string `json:"traceId,omitempty"`
}

// BatchScoredMessage is published after a batch run completes.
type BatchScoredMessage struct {
	TenantID string `json:"tenantId"`
	Accounts int    `json:"accounts"`
	Scored   int    `json:"scored"`
	TraceID  string `json:"traceId,omitempty"`
}

// RiskAlertMessage is published for each account scoring below the threshold.
type RiskAlertMessage struct {
	TenantID string `json:"tenantId"`
	Account  string `json:"account"`
	Score    int    `json:"score"`
	TraceID  string `json:"traceId,omitempty"`
}

// scoreBatch reloads the tenant's ledger and runs the full scoring batch.
func (w *Worker) scoreBatch(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var ingest IngestMessage
	if err := json.Unmarshal(msg.Payload, &ingest); err != nil {
		slog.Error("failed to parse ingest message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if ingest.TenantID != "" {
		tenantID = ingest.TenantID
	}

	traceID := ingest.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("scoring batch",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"event_count", ingest.EventCount,
	)

	// Population stats need the whole ledger, not just the new events.
	events, err := w.repo.ListEvents(ctx, tenantID, time.Time{})
	if err != nil {
		slog.Error("failed to load events",
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	results := w.pipeline.Run(ctx, events)

	for account, result := range results {
		if err := w.repo.SaveScoreResult(ctx, tenantID, result); err != nil {
			slog.Error("failed to save score result",
				"tenant_id", tenantID,
				"account", account,
				"error", err,
			)
		}
		if w.cache != nil {
			if err := w.cache.SetScore(ctx, tenantID, account, result, w.scoreTTL); err != nil {
				slog.Warn("failed to cache score",
					"account", account,
					"error", err,
				)
			}
		}
	}

	// Announce batch completion.
	scoredPayload, _ := json.Marshal(BatchScoredMessage{
		TenantID: tenantID,
		Accounts: len(results),
		Scored:   len(results),
		TraceID:  traceID,
	})
	if err := w.bus.Publish(ctx, tenantID, domain.TopicBatchScored, scoredPayload); err != nil {
		slog.Error("failed to publish batch scored",
			"tenant_id", tenantID,
			"error", err,
		)
	}

	// Publish risk alerts for accounts below the threshold.
	for account, result := range results {
		if result.Score >= w.alertThreshold {
			continue
		}
		alertPayload, _ := json.Marshal(RiskAlertMessage{
			TenantID: tenantID,
			Account:  account,
			Score:    result.Score,
			TraceID:  traceID,
		})
		if err := w.bus.Publish(ctx, tenantID, domain.TopicRiskAlert, alertPayload); err != nil {
			slog.Error("failed to publish risk alert",
				"tenant_id", tenantID,
				"account", account,
				"error", err,
			)
		}
	}

	slog.Info("batch scored",
		"tenant_id", tenantID,
		"events", len(events),
		"scored", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
