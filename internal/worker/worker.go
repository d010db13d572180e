// Package worker provides async lifecycle event processing for multi-node
// deployments.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Worker subscribes to lifecycle topics and keeps the local active-version
// cache coherent: activation and demotion events published by other nodes
// invalidate the ruleset's cached snapshot here.
type Worker struct {
	bus    domain.EventBus
	cache  domain.Cache
	logger *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new cache-coherence worker.
func NewWorker(bus domain.EventBus, cache domain.Cache, logger *slog.Logger) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:    bus,
		cache:  cache,
		logger: logger.With("component", "worker"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the activation and demotion topics.
func (w *Worker) Start() error {
	for _, topic := range []string{
		domain.TopicRulesetVersionActivated,
		domain.TopicRulesetVersionDemoted,
	} {
		sub, err := w.bus.Subscribe(w.ctx, topic, w.handleLifecycleEvent)
		if err != nil {
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("worker started", "subscriptions", len(w.subscriptions))
	return nil
}

// handleLifecycleEvent invalidates the cached active-version snapshot for the
// ruleset named in the event.
func (w *Worker) handleLifecycleEvent(ctx context.Context, msg *domain.Message) error {
	var event domain.LifecycleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		w.logger.ErrorContext(ctx, "failed to parse lifecycle event",
			"message_id", msg.ID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}
	if event.RulesetID == "" {
		return nil
	}

	if err := w.cache.Delete(ctx, domain.ActiveVersionCacheKey(event.RulesetID)); err != nil {
		w.logger.ErrorContext(ctx, "failed to invalidate active-version cache",
			"ruleset_id", event.RulesetID,
			"topic", msg.Topic,
			"error", err,
		)
		return err
	}

	w.logger.DebugContext(ctx, "active-version cache invalidated",
		"ruleset_id", event.RulesetID,
		"topic", msg.Topic,
		"actor", event.Actor,
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
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
