package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	contentplan "github.com/referkit/referkit/internal/contentplan/domain"
	"github.com/referkit/referkit/internal/platform/messagebroker"
)

// Consumer pulls delivery jobs off the broker and feeds them to the
// dispatcher through a bounded worker pool. All dispatcher instances
// share one queue group, so each job lands on exactly one of them.
type Consumer struct {
	dispatcher *Dispatcher
	broker     *messagebroker.NATSClient
	logger     *slog.Logger
	config     Config

	sub     *nats.Subscription
	workers chan struct{}
	wg      sync.WaitGroup
}

// NewConsumer creates a Consumer instance.
func NewConsumer(dispatcher *Dispatcher, broker *messagebroker.NATSClient, logger *slog.Logger, cfg Config) *Consumer {
	return &Consumer{
		dispatcher: dispatcher,
		broker:     broker,
		logger:     logger,
		config:     cfg,
		workers:    make(chan struct{}, cfg.Workers),
	}
}

// Start subscribes to the delivery job subject. Handlers run on the
// worker pool; ctx bounds the lifetime of every in-flight job.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Starting delivery job consumer",
		"subject", contentplan.DeliveryJobSubject,
		"queue_group", c.config.QueueGroup,
		"workers", c.config.Workers)

	sub, err := c.broker.SubscribeQueue(contentplan.DeliveryJobSubject, c.config.QueueGroup, func(msg *nats.Msg) {
		c.handle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to delivery jobs: %w", err)
	}
	c.sub = sub
	return nil
}

func (c *Consumer) handle(ctx context.Context, msg *nats.Msg) {
	jobsReceivedCounter.WithLabelValues(msg.Subject).Inc()

	var job contentplan.DeliveryJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		c.logger.ErrorContext(ctx, "Failed to unmarshal delivery job, dropping", "error", err, "data", string(msg.Data))
		return
	}

	select {
	case c.workers <- struct{}{}:
	case <-ctx.Done():
		// Shutting down; the scheduler re-offers the outcome later.
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.workers }()

		if err := c.dispatcher.Deliver(ctx, job); err != nil {
			c.logger.ErrorContext(ctx, "Failed to process delivery job",
				"job_id", job.JobID, "entry_id", job.EntryID, "recipient_id", job.RecipientID, "error", err)
		}
	}()
}

// Stop unsubscribes and waits for in-flight jobs to settle.
func (c *Consumer) Stop() {
	if c.sub != nil && c.sub.IsValid() {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Error("Failed to unsubscribe from delivery jobs", "error", err)
		}
	}
	c.wg.Wait()
}
