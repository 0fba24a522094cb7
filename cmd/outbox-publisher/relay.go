package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db/models"
	"github.com/angelmondragon/evrent-backend/pkg/enums"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error) error
}

type dlqWriter interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// publisher is the slice of a Pub/Sub topic publisher the relay needs.
// Resume unblocks an ordering key after a failed publish.
type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	Resume(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the relay. Publishers defaults to the Pub/Sub client.
type RelayParams struct {
	Config     config.OutboxConfig
	Logger     *logger.Logger
	DB         txRunner
	Broker     interface{ Ping(context.Context) error }
	Repository outboxRepository
	DLQ        dlqWriter
	Registry   resolver
	Publishers func(topic string) publisher
	Metrics    *metrics.FlowMetrics
}

// Relay moves committed outbox rows onto Pub/Sub. Rows that can never be
// delivered are copied to the dead letter table and marked terminal.
type Relay struct {
	logg       *logger.Logger
	db         txRunner
	broker     interface{ Ping(context.Context) error }
	repo       outboxRepository
	dlq        dlqWriter
	registry   resolver
	publishers func(topic string) publisher
	metrics    *metrics.FlowMetrics

	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publishers == nil:
		return nil, errors.New("publisher source is required")
	}

	r := &Relay{
		logg:           params.Logger,
		db:             params.DB,
		broker:         params.Broker,
		repo:           params.Repository,
		dlq:            params.DLQ,
		registry:       params.Registry,
		publishers:     params.Publishers,
		metrics:        params.Metrics,
		batchSize:      params.Config.BatchSize,
		maxAttempts:    params.Config.MaxAttempts,
		pollInterval:   time.Duration(params.Config.PollIntervalMS) * time.Millisecond,
		publishTimeout: params.Config.PublishTimeout,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = defaultPublishTimeout
	}
	return r, nil
}

// Run drains the outbox until ctx is canceled. A full batch is followed
// immediately by another; a failed batch backs off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ready(ctx); err != nil {
		return err
	}

	retry := newRetryBackoff(r.pollInterval)
	for {
		n, err := r.drain(ctx)
		wait := r.pollInterval
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logg.Error(ctx, "outbox relay batch failed", err)
			wait = retry.NextBackOff()
		case n >= r.batchSize:
			retry.Reset()
			wait = 0
		default:
			retry.Reset()
		}
		if err := sleep(ctx, wait); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}
	}
}

func (r *Relay) ready(ctx context.Context) error {
	checks := []struct {
		name string
		ping func(context.Context) error
	}{
		{"database", r.db.Ping},
	}
	if r.broker != nil {
		checks = append(checks, struct {
			name string
			ping func(context.Context) error
		}{"pubsub", r.broker.Ping})
	}
	for _, c := range checks {
		if err := c.ping(ctx); err != nil {
			r.logg.Error(r.logg.WithField(ctx, "dependency", c.name), "readiness check failed", err)
			return fmt.Errorf("%s ping failed: %w", c.name, err)
		}
	}
	return nil
}

// newRetryBackoff grows the wait between failed batches from base up to maxBackoff, with jitter.
func newRetryBackoff(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = maxBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// drain claims one batch under a row lock and settles every row in the same
// transaction. It returns how many rows were claimed.
func (r *Relay) drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox batch: %w", err)
		}
		claimed = len(events)
		for _, event := range events {
			if err := r.settle(ctx, tx, event, r.deliver(ctx, event)); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

type outcome int

const (
	outcomePublished outcome = iota
	outcomeRetry
	outcomeDeadLetter
)

func (o outcome) String() string {
	switch o {
	case outcomePublished:
		return "published"
	case outcomeRetry:
		return "retry"
	default:
		return "dead_lettered"
	}
}

type delivery struct {
	outcome  outcome
	topic    string
	envelope outbox.PayloadEnvelope
	reason   enums.OutboxDLQReason
	err      error
}

func (r *Relay) deliver(ctx context.Context, event models.OutboxEvent) delivery {
	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return delivery{outcome: outcomeDeadLetter, reason: enums.OutboxDLQReasonUnroutable, err: err}
	}

	d := delivery{topic: resolved.Descriptor.Topic, envelope: resolved.Envelope}
	err = r.publish(ctx, d.topic, event, resolved.Envelope)

	var permanent registry.NonRetryableError
	switch {
	case err == nil:
		d.outcome = outcomePublished
	case errors.As(err, &permanent):
		d.outcome, d.reason, d.err = outcomeDeadLetter, enums.OutboxDLQReasonNonRetryable, err
	case event.AttemptCount+1 >= r.maxAttempts:
		d.outcome, d.reason = outcomeDeadLetter, enums.OutboxDLQReasonMaxAttempts
		d.err = fmt.Errorf("max publish attempts reached: %w", err)
	default:
		d.outcome, d.err = outcomeRetry, err
	}
	return d
}

func (r *Relay) publish(ctx context.Context, topic string, event models.OutboxEvent, envelope outbox.PayloadEnvelope) error {
	pub := r.publishers(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
	}

	msg := newMessage(event, envelope)
	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()

	result := pub.Publish(publishCtx, msg)
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher for topic %s returned no result", topic))
	}
	if _, err := result.Get(publishCtx); err != nil {
		pub.Resume(msg.OrderingKey)
		return err
	}
	return nil
}

// newMessage carries the stored envelope verbatim. Consumers dedupe on the
// event_id attribute and Pub/Sub orders by aggregate.
func newMessage(event models.OutboxEvent, envelope outbox.PayloadEnvelope) *gcppubsub.Message {
	eventID := envelope.EventID
	if eventID == "" {
		eventID = event.ID.String()
	}
	occurredAt := envelope.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = event.CreatedAt
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		OrderingKey: event.AggregateID.String(),
		Attributes: map[string]string{
			"event_id":       eventID,
			"event_type":     string(event.EventType),
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID.String(),
			"occurred_at":    occurredAt.UTC().Format(time.RFC3339Nano),
			"schema_version": fmt.Sprint(envelope.Version),
		},
	}
}

func (r *Relay) settle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, d delivery) error {
	ctx = r.logg.WithFields(ctx, r.fields(event, d))
	r.metrics.ObserveOutboxPublish(string(event.EventType), d.outcome.String())

	switch d.outcome {
	case outcomePublished:
		if err := r.repo.MarkPublishedTx(tx, event.ID); err != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, err)
		}
		r.logg.Info(ctx, "outbox event published")
	case outcomeRetry:
		r.logg.Warn(r.logg.WithField(ctx, "error", d.err.Error()), "outbox publish failed, will retry")
		if err := r.repo.MarkFailedTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
	case outcomeDeadLetter:
		r.logg.Warn(r.logg.WithField(ctx, "error", d.err.Error()), "outbox event dead lettered")
		message := d.err.Error()
		entry := models.OutboxDLQ{
			EventID:       event.ID,
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			AggregateID:   event.AggregateID,
			Payload:       event.Payload,
			ErrorReason:   d.reason,
			ErrorMessage:  &message,
			AttemptCount:  event.AttemptCount + 1,
			FailedAt:      time.Now().UTC(),
		}
		if err := r.dlq.InsertTx(tx, entry); err != nil {
			return fmt.Errorf("insert dlq %s: %w", event.ID, err)
		}
		if err := r.repo.MarkTerminalTx(tx, event.ID, d.err); err != nil {
			return fmt.Errorf("mark terminal %s: %w", event.ID, err)
		}
	}
	return nil
}

func (r *Relay) fields(event models.OutboxEvent, d delivery) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount + 1,
		"outcome":        d.outcome.String(),
	}
	if d.topic != "" {
		fields["topic"] = d.topic
	}
	if d.envelope.EventID != "" {
		fields["event_id"] = d.envelope.EventID
	}
	if d.reason != "" {
		fields["error_reason"] = d.reason
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
