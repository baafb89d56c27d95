package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db/models"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/outbox"
	"github.com/angelmondragon/otcsettle/pkg/outbox/payloads"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var errUnroutable = errors.New("audit topic has no publisher")

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id string) error
	MarkFailedTx(tx *gorm.DB, id string, err error) error
	ParkTx(tx *gorm.DB, id string, reason enums.OutboxParkReason, attempts int, err error) error
	CountParked(ctx context.Context) (map[enums.OutboxParkReason]int64, error)
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*outbox.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
}

// Service drains audit events from outbox_events to the audit topic. Rows
// that cannot be delivered are parked with a reason instead of retried
// forever.
type Service struct {
	logg             *logger.Logger
	db               dbClient
	repo             outboxRepository
	pubsub           pubSubClient
	registry         registryResolver
	publisherFactory publisherFactory
	batchSize        int
	maxAttempts      int
	pollInterval     time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	factory := params.PublisherFactory
	if factory == nil {
		factory = cachedPublishers(params.PubSub)
	}

	cfg := params.Config.Outbox
	return &Service{
		logg:             params.Logger,
		db:               params.DB,
		repo:             params.Repository,
		pubsub:           params.PubSub,
		registry:         params.Registry,
		publisherFactory: factory,
		batchSize:        orDefault(cfg.BatchSize, defaultBatchSize),
		maxAttempts:      orDefault(cfg.MaxAttempts, defaultMaxAttempts),
		pollInterval:     time.Duration(orDefault(cfg.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}, nil
}

// cachedPublishers keeps one publisher per topic; each batches in background
// goroutines.
func cachedPublishers(client pubSubClient) publisherFactory {
	cache := map[string]publisher{}
	return func(topic string) publisher {
		if cached, ok := cache[topic]; ok {
			return cached
		}
		p := client.Publisher(topic)
		if p == nil {
			return nil
		}
		cache[topic] = &gcpPublisher{Publisher: p}
		return cache[topic]
	}
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := s.pubsub.Ping(ctx); err != nil {
		s.logg.Error(ctx, "pubsub ping failed", err)
		return fmt.Errorf("pubsub ping failed: %w", err)
	}
	return nil
}

// reportParked logs the parked backlog so operators see audit events that
// never reached the sink. A failed count does not stop the publisher.
func (s *Service) reportParked(ctx context.Context) {
	counts, err := s.repo.CountParked(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "count parked audit events failed")
		return
	}
	var total int64
	fields := map[string]any{}
	for reason, n := range counts {
		fields["parked_"+string(reason)] = n
		total += n
	}
	if total == 0 {
		return
	}
	fields["parked_total"] = total
	s.logg.Warn(s.logg.WithFields(ctx, fields), "parked audit events awaiting inspection")
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}
	s.reportParked(ctx)

	backoff := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox publisher context canceled")
			return err
		}

		processed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox publisher batch error", err)
			backoff = nextBackoff(backoff, s.pollInterval, maxBackoff)
		case processed:
			backoff = s.pollInterval
			continue
		default:
			backoff = s.pollInterval
		}
		if err := s.sleep(ctx, withJitter(backoff)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		processed = len(events) > 0
		for _, event := range events {
			if err := s.deliver(ctx, tx, event); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// deliver publishes one audit event and records the outcome on its row. Only
// bookkeeping failures are returned; they roll back the batch.
func (s *Service) deliver(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	resolved, err := s.registry.Resolve(event)
	if err != nil {
		return s.park(ctx, tx, event, enums.ParkUndecodable, event.AttemptCount, err, s.eventFields(event, nil))
	}

	fields := s.eventFields(event, resolved)
	err = s.publish(ctx, event, resolved)
	if err == nil {
		if markErr := s.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
			return fmt.Errorf("mark published %s: %w", event.ID, markErr)
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "audit event published")
		return nil
	}

	attempts := event.AttemptCount + 1
	fields["attempt_count"] = attempts
	var nonRetry outbox.NonRetryableError
	switch {
	case errors.Is(err, errUnroutable):
		return s.park(ctx, tx, event, enums.ParkUnroutable, attempts, err, fields)
	case errors.As(err, &nonRetry):
		return s.park(ctx, tx, event, enums.ParkRejected, attempts, err, fields)
	case attempts >= s.maxAttempts:
		return s.park(ctx, tx, event, enums.ParkMaxAttempts, attempts, fmt.Errorf("max publish attempts reached: %w", err), fields)
	}

	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error()), "audit event publish failed")
	if markErr := s.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
		return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
	}
	return nil
}

// park keeps the row in outbox_events with its reason for later inspection.
func (s *Service) park(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxParkReason, attempts int, err error, fields map[string]any) error {
	fields["park_reason"] = string(reason)
	s.logg.Warn(s.logg.WithField(s.logg.WithFields(ctx, fields), "error", err.Error()), "audit event parked")

	if markErr := s.repo.ParkTx(tx, event.ID, reason, attempts, err); markErr != nil {
		return fmt.Errorf("park %s: %w", event.ID, markErr)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, event models.OutboxEvent, resolved *outbox.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFactory(topic)
	if pub == nil {
		return fmt.Errorf("%w: %s", errUnroutable, topic)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:       []byte(event.Payload),
		Attributes: auditAttributes(event, resolved),
	})
	if result == nil {
		return outbox.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

// auditAttributes lets sink subscribers filter on the audit record without
// decoding the payload.
func auditAttributes(event models.OutboxEvent, resolved *outbox.ResolvedEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID,
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	audit, ok := resolved.Payload.(*payloads.AuditRecordedEvent)
	if !ok || audit == nil {
		return attrs
	}
	set := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}
	set("actor_id", audit.ActorID)
	set("operation_kind", string(audit.OperationKind))
	set("target_type", string(audit.TargetType))
	set("target_id", audit.TargetID)
	set("result", string(audit.Result))
	if audit.ScopeID != nil {
		set("scope_id", *audit.ScopeID)
	}
	return attrs
}

func (s *Service) eventFields(event models.OutboxEvent, resolved *outbox.ResolvedEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	if resolved == nil {
		return fields
	}
	fields["topic"] = resolved.Descriptor.Topic
	if resolved.Envelope.EventID != "" {
		fields["event_id"] = resolved.Envelope.EventID
		fields["occurred_at"] = resolved.Envelope.OccurredAt.Format(time.RFC3339Nano)
	}
	if audit, ok := resolved.Payload.(*payloads.AuditRecordedEvent); ok && audit != nil {
		fields["operation_kind"] = audit.OperationKind
		fields["audit_result"] = audit.Result
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int64N(int64(jitterWindow)))
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
