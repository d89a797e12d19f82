// Package events delivers outbox events to downstream consumers such as
// relays and indexers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/go-redis/redis/v8"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/pkg/errors"
	"github.com/rail-service/rail_bridge/pkg/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Publisher delivers one event. Delivery is at-least-once, so consumers
// deduplicate on the event id.
type Publisher interface {
	Publish(ctx context.Context, event *entities.OutboxEvent) error
}

// Envelope is the wire form of a published event.
type Envelope struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	ChainID   uint64          `json:"chain_id"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEnvelope wraps event for the wire.
func NewEnvelope(event *entities.OutboxEvent) Envelope {
	return Envelope{
		ID:        event.ID.String(),
		Type:      string(event.Type),
		Key:       event.Key,
		ChainID:   event.ChainID,
		Payload:   json.RawMessage(event.Payload),
		CreatedAt: event.CreatedAt,
	}
}

// LogPublisher writes events to the structured log. It is the default for
// single-node setups where a relay tails the logs.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, event *entities.OutboxEvent) error {
	p.logger.Info("Bridge event",
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.String("key", event.Key),
		zap.Uint64("chain_id", event.ChainID),
		zap.ByteString("payload", event.Payload))
	return nil
}

// RedisPublisher publishes on the pub/sub channel <prefix>.<event type>.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel an event type is published on.
func (p *RedisPublisher) Channel(eventType entities.EventType) string {
	return p.prefix + "." + string(eventType)
}

func (p *RedisPublisher) Publish(ctx context.Context, event *entities.OutboxEvent) error {
	data, err := marshalEnvelope(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(event.Type), data).Err(); err != nil {
		return apperrors.Transient(fmt.Errorf("redis publish: %w", err))
	}
	return nil
}

// SNSAPI is the subset of the SNS client used for publishing.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to an SNS topic with the event type as a message
// attribute, so subscribers can filter.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
	logger   *zap.Logger
}

// NewSNSPublisher loads the default AWS configuration for region.
func NewSNSPublisher(ctx context.Context, region, topicARN string, logger *zap.Logger) (*SNSPublisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSNSPublisherWithClient(sns.NewFromConfig(awsCfg), topicARN, logger), nil
}

func NewSNSPublisherWithClient(client SNSAPI, topicARN string, logger *zap.Logger) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN, logger: logger}
}

func (p *SNSPublisher) Publish(ctx context.Context, event *entities.OutboxEvent) error {
	data, err := marshalEnvelope(event)
	if err != nil {
		return err
	}

	out, err := p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(string(data)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(string(event.Type))},
			"chain_id":   {DataType: aws.String("Number"), StringValue: aws.String(metrics.ChainLabel(event.ChainID))},
		},
	})
	if err != nil {
		p.logger.Error("Failed to publish event via SNS",
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
		return apperrors.Transient(fmt.Errorf("SNS publish failed: %w", err))
	}

	p.logger.Debug("Event published to SNS",
		zap.String("event_id", event.ID.String()),
		zap.String("message_id", aws.ToString(out.MessageId)))
	return nil
}

// BreakerPublisher stops calling a failing downstream for a while instead of
// hammering it on every poll.
type BreakerPublisher struct {
	next Publisher
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerPublisher(name string, next Publisher, logger *zap.Logger) *BreakerPublisher {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Publisher circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
	return &BreakerPublisher{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (p *BreakerPublisher) Publish(ctx context.Context, event *entities.OutboxEvent) error {
	_, err := p.cb.Execute(func() (interface{}, error) {
		return nil, p.next.Publish(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("publisher unavailable: %w", err)
	}
	return err
}

func marshalEnvelope(event *entities.OutboxEvent) ([]byte, error) {
	data, err := json.Marshal(NewEnvelope(event))
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", event.ID, err)
	}
	return data, nil
}
