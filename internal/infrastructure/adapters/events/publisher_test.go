package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rail-service/rail_bridge/internal/domain/entities"
	apperrors "github.com/rail-service/rail_bridge/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockSNS struct {
	mock.Mock
}

func (m *mockSNS) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

type failingPublisher struct {
	calls int
}

func (p *failingPublisher) Publish(context.Context, *entities.OutboxEvent) error {
	p.calls++
	return errors.New("downstream down")
}

func testEvent(t *testing.T) *entities.OutboxEvent {
	t.Helper()
	event, err := entities.NewOutboxEvent(entities.EventTransferCompleted, "0xabc", 2,
		map[string]string{"recipient": "0xbob"})
	require.NoError(t, err)
	return event
}

func TestSNSPublisher_Publish(t *testing.T) {
	client := new(mockSNS)
	event := testEvent(t)

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		var env Envelope
		if err := json.Unmarshal([]byte(aws.ToString(in.Message)), &env); err != nil {
			return false
		}
		attr := in.MessageAttributes["event_type"]
		return aws.ToString(in.TopicArn) == "arn:aws:sns:us-east-1:1:bridge" &&
			aws.ToString(attr.StringValue) == "TransferCompleted" &&
			env.ID == event.ID.String() &&
			env.ChainID == 2
	})).Return(&sns.PublishOutput{MessageId: aws.String("m-1")}, nil)

	p := NewSNSPublisherWithClient(client, "arn:aws:sns:us-east-1:1:bridge", zap.NewNop())
	require.NoError(t, p.Publish(context.Background(), event))
	client.AssertExpectations(t)
}

func TestSNSPublisher_ErrorIsRetryable(t *testing.T) {
	client := new(mockSNS)
	client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	p := NewSNSPublisherWithClient(client, "arn", zap.NewNop())
	err := p.Publish(context.Background(), testEvent(t))
	require.Error(t, err)
	assert.True(t, apperrors.ShouldRetry(err))
}

func TestLogPublisher(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	p := NewLogPublisher(zap.New(core))

	event := testEvent(t)
	require.NoError(t, p.Publish(context.Background(), event))

	entries := logs.FilterMessage("Bridge event").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "TransferCompleted", entries[0].ContextMap()["event_type"])
}

func TestRedisPublisher_Channel(t *testing.T) {
	p := NewRedisPublisher(nil, "rail_bridge")
	assert.Equal(t, "rail_bridge.TransferInitiated", p.Channel(entities.EventTransferInitiated))
}

func TestBreakerPublisher_OpensAfterFailures(t *testing.T) {
	next := &failingPublisher{}
	p := NewBreakerPublisher("test", next, zap.NewNop())
	event := testEvent(t)

	for i := 0; i < 6; i++ {
		assert.Error(t, p.Publish(context.Background(), event))
	}
	assert.Equal(t, 6, next.calls)

	err := p.Publish(context.Background(), event)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 6, next.calls)
}
