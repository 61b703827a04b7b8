package transport

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// MockSender is a simulated transport for development and testing.
type MockSender struct {
	logger       *slog.Logger
	name         string
	failRate     float64 // chance of a simulated retryable failure, 0.0 to 1.0
	minLatencyMs int
	maxLatencyMs int
}

// NewMockSender creates a MockSender. failRate controls how often a
// send fails with a retryable error.
func NewMockSender(logger *slog.Logger, failRate float64, minLatencyMs, maxLatencyMs int) *MockSender {
	return &MockSender{
		logger:       logger.With("transport", "mock"),
		name:         "mock",
		failRate:     failRate,
		minLatencyMs: minLatencyMs,
		maxLatencyMs: maxLatencyMs,
	}
}

func (s *MockSender) Name() string { return s.name }

func (s *MockSender) Send(ctx context.Context, msg Message) (*Receipt, error) {
	if s.maxLatencyMs > s.minLatencyMs {
		latency := s.minLatencyMs + rand.Intn(s.maxLatencyMs-s.minLatencyMs+1)
		select {
		case <-time.After(time.Duration(latency) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if rand.Float64() < s.failRate {
		s.logger.WarnContext(ctx, "MockSender: simulated failure", "recipient", msg.RecipientAddress)
		return nil, NewRetryableError("simulated failure for recipient %s", msg.RecipientAddress)
	}

	receipt := &Receipt{ProviderMessageID: uuid.NewString()}
	s.logger.InfoContext(ctx, "MockSender: message sent (simulated)",
		"recipient", msg.RecipientAddress,
		"text_len", len(msg.Text),
		"media_count", len(msg.MediaRefs),
		"provider_message_id", receipt.ProviderMessageID)
	return receipt, nil
}

var _ Sender = (*MockSender)(nil)
