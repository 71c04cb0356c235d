package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/siteaudit/internal/progress"
)

// Publisher delivers one payload to a broker; the kind names the payload type.
type Publisher interface {
	Publish(ctx context.Context, kind string, payload any) (string, error)
}

// PublishSink forwards every event to a Publisher as a JSON payload.
type PublishSink struct {
	publisher Publisher
	closer    func() error
	logger    *zap.Logger
}

// NewPublishSink wraps publisher. When publisher also has a Close() error
// method it is called from Close.
func NewPublishSink(publisher Publisher, logger *zap.Logger) *PublishSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	sink := &PublishSink{publisher: publisher, logger: logger}
	if c, ok := publisher.(interface{ Close() error }); ok {
		sink.closer = c.Close
	}
	return sink
}

// Consume publishes the batch in order and stops at the first failure.
func (s *PublishSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		id, err := s.publisher.Publish(ctx, string(evt.Type), evt)
		if err != nil {
			return fmt.Errorf("publish %s: %w", evt.Type, err)
		}
		s.logger.Debug("event published", zap.String("type", string(evt.Type)), zap.String("message_id", id))
	}
	return nil
}

// Close releases the publisher when it owns resources.
func (s *PublishSink) Close(context.Context) error {
	if s == nil || s.closer == nil {
		return nil
	}
	return s.closer()
}
