// Package eventbus carries blocks between processes over watermill.
//
// A publisher writes one JSON-encoded chain.Block per message. A Source
// subscribes to the topic and applies each block through a chain.Host, which
// drives the ingestion pipeline. Messages are acked only after the block has
// been fully applied; the first failure nacks the message and stops the
// Source, since ingestion cannot continue past a failed block.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/abitmore/steem/internal/chain"
)

// MetadataBlock is the message metadata key holding the block number.
const MetadataBlock = "block"

// Source feeds blocks from a subscriber into a host.
type Source struct {
	Subscriber message.Subscriber
	Topic      string
	Host       *chain.Host
	Logger     *slog.Logger
}

// Run consumes messages until ctx is cancelled, the subscription closes, or a
// block fails. Redelivered blocks at or below the host's head are acked and
// skipped.
func (s *Source) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	msgs, err := s.Subscriber.Subscribe(ctx, s.Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.Topic, err)
	}
	logger.Info("block source started", "topic", s.Topic)

	for {
		select {
		case <-ctx.Done():
			logger.Info("block source stopping: context cancelled")
			return ctx.Err()

		case msg, ok := <-msgs:
			if !ok {
				logger.Info("block source stopping: subscription closed")
				return nil
			}

			var b chain.Block
			if err := json.Unmarshal(msg.Payload, &b); err != nil {
				msg.Nack()
				return fmt.Errorf("decode block message %s: %w", msg.UUID, err)
			}

			if b.Num <= s.Host.Head() {
				logger.Warn("skipping redelivered block",
					"block", b.Num,
					"head", s.Host.Head(),
					"message", msg.UUID)
				msg.Ack()
				continue
			}

			if err := s.Host.Apply(ctx, b); err != nil {
				msg.Nack()
				return fmt.Errorf("apply block %d: %w", b.Num, err)
			}
			msg.Ack()
		}
	}
}

// NewBlockMessage encodes b as a watermill message.
func NewBlockMessage(b chain.Block) (*message.Message, error) {
	payload, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode block %d: %w", b.Num, err)
	}
	msg := message.NewMessage(uuid.NewString(), payload)
	msg.Metadata.Set(MetadataBlock, strconv.FormatUint(uint64(b.Num), 10))
	return msg, nil
}

// PublishBlocks publishes blocks to topic in order, one message each.
func PublishBlocks(pub message.Publisher, topic string, blocks []chain.Block) error {
	for _, b := range blocks {
		msg, err := NewBlockMessage(b)
		if err != nil {
			return err
		}
		if err := pub.Publish(topic, msg); err != nil {
			return fmt.Errorf("publish block %d: %w", b.Num, err)
		}
	}
	return nil
}
