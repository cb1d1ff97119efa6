package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// SaleEventConsumer reads sale-committed events off the broker. Used instead
// of the HTTP collaborator endpoint when KAFKA_BROKERS is set.
type SaleEventConsumer struct {
	reader  *kafka.Reader
	useCase *InsightUseCase
}

func NewSaleEventConsumer(brokers []string, topic, groupID string, useCase *InsightUseCase) *SaleEventConsumer {
	return &SaleEventConsumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
		}),
		useCase: useCase,
	}
}

// Run consumes until the context is cancelled. Malformed messages are
// committed and skipped; evaluation failures leave the message uncommitted so
// it is retried after the next rebalance.
func (c *SaleEventConsumer) Run(ctx context.Context) {
	log.Printf("📣 Consuming sale events from topic %q", c.reader.Config().Topic)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				return
			}
			log.Printf("❌ Fetching sale event: %v", err)
			time.Sleep(time.Second)
			continue
		}

		var event SaleCommittedEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			log.Printf("⚠️ Skipping malformed sale event at offset %d: %v", msg.Offset, err)
			c.commit(ctx, msg)
			continue
		}

		if err := c.useCase.EvaluateSaleCommitted(ctx, event); err != nil {
			log.Printf("❌ Evaluating sale event %s: %v", event.EventID, err)
			continue
		}
		c.commit(ctx, msg)
	}
}

func (c *SaleEventConsumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Printf("⚠️ Committing offset %d: %v", msg.Offset, err)
	}
}

// Close shuts the reader down and leaves the consumer group.
func (c *SaleEventConsumer) Close() error {
	return c.reader.Close()
}
