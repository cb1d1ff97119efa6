package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventKindSaleCommitted is the only event the core emits.
const EventKindSaleCommitted = "sale-committed"

// SaleCommittedEvent is the fire-and-forget notification sent to the insight
// collaborator after a checkout commits. The collaborator owns threshold
// evaluation and alert deduplication; the core only promises the event is
// emitted after, and never inside, the committed transaction.
type SaleCommittedEvent struct {
	EventID    uuid.UUID   `json:"event_id"`
	EventKind  string      `json:"event_kind"`
	TenantID   uuid.UUID   `json:"tenant_id"`
	SaleID     uuid.UUID   `json:"sale_id"`
	ProductIDs []uuid.UUID `json:"product_ids"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// NewSaleCommittedEvent builds the event for one committed sale.
func NewSaleCommittedEvent(tenantID, saleID uuid.UUID, productIDs []uuid.UUID) SaleCommittedEvent {
	return SaleCommittedEvent{
		EventID:    uuid.New(),
		EventKind:  EventKindSaleCommitted,
		TenantID:   tenantID,
		SaleID:     saleID,
		ProductIDs: productIDs,
		OccurredAt: time.Now().UTC(),
	}
}

// InsightNotifier delivers sale-committed events to the collaborator.
type InsightNotifier interface {
	SaleCommitted(ctx context.Context, event SaleCommittedEvent) error
}

// KafkaNotifier publishes events to the sale-events topic. Keyed by tenant so
// one tenant's events stay ordered on a single partition.
type KafkaNotifier struct {
	writer *kafka.Writer
}

// NewKafkaNotifier parses a comma-separated broker list. Returns nil when the
// list is empty so the caller can fall back to HTTP delivery.
func NewKafkaNotifier(brokersCSV, topic string) *KafkaNotifier {
	var brokers []string
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (n *KafkaNotifier) SaleCommitted(ctx context.Context, event SaleCommittedEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding sale-committed event: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.TenantID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("publishing sale-committed event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// HTTPNotifier posts events straight to the insights service. Used when no
// broker is configured.
type HTTPNotifier struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPNotifier creates an HTTPNotifier against the insights service URL.
func NewHTTPNotifier(baseURL string) *HTTPNotifier {
	return &HTTPNotifier{
		client:  resty.New().SetTimeout(5 * time.Second),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (n *HTTPNotifier) SaleCommitted(ctx context.Context, event SaleCommittedEvent) error {
	resp, err := n.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(event).
		Post(n.baseURL + "/api/events/sale-committed")
	if err != nil {
		return fmt.Errorf("posting sale-committed event: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("insight collaborator rejected event: status %d", resp.StatusCode())
	}
	return nil
}

// NopNotifier drops events. Used when no collaborator is configured and in
// tests.
type NopNotifier struct{}

func (NopNotifier) SaleCommitted(context.Context, SaleCommittedEvent) error { return nil }
