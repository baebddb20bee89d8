package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// OrderEvent is published on every order status change.
type OrderEvent struct {
	OrderID  string      `json:"order_id"`
	Status   OrderStatus `json:"status"`
	Error    ErrorCode   `json:"error,omitempty"`
	Message  string      `json:"message"`
	Attempts int         `json:"attempts"`
	At       time.Time   `json:"at"`
}

func newOrderEvent(o *Order) OrderEvent {
	return OrderEvent{
		OrderID:  o.ID,
		Status:   o.Status,
		Error:    o.Error,
		Message:  o.Message,
		Attempts: o.Attempts,
		At:       o.UpdatedAt,
	}
}

type EventPublisher interface {
	Publish(ctx context.Context, ev OrderEvent) error
	Close()
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, OrderEvent) error { return nil }
func (nopPublisher) Close()                                    {}

// NewEventPublisher returns a Kafka publisher when brokers are configured and
// a no-op one otherwise.
func NewEventPublisher(cfg KafkaConfig, log *zap.Logger) (EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg, log)
}

type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	log    *zap.Logger
}

func NewKafkaPublisher(cfg KafkaConfig, log *zap.Logger) (*KafkaPublisher, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.ProduceRequestTimeout(10 * time.Second),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ClientID(cfg.ClientID),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	log.Info("Publishing order events", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.Topic))
	return &KafkaPublisher{client: client, topic: cfg.Topic, log: log.Named("events")}, nil
}

// Publish writes ev synchronously, keyed by order id so one order's events
// stay in order on a single partition.
func (p *KafkaPublisher) Publish(ctx context.Context, ev OrderEvent) error {
	record, err := orderRecord(ctx, ev)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("failed to publish order event: %w", err)
	}
	p.log.Debug("Order event published", zap.String("order_id", ev.OrderID), zap.String("status", string(ev.Status)))
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func orderRecord(ctx context.Context, ev OrderEvent) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to encode order event: %w", err)
	}
	return &kgo.Record{
		Key:     []byte(ev.OrderID),
		Value:   value,
		Headers: traceHeaders(ctx),
	}, nil
}

func traceHeaders(ctx context.Context) []kgo.RecordHeader {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	headers := make([]kgo.RecordHeader, 0, len(carrier))
	for _, k := range carrier.Keys() {
		headers = append(headers, kgo.RecordHeader{Key: k, Value: []byte(carrier.Get(k))})
	}
	return headers
}
