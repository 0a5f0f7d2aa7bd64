// Package events publishes search analytics events to Kafka. Publishing is
// best effort: a broker outage degrades analytics, never searches.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/paper-search-service/internal/domain"
)

// EventTypeSearchCompleted is emitted after every assembled search response.
const EventTypeSearchCompleted = "search.completed"

// SearchEvent is the analytics payload for one federated search.
type SearchEvent struct {
	EventID      string                                    `json:"eventId"`
	EventType    string                                    `json:"eventType"`
	ClientID     string                                    `json:"clientId"`
	Query        string                                    `json:"query"`
	Filters      domain.SearchFilters                      `json:"filters"`
	Sort         domain.SortMode                           `json:"sort"`
	Page         int                                       `json:"page"`
	TotalResults int                                       `json:"totalResults"`
	Cached       bool                                      `json:"cached"`
	Sources      map[domain.SourceType]domain.SourceStatus `json:"sources,omitempty"`
	DurationMS   int64                                     `json:"durationMs"`
	OccurredAt   time.Time                                 `json:"occurredAt"`
}

// Emitter publishes search events.
type Emitter interface {
	EmitSearchCompleted(ctx context.Context, event SearchEvent) error
}

// messageWriter is the subset of kafka.Writer the emitter needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Config configures the Kafka emitter.
type Config struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
}

// KafkaEmitter publishes search events to a Kafka topic, keyed by client so
// one client's searches land on one partition in order.
type KafkaEmitter struct {
	writer       messageWriter
	writeTimeout time.Duration
	logger       zerolog.Logger
}

// Compile-time interface verification.
var _ Emitter = (*KafkaEmitter)(nil)

// NewKafkaEmitter creates an emitter writing to the configured topic.
func NewKafkaEmitter(cfg Config, logger zerolog.Logger) *KafkaEmitter {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		AllowAutoTopicCreation: true,
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	return &KafkaEmitter{
		writer:       writer,
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// EmitSearchCompleted publishes a search.completed event. Missing envelope
// fields are filled in before encoding.
func (e *KafkaEmitter) EmitSearchCompleted(ctx context.Context, event SearchEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.EventType == "" {
		event.EventType = EventTypeSearchCompleted
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode search event: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.writeTimeout)
	defer cancel()

	err = e.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.ClientID),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish search event: %w", err)
	}

	e.logger.Debug().
		Str("event_id", event.EventID).
		Str("client_id", event.ClientID).
		Msg("search event published")

	return nil
}

// Close flushes and closes the underlying writer.
func (e *KafkaEmitter) Close() error {
	if closer, ok := e.writer.(*kafka.Writer); ok {
		return closer.Close()
	}
	return nil
}

// NoopEmitter discards events. Used when Kafka publishing is disabled.
type NoopEmitter struct{}

// Compile-time interface verification.
var _ Emitter = (*NoopEmitter)(nil)

// EmitSearchCompleted does nothing.
func (NoopEmitter) EmitSearchCompleted(ctx context.Context, event SearchEvent) error {
	return nil
}
