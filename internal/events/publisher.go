package events

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"intake/internal/config"
	"intake/internal/model"
	"intake/internal/rabbitmq"
)

const (
	TypeBatchTerminal      = "batch_terminal"
	TypePromotionCompleted = "promotion_completed"
)

// Event is the wire format published for downstream consumers (ledger
// sync, notifications) when an import reaches a milestone.
type Event struct {
	Type      string                 `json:"type"`
	BatchID   string                 `json:"batch_id"`
	Status    model.BatchStatus      `json:"status,omitempty"`
	Result    *model.PromotionResult `json:"result,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher emits import lifecycle events to the message broker. All
// publishing is best-effort: a broker outage never fails an import.
type Publisher struct {
	rabbit rabbitmq.Client
	cfg    config.RabbitMQConfig
}

// NewPublisher declares the exchange/queue topology and returns a
// publisher bound to it.
func NewPublisher(rabbit rabbitmq.Client, cfg config.RabbitMQConfig) (*Publisher, error) {
	if err := rabbit.DeclareExchange(cfg.ExchangeName, "direct"); err != nil {
		return nil, err
	}
	if _, err := rabbit.DeclareQueue(cfg.QueueName); err != nil {
		return nil, err
	}
	if err := rabbit.BindQueue(cfg.QueueName, cfg.ExchangeName, cfg.RoutingKey); err != nil {
		return nil, err
	}
	return &Publisher{rabbit: rabbit, cfg: cfg}, nil
}

// BatchTerminal publishes a batch-reached-terminal-status event.
func (p *Publisher) BatchTerminal(ctx context.Context, batchID string, status model.BatchStatus) {
	p.publish(Event{
		Type:      TypeBatchTerminal,
		BatchID:   batchID,
		Status:    status,
		Timestamp: time.Now(),
	})
}

// PromotionCompleted publishes the aggregate result of a promotion call.
// Implements promotion.EventSink.
func (p *Publisher) PromotionCompleted(ctx context.Context, batchID string, result model.PromotionResult) {
	p.publish(Event{
		Type:      TypePromotionCompleted,
		BatchID:   batchID,
		Result:    &result,
		Timestamp: time.Now(),
	})
}

func (p *Publisher) publish(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("type", event.Type).Msg("Failed to marshal event")
		return
	}

	headers := amqp.Table{
		"event_type": event.Type,
		"batch_id":   event.BatchID,
	}

	if err := p.rabbit.Publish(p.cfg.ExchangeName, p.cfg.RoutingKey, body, headers); err != nil {
		log.Warn().
			Err(err).
			Str("type", event.Type).
			Str("batch_id", event.BatchID).
			Msg("Failed to publish event, continuing")
	}
}
