package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"NiftyQuant/internal/domain/models"
	domrepo "NiftyQuant/internal/domain/repository"
	applogger "NiftyQuant/pkg/logger"
)

// EventRunCompleted is the event type carried by pipeline completion messages.
const EventRunCompleted = "pipeline.run_completed"

// RunCompletedEvent is the Kafka payload for a finished run. Money is rendered as
// fixed two-decimal strings so consumers never see float noise.
type RunCompletedEvent struct {
	EventID        string    `json:"event_id"`
	Type           string    `json:"type"`
	RunID          string    `json:"run_id"`
	Symbol         string    `json:"symbol"`
	CreatedAt      time.Time `json:"created_at"`
	Rows           int       `json:"rows"`
	InitialCapital string    `json:"initial_capital"`
	FinalEquity    string    `json:"final_equity"`
	TotalReturn    string    `json:"total_return"`
	ReturnPct      string    `json:"return_pct"`
	NumTrades      int       `json:"num_trades"`
	TradeCounting  string    `json:"trade_counting"`
	MaxDrawdownPct string    `json:"max_drawdown_pct"`
	WinRate        float64   `json:"win_rate"`
	RegimeChecksum string    `json:"regime_checksum,omitempty"`
	RegimeStates   int       `json:"regime_states,omitempty"`
	Anomalies      int       `json:"anomalies"`
}

// NewRunCompletedEvent builds the completion payload for r.
func NewRunCompletedEvent(r *models.PipelineResult) RunCompletedEvent {
	m := r.Metrics
	ev := RunCompletedEvent{
		EventID:        uuid.NewString(),
		Type:           EventRunCompleted,
		RunID:          r.RunID,
		Symbol:         r.Symbol,
		CreatedAt:      r.CreatedAt.UTC(),
		Rows:           len(r.Rows),
		InitialCapital: Money(m.InitialCapital),
		FinalEquity:    Money(m.FinalEquity),
		TotalReturn:    Money(m.TotalReturn),
		ReturnPct:      Money(m.ReturnPct),
		NumTrades:      m.NumTrades,
		TradeCounting:  m.TradeCounting,
		MaxDrawdownPct: Money(m.MaxDrawdownPct),
		WinRate:        m.WinRate,
		Anomalies:      len(r.Anomalies),
	}
	if r.Regime != nil {
		ev.RegimeChecksum = r.Regime.Checksum
		ev.RegimeStates = len(r.Regime.States)
	}
	return ev
}

// Money formats v with two fixed decimals.
func Money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// messagePublisher is satisfied by *kafka.Producer.
type messagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher announces completed runs keyed by symbol.
type KafkaEventPublisher struct {
	p     messagePublisher
	topic string
	l     *applogger.Logger
}

func NewKafkaEventPublisher(p messagePublisher, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{p: p, topic: topic}
}

// SetLogger injects a structured logger.
func (k *KafkaEventPublisher) SetLogger(l *applogger.Logger) { k.l = l }

func (k *KafkaEventPublisher) PublishRunCompleted(ctx context.Context, r *models.PipelineResult) error {
	ev := NewRunCompletedEvent(r)
	if err := k.p.Publish(ctx, k.topic, []byte(r.Symbol), ev); err != nil {
		return fmt.Errorf("publish run completed: %w", err)
	}
	if k.l != nil {
		k.l.Debug("run completed event published",
			applogger.String("topic", k.topic),
			applogger.String("run_id", r.RunID),
			applogger.String("event_id", ev.EventID),
		)
	}
	return nil
}

func (k *KafkaEventPublisher) Close() error { return k.p.Close() }

// NoopPublisher drops events. Used when Kafka is disabled.
type NoopPublisher struct{}

func (NoopPublisher) PublishRunCompleted(context.Context, *models.PipelineResult) error { return nil }
func (NoopPublisher) Close() error                                                      { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = NoopPublisher{}
)
