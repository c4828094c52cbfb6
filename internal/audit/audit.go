// Package audit publishes security events (registrations, login steps,
// resends, account state changes). Events never carry secrets, code values
// or tokens.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth/pkg/utilities"
)

const (
	UserRegistered   = "user.registered"
	LoginChallenged  = "login.challenged"
	LoginRejected    = "login.rejected"
	SecondFactorOK   = "login.verified"
	SecondFactorFail = "login.code_rejected"
	CodeResent       = "login.code_resent"
	UserDeactivated  = "user.deactivated"
	UserReactivated  = "user.reactivated"
)

// Event is one audit record. Detail is a short machine-readable reason such
// as "exhausted" or "unknown_user".
type Event struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	UserID int64     `json:"user_id,omitempty"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher is fire-and-forget; failures are logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

func stamp(e *Event) {
	if e.ID == "" {
		e.ID = utilities.NewSnowflakeID()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
}

// LogPublisher writes events to the service log.
type LogPublisher struct {
	Logger *zap.SugaredLogger
}

func (p LogPublisher) Publish(_ context.Context, e Event) {
	stamp(&e)
	p.Logger.Infow("audit", "event_id", e.ID, "type", e.Type, "user_id", e.UserID, "detail", e.Detail)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher sends events as JSON, keyed by user id so one user's events
// stay ordered within a partition.
type KafkaPublisher struct {
	w      messageWriter
	logger *zap.SugaredLogger
}

// NewKafkaPublisher builds an async writer; WriteMessages returns immediately
// and delivery errors surface through the completion callback.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.SugaredLogger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Errorw("failed to write audit events", "err", err, "message_count", len(messages))
			}
		},
	}
	return &KafkaPublisher{w: w, logger: logger}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	stamp(&e)
	value, err := json.Marshal(e)
	if err != nil {
		p.logger.Errorw("audit encode failed", "type", e.Type, "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.UserID, 10)),
		Value: value,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.logger.Warnw("audit publish failed", "type", e.Type, "event_id", e.ID, "err", err)
	}
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
