// Package producer publishes payloads to the queue.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sungwon/busclient/internal/servicebus"
)

// Sender posts a message and returns the correlation id it was sent with.
type Sender interface {
	Send(ctx context.Context, msg *servicebus.Message) (string, error)
}

// Config holds producer settings.
type Config struct {
	// ScheduleDelay defers visibility of each message by this much. Zero
	// enqueues immediately.
	ScheduleDelay time.Duration
	// Rate caps sends per second in Run. Zero is unlimited.
	Rate float64
}

// Producer wraps payloads as JSON messages and sends them.
type Producer struct {
	sender Sender
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a Producer.
func New(sender Sender, cfg Config, log zerolog.Logger) *Producer {
	return &Producer{
		sender: sender,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// Send encodes payload as JSON and sends it, scheduling it ScheduleDelay
// into the future when that is set. It returns the correlation id.
func (p *Producer) Send(ctx context.Context, payload any) (string, error) {
	msg, err := servicebus.NewJSONMessage(payload)
	if err != nil {
		return "", err
	}
	if p.cfg.ScheduleDelay > 0 {
		msg.Properties.ScheduledEnqueueTimeUTC = servicebus.NewTime(p.now().Add(p.cfg.ScheduleDelay))
	}

	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}

	event := p.log.Info().Str("correlation_id", id)
	if at := msg.Properties.ScheduledEnqueueTimeUTC; at != nil {
		event = event.Time("scheduled_for", at.Time)
	}
	event.Msg("message sent")

	return id, nil
}

// Run sends count payloads produced by next, stopping at the first error.
// It returns the correlation ids of the messages that were sent.
func (p *Producer) Run(ctx context.Context, count int, next func() any) ([]string, error) {
	var limiter *rate.Limiter
	if p.cfg.Rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.cfg.Rate), 1)
	}

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return ids, fmt.Errorf("rate limiter: %w", err)
			}
		}

		id, err := p.Send(ctx, next())
		if err != nil {
			return ids, fmt.Errorf("message %d of %d: %w", i+1, count, err)
		}
		ids = append(ids, id)
	}

	p.log.Info().Int("count", len(ids)).Msg("all messages sent")
	return ids, nil
}
