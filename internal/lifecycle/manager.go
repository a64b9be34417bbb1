// Package lifecycle drives received messages through the peek-lock delivery
// policy: depending on how often a message has been delivered it is dropped,
// released, kept locked, or handed to a payload handler and completed.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/busclient/internal/logger"
	"github.com/sungwon/busclient/internal/metrics"
	"github.com/sungwon/busclient/internal/servicebus"
)

// Transport is the subset of the queue client the manager needs.
type Transport interface {
	PeekLock(ctx context.Context) (*servicebus.Message, error)
	Delete(ctx context.Context, props *servicebus.BrokerProperties) error
	Unlock(ctx context.Context, props *servicebus.BrokerProperties) error
	RenewLock(ctx context.Context, props *servicebus.BrokerProperties) error
}

// Handler processes a decoded payload. msg is the locked message it came
// from.
type Handler[T any] interface {
	Handle(ctx context.Context, payload T, msg *servicebus.Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc[T any] func(ctx context.Context, payload T, msg *servicebus.Message) error

// Handle calls f.
func (f HandlerFunc[T]) Handle(ctx context.Context, payload T, msg *servicebus.Message) error {
	return f(ctx, payload, msg)
}

// Action is what RunOnce did with the head of the queue.
type Action int

const (
	// ActionNone means the queue was empty or the message could not be
	// decoded.
	ActionNone Action = iota
	ActionDelete
	ActionUnlock
	ActionRenew
	ActionProcess
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionDelete:
		return "delete"
	case ActionUnlock:
		return "unlock"
	case ActionRenew:
		return "renew"
	case ActionProcess:
		return "process"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// actionFor maps a delivery count to the lifecycle action. Counts other
// than 1 and 2 go to the handler.
func actionFor(deliveryCount *int) Action {
	if deliveryCount == nil {
		return ActionDelete
	}
	switch *deliveryCount {
	case 1:
		return ActionUnlock
	case 2:
		return ActionRenew
	default:
		return ActionProcess
	}
}

type settings struct {
	renewEvery time.Duration
	log        zerolog.Logger
}

// Option configures a Manager.
type Option func(*settings)

// WithLockRenewal renews the lock every interval while the handler runs. A
// non-positive interval disables renewal.
func WithLockRenewal(interval time.Duration) Option {
	return func(s *settings) { s.renewEvery = interval }
}

// WithLogger sets the manager's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *settings) { s.log = log }
}

// Manager receives one message at a time and applies the lifecycle policy
// to it. Payloads are decoded from JSON into T.
type Manager[T any] struct {
	transport Transport
	handler   Handler[T]
	settings
}

// NewManager creates a Manager.
func NewManager[T any](transport Transport, handler Handler[T], opts ...Option) *Manager[T] {
	s := settings{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&s)
	}
	return &Manager[T]{transport: transport, handler: handler, settings: s}
}

// RunOnce peek-locks the head of the queue and applies the policy to it.
// An undecodable message, or one whose handler fails, is left locked so the
// service redelivers it once the lock lapses.
func (m *Manager[T]) RunOnce(ctx context.Context) (Action, error) {
	msg, err := m.transport.PeekLock(ctx)
	if err != nil {
		return ActionNone, fmt.Errorf("peek-lock: %w", err)
	}
	if msg == nil {
		metrics.LifecycleActionsTotal.WithLabelValues(ActionNone.String()).Inc()
		m.log.Debug().Msg("queue empty")
		return ActionNone, nil
	}

	log := m.log
	if id := msg.Properties.CorrelationID; id != nil {
		ctx = logger.WithCorrelationID(ctx, *id)
		log = log.With().Str("correlation_id", *id).Logger()
	}
	if id := msg.Properties.MessageID; id != nil {
		log = log.With().Str("message_id", *id).Logger()
	}
	ctx = logger.WithLogger(ctx, log)

	var payload T
	if err := msg.DecodeJSON(&payload); err != nil {
		log.Warn().Err(err).Msg("message payload could not be decoded; leaving it locked")
		return ActionNone, err
	}

	action := actionFor(msg.Properties.DeliveryCount)
	metrics.LifecycleActionsTotal.WithLabelValues(action.String()).Inc()

	event := log.Info().Str("action", action.String())
	if dc := msg.Properties.DeliveryCount; dc != nil {
		event = event.Int("delivery_count", *dc)
	}
	event.Msg("message received")

	props := &msg.Properties
	switch action {
	case ActionDelete:
		err = m.transport.Delete(ctx, props)
	case ActionUnlock:
		err = m.transport.Unlock(ctx, props)
	case ActionRenew:
		err = m.transport.RenewLock(ctx, props)
	case ActionProcess:
		if err := m.process(ctx, payload, msg); err != nil {
			log.Error().Err(err).Msg("handler failed; leaving message locked")
			return action, fmt.Errorf("handle message: %w", err)
		}
		err = m.transport.Delete(ctx, props)
	}
	if err != nil {
		return action, fmt.Errorf("%s message: %w", action, err)
	}

	return action, nil
}

// process runs the handler, renewing the lock in the background when
// renewal is enabled.
func (m *Manager[T]) process(ctx context.Context, payload T, msg *servicebus.Message) error {
	start := time.Now()
	defer func() {
		metrics.MessageProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	if m.renewEvery <= 0 {
		return m.handler.Handle(ctx, payload, msg)
	}

	renewCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.keepAlive(renewCtx, &msg.Properties)
	}()

	err := m.handler.Handle(ctx, payload, msg)

	stop()
	wg.Wait()
	return err
}

func (m *Manager[T]) keepAlive(ctx context.Context, props *servicebus.BrokerProperties) {
	ticker := time.NewTicker(m.renewEvery)
	defer ticker.Stop()

	log := logger.FromContext(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.transport.RenewLock(ctx, props); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("lock renewal failed")
				continue
			}
			log.Debug().Msg("lock renewed")
		}
	}
}
