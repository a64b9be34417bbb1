package lifecycle

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/busclient/internal/logger"
	"github.com/sungwon/busclient/internal/servicebus"
)

// PacedHandler logs the payload and then simulates long-running work by
// waiting Delay, split into Steps increments.
type PacedHandler[T any] struct {
	Delay time.Duration
	Steps int
}

// Handle implements Handler. It returns ctx.Err() if ctx ends before the
// work is done.
func (h PacedHandler[T]) Handle(ctx context.Context, payload T, msg *servicebus.Message) error {
	log := logger.FromContext(ctx)

	event := log.Info()
	if obj, ok := any(payload).(zerolog.LogObjectMarshaler); ok {
		event = event.Object("payload", obj)
	} else {
		event = event.Interface("payload", payload)
	}
	event.Str("content_type", msg.ContentType).Msg("processing message")

	steps := h.Steps
	if steps < 1 {
		steps = 1
	}
	step := h.Delay / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		log.Debug().Int("step", i).Int("steps", steps).Msg("processing")
	}

	log.Info().Msg("processing done")
	return nil
}
