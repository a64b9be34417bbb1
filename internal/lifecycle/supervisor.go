package lifecycle

import (
	"context"
	"time"

	"github.com/sungwon/busclient/internal/metrics"
)

// Supervisor runs an iteration function in a loop. A failed iteration is
// reported to OnError and the loop continues.
type Supervisor struct {
	Iterate func(ctx context.Context) error
	OnError func(err error)
	// MaxIterations bounds the loop; 0 runs until ctx is done.
	MaxIterations int
	// Pause is waited between iterations.
	Pause time.Duration
}

// Run loops until MaxIterations is reached, returning nil, or until ctx is
// done, returning ctx.Err(). An in-flight iteration is allowed to finish.
func (s *Supervisor) Run(ctx context.Context) error {
	for i := 0; s.MaxIterations == 0 || i < s.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Iterate(ctx); err != nil {
			metrics.IterationErrorsTotal.Inc()
			if s.OnError != nil {
				s.OnError(err)
			}
		}

		if s.Pause > 0 {
			timer := time.NewTimer(s.Pause)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
