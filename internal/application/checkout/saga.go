package checkout

import (
	"context"

	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

// step is one unit of the checkout saga with its compensating action.
type step interface {
	Name() string
	Execute(ctx context.Context) error
	Compensate(ctx context.Context, cause error) error
}

// runSaga executes steps in order. When a step fails, every step that already
// succeeded is compensated in reverse order before the step error is returned.
// Compensation failures are logged and counted but never replace the step error.
func runSaga(ctx context.Context, logger observability.Logger, steps []step) (failed int, err error) {
	done := make([]step, 0, len(steps))
	for _, s := range steps {
		if err = s.Execute(ctx); err != nil {
			logger.Warn("saga_step_failed",
				observability.F("step", s.Name()),
				observability.F("error", err.Error()),
			)
			return rollback(ctx, logger, done, err), err
		}
		done = append(done, s)
	}
	return 0, nil
}

func rollback(ctx context.Context, logger observability.Logger, done []step, cause error) int {
	// Compensation must finish even if the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i]
		if err := s.Compensate(ctx, cause); err != nil {
			failed++
			logger.Error("saga_compensation_failed",
				observability.F("step", s.Name()),
				observability.F("error", err.Error()),
			)
			continue
		}
		logger.Info("saga_step_compensated", observability.F("step", s.Name()))
	}
	return failed
}
