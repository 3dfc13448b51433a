package payment

import (
	"context"
	"time"

	"github.com/Zhima-Mochi/minishop-checkout/internal/application"
	"github.com/Zhima-Mochi/minishop-checkout/internal/observability"
)

const sweepWorker = "payment_sweep_worker"

// SweepWorker runs the reconciliation sweep on a fixed interval.
type SweepWorker struct {
	useCase  application.UseCase[SweepInput, *SweepResult]
	interval time.Duration
	input    SweepInput
	log      observability.Logger
}

func NewSweepWorker(
	useCase application.UseCase[SweepInput, *SweepResult],
	interval time.Duration,
	input SweepInput,
	tel observability.Observability,
) *SweepWorker {
	logger := observability.NopLogger()
	if tel != nil {
		logger = tel.Logger()
	}
	return &SweepWorker{
		useCase:  useCase,
		interval: interval,
		input:    input,
		log:      logger.With(observability.F("service", sweepWorker)),
	}
}

// Run blocks until ctx is done.
func (w *SweepWorker) Run(ctx context.Context) {
	if w.useCase == nil || w.interval <= 0 {
		return
	}
	t := time.NewTicker(w.interval)
	defer t.Stop()

	w.log.Info("sweep_worker_started", observability.F("interval", w.interval.String()))
	for {
		select {
		case <-ctx.Done():
			w.log.Info("sweep_worker_stopped")
			return
		case now := <-t.C:
			in := w.input
			in.Now = now.UTC()
			if _, err := w.useCase.Execute(ctx, in); err != nil {
				w.log.Warn("sweep_failed", observability.F("error", err.Error()))
			}
		}
	}
}
