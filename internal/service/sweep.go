package service

import (
	"context"
	"time"

	"github.com/avolkhin/dues-system/internal/model"
)

const sweepBatchSize = 500

// StartDelinquencySweep запускает фоновый пересчёт просрочки по неоплаченным
// квитанциям. Обход идемпотентен: калькулятор чистый, поэтому пропущенный
// или повторный запуск не меняет то, что увидит читатель, — только свежесть
// персистентных колонок.
func (s *Service) StartDelinquencySweep(ctx context.Context) {
	interval := s.params.SweepInterval
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.processSweepBatch(ctx)
			}
		}
	}()
}

func (s *Service) processSweepBatch(ctx context.Context) {
	dues, err := s.repo.ListDuesForSweep(ctx, sweepBatchSize)
	if err != nil {
		return
	}

	now := s.now()

	for _, d := range dues {
		res := s.calc.Compute(d.BaseCents, d.DueDate, d.GraceDate, now)

		if res.State == d.State && res.PenaltyCents == d.PenaltyCents && res.DelinquentDays == d.DelinquentDays {
			continue
		}

		// DELINQUENT достижим только через OVERDUE, а PAID фиксируется
		// исключительно подтверждением оплаты; условие в UPDATE не даёт
		// обходу затронуть оплаченные квитанции.
		if d.State == model.DueStatePaid {
			continue
		}

		_ = s.repo.UpdateDueDelinquency(ctx, d.ID, res.State, res.PenaltyCents, res.DelinquentDays)
	}
}
