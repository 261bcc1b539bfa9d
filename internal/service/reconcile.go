package service

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/avolkhin/dues-system/internal/model"
	"github.com/avolkhin/dues-system/internal/repository"
)

// viewFromDue строит представление жителя по его квитанции.
// Для оплаченной квитанции сумма к оплате равна нулю.
func viewFromDue(resident model.Resident, due *model.Due) model.ResidentView {
	view := model.ResidentView{
		Resident:       resident,
		Due:            due,
		Status:         statusFromDue(due.State),
		DelinquentDays: due.DelinquentDays,
		IsDelinquent:   due.State == model.DueStateDelinquent,
	}

	if due.State != model.DueStatePaid {
		view.AmountDueCents = due.TotalCents()
	}

	return view
}

// GetResidentView возвращает платёжный статус одного жителя за период.
// Один запрос к леджеру заменяет клиентское сравнение двух независимо
// выбранных списков и исключает рассинхронизацию между ними.
func (s *Service) GetResidentView(ctx context.Context, residentID string, period model.Period) (*model.ResidentView, error) {
	due, err := s.repo.GetDueByResidentPeriod(ctx, residentID, period)
	if err != nil {
		if !errors.Is(err, repository.ErrDueNotFound) {
			return nil, err
		}

		// Квитанции нет, денормализованных данных жителя взять неоткуда —
		// идём за ними в реестр.
		res, err := s.identity.GetResident(ctx, residentID)
		if err != nil {
			return nil, err
		}

		concepts, err := s.repo.GetActiveConcepts(ctx)
		if err != nil {
			return nil, err
		}

		return &model.ResidentView{
			Resident:       *res,
			Status:         model.ResidentStatusNoDueYet,
			AmountDueCents: model.ActiveTotalCents(concepts),
		}, nil
	}

	s.refresh(due, s.now())

	view := viewFromDue(model.Resident{ID: residentID, Email: due.ResidentEmail}, due)
	return &view, nil
}

// Reconcile сверяет реестр жителей с квитанциями за период и строит сводную
// картину оплат. Операция только читает: квитанции здесь не создаются и не
// изменяются, массовая генерация — отдельный явный вызов BulkGenerate.
// Реестр, квитанции и конфигурация читаются параллельно; при недоступности
// любого источника падает весь вызов, неполная сводка хуже отсутствующей.
func (s *Service) Reconcile(ctx context.Context, period model.Period) (*model.Reconciliation, error) {
	var (
		residents []model.Resident
		dues      []model.Due
		concepts  []model.Concept
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		residents, err = s.identity.ListResidents(gctx, s.params.ResidentRole)
		return err
	})

	g.Go(func() error {
		var err error
		dues, err = s.repo.ListDuesByPeriod(gctx, period)
		return err
	})

	g.Go(func() error {
		var err error
		concepts, err = s.repo.GetActiveConcepts(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.now()
	configTotal := model.ActiveTotalCents(concepts)

	byResident := make(map[string]*model.Due, len(dues))
	for i := range dues {
		s.refresh(&dues[i], now)
		byResident[dues[i].ResidentID] = &dues[i]
	}

	rec := &model.Reconciliation{
		Period:    period,
		Residents: make([]model.ResidentView, 0, len(residents)),
	}
	rec.Stats.Total = len(residents)

	for _, resident := range residents {
		due, ok := byResident[resident.ID]
		if !ok {
			// Квитанции ещё нет: сумма информационная, из текущей конфигурации.
			rec.Stats.WithoutDue++
			rec.Residents = append(rec.Residents, model.ResidentView{
				Resident:       resident,
				Status:         model.ResidentStatusNoDueYet,
				AmountDueCents: configTotal,
			})
			continue
		}

		rec.Stats.WithDue++

		switch due.State {
		case model.DueStatePaid:
			rec.Stats.Paid++
			rec.Stats.CollectedCents += due.TotalCents()
		case model.DueStatePending:
			rec.Stats.Pending++
		case model.DueStateOverdue:
			rec.Stats.Overdue++
		case model.DueStateDelinquent:
			rec.Stats.Delinquent++
		}

		if due.State != model.DueStatePaid {
			rec.Stats.OutstandingCents += due.TotalCents()
		}

		rec.Residents = append(rec.Residents, viewFromDue(resident, due))
	}

	return rec, nil
}

// BulkGenerateResult содержит итог массовой генерации квитанций за период.
type BulkGenerateResult struct {
	Created  int
	Existing int
}

// BulkGenerate создаёт квитанции за период для всего реестра жителей.
// Повторный запуск безопасен: CreateDue идемпотентен по (житель, период).
func (s *Service) BulkGenerate(ctx context.Context, period model.Period) (*BulkGenerateResult, error) {
	residents, err := s.identity.ListResidents(ctx, s.params.ResidentRole)
	if err != nil {
		return nil, err
	}

	res := &BulkGenerateResult{}
	for _, resident := range residents {
		_, created, err := s.CreateDue(ctx, resident, period)
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Existing++
		}
	}

	return res, nil
}
