package service

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/avolkhin/dues-system/internal/invoice"
	"github.com/avolkhin/dues-system/internal/model"
	"github.com/avolkhin/dues-system/internal/repository"
)

const paymentMethodOnline = "online"

// CheckoutSession описывает созданную платёжную сессию для квитанции.
type CheckoutSession struct {
	SessionID   string
	RedirectURL string
	AmountCents int64
}

// CreateCheckoutSession открывает платёжную сессию на актуальную сумму
// квитанции: житель, который тянет с оплатой, платит пеню на момент
// создания сессии, а не на момент выставления квитанции.
func (s *Service) CreateCheckoutSession(ctx context.Context, dueID string) (*CheckoutSession, error) {
	due, err := s.repo.GetDueByID(ctx, dueID)
	if err != nil {
		return nil, err
	}

	if due.State == model.DueStatePaid {
		return nil, fmt.Errorf("%w: due %s already paid", ErrInvalidState, dueID)
	}

	s.refresh(due, s.now())

	session, err := s.gateway.CreateSession(ctx, due.TotalCents(), s.params.Currency, map[string]string{
		"due_id":      due.ID,
		"resident_id": due.ResidentID,
		"period":      due.Period.String(),
	})
	if err != nil {
		return nil, err
	}

	err = s.repo.SetGatewaySession(ctx, due.ID, session.ID, due.State, due.PenaltyCents, due.DelinquentDays)
	if err != nil {
		if errors.Is(err, repository.ErrDueAlreadyPaid) {
			return nil, fmt.Errorf("%w: due %s already paid", ErrInvalidState, dueID)
		}
		return nil, err
	}

	return &CheckoutSession{
		SessionID:   session.ID,
		RedirectURL: session.RedirectURL,
		AmountCents: due.TotalCents(),
	}, nil
}

// ConfirmPayment проверяет у шлюза фактическое завершение сессии и переводит
// квитанцию в PAID. Вызов идемпотентен: повторное подтверждение той же пары
// (квитанция, сессия) возвращает тот же счёт, а не ошибку — redirect-потоки
// доставляют подтверждение больше одного раза.
func (s *Service) ConfirmPayment(ctx context.Context, dueID, sessionID string) (*model.Invoice, error) {
	due, err := s.repo.GetDueByID(ctx, dueID)
	if err != nil {
		return nil, err
	}

	if due.State == model.DueStatePaid {
		if due.GatewaySessionID != sessionID {
			return nil, fmt.Errorf("%w: due %s paid with another session", ErrSessionConflict, dueID)
		}
		return s.composeInvoice(ctx, due)
	}

	// Сессия должна быть открыта именно для этой квитанции: чужая сессия
	// (пусть даже оплаченная) не погашает произвольный долг.
	if due.GatewaySessionID != "" && due.GatewaySessionID != sessionID {
		return nil, fmt.Errorf("%w: session %s does not belong to due %s", ErrSessionConflict, sessionID, dueID)
	}

	status, err := s.gateway.GetSessionStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !status.Paid {
		return nil, fmt.Errorf("%w: session %s", ErrPaymentIncomplete, sessionID)
	}

	// Шлюз отдаёт фактически списанную сумму; частичная оплата долг не гасит.
	if paidCents := int64(math.Round(status.AmountPaid * 100)); paidCents < due.TotalCents() {
		return nil, fmt.Errorf("%w: paid %d of %d cents", ErrPaymentIncomplete, paidCents, due.TotalCents())
	}

	reference := invoice.Number(due.ID)

	err = s.repo.MarkDuePaid(ctx, due.ID, paymentMethodOnline, reference, sessionID, s.now())
	if err != nil {
		if !errors.Is(err, repository.ErrDueAlreadyPaid) {
			return nil, err
		}
		// Параллельное подтверждение успело раньше: различаем повтор той же
		// сессии и настоящий конфликт.
		paid, readErr := s.repo.GetDueByID(ctx, due.ID)
		if readErr != nil {
			return nil, readErr
		}
		if paid.GatewaySessionID != sessionID {
			return nil, fmt.Errorf("%w: due %s paid with another session", ErrSessionConflict, dueID)
		}
		return s.composeInvoice(ctx, paid)
	}

	paid, err := s.repo.GetDueByID(ctx, due.ID)
	if err != nil {
		return nil, err
	}

	return s.composeInvoice(ctx, paid)
}

// GetInvoice восстанавливает счёт по оплаченной квитанции.
func (s *Service) GetInvoice(ctx context.Context, dueID string) (*model.Invoice, error) {
	due, err := s.repo.GetDueByID(ctx, dueID)
	if err != nil {
		return nil, err
	}

	if due.State != model.DueStatePaid {
		return nil, fmt.Errorf("%w: due %s is not paid", ErrInvalidState, dueID)
	}

	return s.composeInvoice(ctx, due)
}

func (s *Service) composeInvoice(ctx context.Context, due *model.Due) (*model.Invoice, error) {
	var fallback []model.Concept
	if len(due.Concepts) == 0 {
		concepts, err := s.repo.GetActiveConcepts(ctx)
		if err != nil {
			return nil, err
		}
		fallback = concepts
	}

	return invoice.Compose(due, fallback)
}
