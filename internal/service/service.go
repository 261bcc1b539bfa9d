// Package service реализует бизнес-логику учёта взносов жителей.
package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/avolkhin/dues-system/internal/delinquency"
	"github.com/avolkhin/dues-system/internal/gateway"
	"github.com/avolkhin/dues-system/internal/model"
)

// ErrInvalidResident возвращается при создании квитанции без данных жителя.
var (
	ErrInvalidResident = errors.New("invalid resident")
	// ErrInvalidState возвращается при операции, недопустимой в текущем состоянии квитанции.
	ErrInvalidState = errors.New("invalid due state")
	// ErrSessionConflict возвращается при подтверждении оплаченной квитанции с чужой сессией.
	ErrSessionConflict = errors.New("payment session conflict")
	// ErrPaymentIncomplete возвращается, если шлюз не подтвердил завершение оплаты.
	ErrPaymentIncomplete = errors.New("payment not completed")
	// ErrInvalidCredentials возвращается при неверных учётных данных оператора.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidConcepts возвращается при сохранении некорректной конфигурации статей.
	ErrInvalidConcepts = errors.New("invalid concepts")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	Ping(ctx context.Context) error
	GetActiveConcepts(ctx context.Context) ([]model.Concept, error)
	SaveConcepts(ctx context.Context, concepts []model.Concept) (int64, error)
	CreateDue(ctx context.Context, d *model.Due) (*model.Due, bool, error)
	GetDueByID(ctx context.Context, id string) (*model.Due, error)
	GetDueByResidentPeriod(ctx context.Context, residentID string, period model.Period) (*model.Due, error)
	ListDuesByResident(ctx context.Context, residentID string) ([]model.Due, error)
	ListDuesByPeriod(ctx context.Context, period model.Period) ([]model.Due, error)
	SetGatewaySession(ctx context.Context, dueID, sessionID string, state model.DueState, penaltyCents int64, delinquentDays int) error
	MarkDuePaid(ctx context.Context, dueID, method, reference, sessionID string, paidAt time.Time) error
	ListDuesForSweep(ctx context.Context, limit int) ([]model.Due, error)
	UpdateDueDelinquency(ctx context.Context, dueID string, state model.DueState, penaltyCents int64, delinquentDays int) error
}

// IdentityClient описывает контракт сервиса идентификации.
type IdentityClient interface {
	ListResidents(ctx context.Context, role string) ([]model.Resident, error)
	GetResident(ctx context.Context, id string) (*model.Resident, error)
}

// GatewayClient описывает контракт платёжного шлюза.
type GatewayClient interface {
	CreateSession(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*gateway.Session, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*gateway.SessionStatus, error)
}

// Params содержит доменные параметры сервиса взносов.
type Params struct {
	Currency         string
	ResidentRole     string
	DueDay           int
	GraceDays        int
	SweepInterval    time.Duration
	OperatorLogin    string
	OperatorPassword string
}

// Service содержит бизнес-логику учёта взносов.
type Service struct {
	repo     Repository
	identity IdentityClient
	gateway  GatewayClient
	calc     delinquency.Calculator
	params   Params

	// now подменяется в тестах для детерминированных расчётов.
	now func() time.Time
}

// NewService создаёт сервис с указанными хранилищем, внешними клиентами
// и калькулятором пени.
func NewService(repo Repository, identityClient IdentityClient, gatewayClient GatewayClient, calc delinquency.Calculator, params Params) *Service {
	return &Service{
		repo:     repo,
		identity: identityClient,
		gateway:  gatewayClient,
		calc:     calc,
		params:   params,
		now:      time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Ping проверяет доступность хранилища.
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// AuthenticateOperator проверяет учётные данные оператора консоли.
func (s *Service) AuthenticateOperator(login, password string) error {
	want := hashCredentials(s.params.OperatorLogin, s.params.OperatorPassword)
	got := hashCredentials(login, password)
	if !hmac.Equal(want, got) {
		return ErrInvalidCredentials
	}
	return nil
}

func hashCredentials(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// refresh пересчитывает производные поля неоплаченной квитанции на текущий
// момент. Оплаченные квитанции неизменяемы.
func (s *Service) refresh(d *model.Due, now time.Time) {
	if d == nil || d.State == model.DueStatePaid {
		return
	}

	res := s.calc.Compute(d.BaseCents, d.DueDate, d.GraceDate, now)
	d.State = res.State
	d.PenaltyCents = res.PenaltyCents
	d.DelinquentDays = res.DelinquentDays
}

// CreateDue создаёт квитанцию жителя за период либо возвращает существующую.
// Повторный вызов с той же парой (житель, период) не создаёт дубликат.
func (s *Service) CreateDue(ctx context.Context, resident model.Resident, period model.Period) (*model.Due, bool, error) {
	if resident.ID == "" {
		return nil, false, ErrInvalidResident
	}

	concepts, err := s.repo.GetActiveConcepts(ctx)
	if err != nil {
		return nil, false, err
	}

	dueDate := period.Start().AddDate(0, 0, s.params.DueDay-1)

	var graceDate *time.Time
	if s.params.GraceDays > 0 {
		g := dueDate.AddDate(0, 0, s.params.GraceDays)
		graceDate = &g
	}

	due := &model.Due{
		ID:            uuid.NewString(),
		ResidentID:    resident.ID,
		ResidentName:  resident.FullName(),
		ResidentEmail: resident.Email,
		Period:        period,
		BaseCents:     model.ActiveTotalCents(concepts),
		State:         model.DueStatePending,
		DueDate:       dueDate,
		GraceDate:     graceDate,
		Concepts:      concepts,
	}

	stored, created, err := s.repo.CreateDue(ctx, due)
	if err != nil {
		return nil, false, fmt.Errorf("create due: %w", err)
	}

	s.refresh(stored, s.now())

	return stored, created, nil
}

// GetDue возвращает квитанцию жителя за период с пересчётом просрочки
// на момент чтения.
func (s *Service) GetDue(ctx context.Context, residentID string, period model.Period) (*model.Due, error) {
	due, err := s.repo.GetDueByResidentPeriod(ctx, residentID, period)
	if err != nil {
		return nil, err
	}

	s.refresh(due, s.now())

	return due, nil
}

// GetDueByID возвращает квитанцию по идентификатору с пересчётом просрочки.
func (s *Service) GetDueByID(ctx context.Context, dueID string) (*model.Due, error) {
	due, err := s.repo.GetDueByID(ctx, dueID)
	if err != nil {
		return nil, err
	}

	s.refresh(due, s.now())

	return due, nil
}

// ListDuesForResident возвращает все квитанции жителя, новые периоды первыми.
func (s *Service) ListDuesForResident(ctx context.Context, residentID string) ([]model.Due, error) {
	dues, err := s.repo.ListDuesByResident(ctx, residentID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	for i := range dues {
		s.refresh(&dues[i], now)
	}

	return dues, nil
}

// GetConcepts возвращает действующую конфигурацию статей начисления.
func (s *Service) GetConcepts(ctx context.Context) ([]model.Concept, error) {
	return s.repo.GetActiveConcepts(ctx)
}

// UpdateConcepts добавляет новую версию конфигурации статей. Уже созданные
// квитанции хранят свой снимок и не меняются задним числом.
func (s *Service) UpdateConcepts(ctx context.Context, concepts []model.Concept) (int64, error) {
	if len(concepts) == 0 {
		return 0, fmt.Errorf("%w: empty list", ErrInvalidConcepts)
	}

	seen := make(map[string]struct{}, len(concepts))
	for _, c := range concepts {
		if c.Key == "" || c.Label == "" {
			return 0, fmt.Errorf("%w: key and label are required", ErrInvalidConcepts)
		}
		if c.AmountCent < 0 {
			return 0, fmt.Errorf("%w: negative amount for %q", ErrInvalidConcepts, c.Key)
		}
		if _, ok := seen[c.Key]; ok {
			return 0, fmt.Errorf("%w: duplicate key %q", ErrInvalidConcepts, c.Key)
		}
		seen[c.Key] = struct{}{}
	}

	return s.repo.SaveConcepts(ctx, concepts)
}

// statusFromDue переводит состояние квитанции в сводный статус жителя.
func statusFromDue(state model.DueState) model.ResidentStatus {
	switch state {
	case model.DueStatePaid:
		return model.ResidentStatusPaid
	case model.DueStateOverdue:
		return model.ResidentStatusOverdue
	case model.DueStateDelinquent:
		return model.ResidentStatusDelinquent
	default:
		return model.ResidentStatusPending
	}
}
