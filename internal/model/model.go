// Package model содержит доменные сущности сервиса учёта взносов жителей.
package model

import (
	"fmt"
	"time"
)

// Period задаёт расчётный период: одна квитанция на жителя в месяц.
type Period struct {
	Year  int
	Month time.Month
}

// String возвращает период в проводном формате YYYY-MM.
func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// Start возвращает первый день периода в UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// DueState описывает состояние квитанции в жизненном цикле оплаты.
type DueState string

const (
	DueStatePending    DueState = "PENDING"
	DueStateOverdue    DueState = "OVERDUE"
	DueStateDelinquent DueState = "DELINQUENT"
	DueStatePaid       DueState = "PAID"
)

// Concept описывает именованную статью начисления из конфигурации взносов.
type Concept struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	AmountCent int64  `json:"amount"`
	Active     bool   `json:"active"`
}

// ActiveTotalCents возвращает сумму активных статей в копейках.
func ActiveTotalCents(concepts []Concept) int64 {
	var total int64
	for _, c := range concepts {
		if c.Active {
			total += c.AmountCent
		}
	}
	return total
}

// Due описывает ежемесячную квитанцию жителя.
// Поля жителя денормализованы на момент создания квитанции.
type Due struct {
	ID               string
	ResidentID       string
	ResidentName     string
	ResidentEmail    string
	Period           Period
	BaseCents        int64
	PenaltyCents     int64
	DelinquentDays   int
	State            DueState
	DueDate          time.Time
	GraceDate        *time.Time
	Concepts         []Concept
	PaidAt           *time.Time
	PaymentMethod    string
	PaymentReference string
	GatewaySessionID string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TotalCents возвращает итоговую сумму к оплате в копейках.
func (d *Due) TotalCents() int64 {
	return d.BaseCents + d.PenaltyCents
}

// Deadline возвращает дату, после которой начинается просрочка:
// льготную дату, если она задана, иначе дату платежа.
func (d *Due) Deadline() time.Time {
	if d.GraceDate != nil {
		return *d.GraceDate
	}
	return d.DueDate
}

// Resident описывает жителя из реестра сервиса идентификации.
type Resident struct {
	ID        string
	FirstName string
	LastName  string
	Email     string
	Role      string
}

// FullName возвращает полное имя жителя.
func (r Resident) FullName() string {
	return r.FirstName + " " + r.LastName
}

// ResidentStatus описывает сводный платёжный статус жителя за период.
type ResidentStatus string

const (
	ResidentStatusNoDueYet   ResidentStatus = "NO_DUE_YET"
	ResidentStatusPending    ResidentStatus = "PENDING"
	ResidentStatusOverdue    ResidentStatus = "OVERDUE"
	ResidentStatusDelinquent ResidentStatus = "DELINQUENT"
	ResidentStatusPaid       ResidentStatus = "PAID"
)

// ResidentView — результат сверки по одному жителю. Не персистится,
// пересчитывается при каждом вызове сверки.
type ResidentView struct {
	Resident       Resident
	Due            *Due
	Status         ResidentStatus
	AmountDueCents int64
	IsDelinquent   bool
	DelinquentDays int
}

// ReconciliationStats содержит агрегированную статистику сверки за период.
type ReconciliationStats struct {
	Total            int
	WithDue          int
	WithoutDue       int
	Paid             int
	Pending          int
	Overdue          int
	Delinquent       int
	CollectedCents   int64
	OutstandingCents int64
}

// Reconciliation — сводный результат сверки реестра жителей с квитанциями.
type Reconciliation struct {
	Period    Period
	Stats     ReconciliationStats
	Residents []ResidentView
}

// InvoiceLine описывает одну строку счёта-квитанции.
type InvoiceLine struct {
	Key        string
	Label      string
	AmountCent int64
}

// Invoice — производный документ по оплаченной квитанции. Не персистится:
// детерминированно восстанавливается из квитанции и снимка конфигурации.
type Invoice struct {
	Number     string
	DueID      string
	IssuedAt   time.Time
	Lines      []InvoiceLine
	TotalCents int64
}
