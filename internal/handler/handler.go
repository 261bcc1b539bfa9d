// Package handler содержит HTTP-обработчики API сервиса взносов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/avolkhin/dues-system/internal/gateway"
	"github.com/avolkhin/dues-system/internal/identity"
	"github.com/avolkhin/dues-system/internal/middleware"
	"github.com/avolkhin/dues-system/internal/model"
	"github.com/avolkhin/dues-system/internal/repository"
	"github.com/avolkhin/dues-system/internal/service"
	"github.com/avolkhin/dues-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Ping(ctx context.Context) error
	AuthenticateOperator(login, password string) error
	CreateDue(ctx context.Context, resident model.Resident, period model.Period) (*model.Due, bool, error)
	GetDueByID(ctx context.Context, dueID string) (*model.Due, error)
	ListDuesForResident(ctx context.Context, residentID string) ([]model.Due, error)
	GetResidentView(ctx context.Context, residentID string, period model.Period) (*model.ResidentView, error)
	Reconcile(ctx context.Context, period model.Period) (*model.Reconciliation, error)
	BulkGenerate(ctx context.Context, period model.Period) (*service.BulkGenerateResult, error)
	CreateCheckoutSession(ctx context.Context, dueID string) (*service.CheckoutSession, error)
	ConfirmPayment(ctx context.Context, dueID, sessionID string) (*model.Invoice, error)
	GetInvoice(ctx context.Context, dueID string) (*model.Invoice, error)
	GetConcepts(ctx context.Context) ([]model.Concept, error)
	UpdateConcepts(ctx context.Context, concepts []model.Concept) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса взносов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

// writeError переводит доменные ошибки в HTTP-статусы согласно таксономии:
// отсутствие данных, конфликт перехода, недоступность внешнего сервиса
// и недопустимое состояние различимы для вызывающей стороны.
func (h *Handler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, repository.ErrDueNotFound), errors.Is(err, gateway.ErrSessionNotFound),
		errors.Is(err, identity.ErrResidentNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, service.ErrSessionConflict), errors.Is(err, repository.ErrDueAlreadyPaid):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidState):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, service.ErrPaymentIncomplete):
		http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
	case errors.Is(err, service.ErrInvalidResident), errors.Is(err, service.ErrInvalidConcepts),
		errors.Is(err, validation.ErrInvalidPeriod):
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	case errors.Is(err, identity.ErrUnavailable), errors.Is(err, gateway.ErrUnavailable):
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func queryPeriod(r *http.Request) (model.Period, error) {
	return validation.ParsePeriod(r.URL.Query().Get("period"))
}

// Ping проверяет доступность сервиса и его хранилища.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.writeError(w, err, "ping error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Login выполняет аутентификацию оператора и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.service.AuthenticateOperator(req.Login, req.Password); err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("operator login error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, req.Login)
	w.WriteHeader(http.StatusOK)
}

type dueResponse struct {
	ID               string  `json:"id"`
	ResidentID       string  `json:"resident_id"`
	ResidentName     string  `json:"resident_name"`
	ResidentEmail    string  `json:"resident_email"`
	Period           string  `json:"period"`
	BaseAmount       float64 `json:"base_amount"`
	PenaltyAmount    float64 `json:"penalty_amount"`
	TotalAmount      float64 `json:"total_amount"`
	State            string  `json:"state"`
	DueDate          string  `json:"due_date"`
	GraceDate        *string `json:"grace_date,omitempty"`
	DelinquentDays   int     `json:"delinquent_days"`
	PaidAt           *string `json:"paid_at,omitempty"`
	PaymentMethod    string  `json:"payment_method,omitempty"`
	PaymentReference string  `json:"payment_reference,omitempty"`
	GatewaySessionID string  `json:"gateway_session_id,omitempty"`
	CreatedAt        string  `json:"created_at"`
	UpdatedAt        string  `json:"updated_at"`
}

func toDueResponse(d *model.Due) dueResponse {
	resp := dueResponse{
		ID:               d.ID,
		ResidentID:       d.ResidentID,
		ResidentName:     d.ResidentName,
		ResidentEmail:    d.ResidentEmail,
		Period:           d.Period.String(),
		BaseAmount:       float64(d.BaseCents) / 100,
		PenaltyAmount:    float64(d.PenaltyCents) / 100,
		TotalAmount:      float64(d.TotalCents()) / 100,
		State:            string(d.State),
		DueDate:          d.DueDate.Format(time.RFC3339),
		DelinquentDays:   d.DelinquentDays,
		PaymentMethod:    d.PaymentMethod,
		PaymentReference: d.PaymentReference,
		GatewaySessionID: d.GatewaySessionID,
		CreatedAt:        d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        d.UpdatedAt.Format(time.RFC3339),
	}

	if d.GraceDate != nil {
		s := d.GraceDate.Format(time.RFC3339)
		resp.GraceDate = &s
	}
	if d.PaidAt != nil {
		s := d.PaidAt.Format(time.RFC3339)
		resp.PaidAt = &s
	}

	return resp
}

type createDueRequest struct {
	ResidentID    string `json:"resident_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	ResidentEmail string `json:"resident_email"`
	Period        string `json:"period"`
}

// CreateDue создаёт квитанцию жителя за период. Повторный вызов для той же
// пары (житель, период) возвращает существующую квитанцию со статусом 200.
func (h *Handler) CreateDue(w http.ResponseWriter, r *http.Request) {
	var req createDueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	period, err := validation.ParsePeriod(req.Period)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	resident := model.Resident{
		ID:        req.ResidentID,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.ResidentEmail,
	}

	due, created, err := h.service.CreateDue(r.Context(), resident, period)
	if err != nil {
		h.writeError(w, err, "create due error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}

	writeJSON(w, status, toDueResponse(due))
}

// GetDue возвращает квитанцию по идентификатору.
func (h *Handler) GetDue(w http.ResponseWriter, r *http.Request) {
	due, err := h.service.GetDueByID(r.Context(), chi.URLParam(r, "dueID"))
	if err != nil {
		h.writeError(w, err, "get due error")
		return
	}

	writeJSON(w, http.StatusOK, toDueResponse(due))
}

// ListResidentDues возвращает все квитанции жителя, новые периоды первыми.
func (h *Handler) ListResidentDues(w http.ResponseWriter, r *http.Request) {
	dues, err := h.service.ListDuesForResident(r.Context(), chi.URLParam(r, "residentID"))
	if err != nil {
		h.writeError(w, err, "list dues error")
		return
	}

	if len(dues) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]dueResponse, 0, len(dues))
	for i := range dues {
		resp = append(resp, toDueResponse(&dues[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type residentViewResponse struct {
	ResidentID     string       `json:"resident_id"`
	ResidentName   string       `json:"resident_name"`
	ResidentEmail  string       `json:"resident_email"`
	Status         string       `json:"status"`
	AmountDue      float64      `json:"amount_due"`
	IsDelinquent   bool         `json:"is_delinquent"`
	DelinquentDays int          `json:"delinquent_days"`
	Due            *dueResponse `json:"due,omitempty"`
}

func toViewResponse(v model.ResidentView) residentViewResponse {
	resp := residentViewResponse{
		ResidentID:     v.Resident.ID,
		ResidentName:   v.Resident.FullName(),
		ResidentEmail:  v.Resident.Email,
		Status:         string(v.Status),
		AmountDue:      float64(v.AmountDueCents) / 100,
		IsDelinquent:   v.IsDelinquent,
		DelinquentDays: v.DelinquentDays,
	}

	if v.Due != nil {
		due := toDueResponse(v.Due)
		resp.Due = &due
		if resp.ResidentName == " " {
			resp.ResidentName = v.Due.ResidentName
		}
		if resp.ResidentEmail == "" {
			resp.ResidentEmail = v.Due.ResidentEmail
		}
	}

	return resp
}

// GetResidentView возвращает платёжный статус жителя за период.
func (h *Handler) GetResidentView(w http.ResponseWriter, r *http.Request) {
	period, err := queryPeriod(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	view, err := h.service.GetResidentView(r.Context(), chi.URLParam(r, "residentID"), period)
	if err != nil {
		h.writeError(w, err, "resident view error")
		return
	}

	writeJSON(w, http.StatusOK, toViewResponse(*view))
}

type reconciliationResponse struct {
	Period string `json:"period"`
	Stats  struct {
		Total             int     `json:"total"`
		WithDue           int     `json:"with_due"`
		WithoutDue        int     `json:"without_due"`
		Paid              int     `json:"paid"`
		Pending           int     `json:"pending"`
		Overdue           int     `json:"overdue"`
		Delinquent        int     `json:"delinquent"`
		AmountCollected   float64 `json:"amount_collected"`
		AmountOutstanding float64 `json:"amount_outstanding"`
	} `json:"statistics"`
	Residents []residentViewResponse `json:"residents"`
}

// Reconcile сверяет реестр жителей с квитанциями за период.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	period, err := queryPeriod(r)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	rec, err := h.service.Reconcile(r.Context(), period)
	if err != nil {
		h.writeError(w, err, "reconcile error")
		return
	}

	resp := reconciliationResponse{Period: rec.Period.String()}
	resp.Stats.Total = rec.Stats.Total
	resp.Stats.WithDue = rec.Stats.WithDue
	resp.Stats.WithoutDue = rec.Stats.WithoutDue
	resp.Stats.Paid = rec.Stats.Paid
	resp.Stats.Pending = rec.Stats.Pending
	resp.Stats.Overdue = rec.Stats.Overdue
	resp.Stats.Delinquent = rec.Stats.Delinquent
	resp.Stats.AmountCollected = float64(rec.Stats.CollectedCents) / 100
	resp.Stats.AmountOutstanding = float64(rec.Stats.OutstandingCents) / 100

	resp.Residents = make([]residentViewResponse, 0, len(rec.Residents))
	for _, v := range rec.Residents {
		resp.Residents = append(resp.Residents, toViewResponse(v))
	}

	writeJSON(w, http.StatusOK, resp)
}

type bulkGenerateRequest struct {
	Period string `json:"period"`
}

type bulkGenerateResponse struct {
	Created  int `json:"created"`
	Existing int `json:"existing"`
}

// BulkGenerate создаёт квитанции за период для всего реестра жителей.
func (h *Handler) BulkGenerate(w http.ResponseWriter, r *http.Request) {
	var req bulkGenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	period, err := validation.ParsePeriod(req.Period)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.BulkGenerate(r.Context(), period)
	if err != nil {
		h.writeError(w, err, "bulk generate error")
		return
	}

	writeJSON(w, http.StatusOK, bulkGenerateResponse{
		Created:  res.Created,
		Existing: res.Existing,
	})
}

type checkoutResponse struct {
	SessionID   string  `json:"session_id"`
	RedirectURL string  `json:"redirect_url"`
	Amount      float64 `json:"amount"`
}

// CreateCheckoutSession открывает платёжную сессию для квитанции.
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.CreateCheckoutSession(r.Context(), chi.URLParam(r, "dueID"))
	if err != nil {
		h.writeError(w, err, "create checkout session error")
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{
		SessionID:   session.SessionID,
		RedirectURL: session.RedirectURL,
		Amount:      float64(session.AmountCents) / 100,
	})
}

type invoiceLineResponse struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

type invoiceResponse struct {
	InvoiceNumber string                `json:"invoice_number"`
	DueID         string                `json:"due_id"`
	IssuedAt      string                `json:"issued_at"`
	Lines         []invoiceLineResponse `json:"line_items"`
	Total         float64               `json:"total"`
}

func toInvoiceResponse(inv *model.Invoice) invoiceResponse {
	resp := invoiceResponse{
		InvoiceNumber: inv.Number,
		DueID:         inv.DueID,
		IssuedAt:      inv.IssuedAt.Format(time.RFC3339),
		Total:         float64(inv.TotalCents) / 100,
	}

	resp.Lines = make([]invoiceLineResponse, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		resp.Lines = append(resp.Lines, invoiceLineResponse{
			Key:    l.Key,
			Label:  l.Label,
			Amount: float64(l.AmountCent) / 100,
		})
	}

	return resp
}

type confirmPaymentRequest struct {
	DueID     string `json:"due_id"`
	SessionID string `json:"session_id"`
}

// ConfirmPayment подтверждает оплату по платёжной сессии. Повторный вызов
// с той же парой (квитанция, сессия) возвращает тот же счёт.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.DueID == "" || req.SessionID == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	inv, err := h.service.ConfirmPayment(r.Context(), req.DueID, req.SessionID)
	if err != nil {
		h.writeError(w, err, "confirm payment error")
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// GetInvoice восстанавливает счёт по оплаченной квитанции.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.service.GetInvoice(r.Context(), chi.URLParam(r, "dueID"))
	if err != nil {
		h.writeError(w, err, "get invoice error")
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

type conceptPayload struct {
	Key    string  `json:"key"`
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
	Active bool    `json:"active"`
}

// GetConcepts возвращает действующую конфигурацию статей начисления.
func (h *Handler) GetConcepts(w http.ResponseWriter, r *http.Request) {
	concepts, err := h.service.GetConcepts(r.Context())
	if err != nil {
		h.writeError(w, err, "get concepts error")
		return
	}

	resp := make([]conceptPayload, 0, len(concepts))
	for _, c := range concepts {
		resp = append(resp, conceptPayload{
			Key:    c.Key,
			Label:  c.Label,
			Amount: float64(c.AmountCent) / 100,
			Active: c.Active,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type updateConceptsResponse struct {
	Version int64 `json:"version"`
}

// UpdateConcepts добавляет новую версию конфигурации статей начисления.
func (h *Handler) UpdateConcepts(w http.ResponseWriter, r *http.Request) {
	var req []conceptPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	concepts := make([]model.Concept, 0, len(req))
	for _, c := range req {
		concepts = append(concepts, model.Concept{
			Key:        c.Key,
			Label:      c.Label,
			// float64(19.99)*100 даёт 1998.9999..., усечение потеряло бы цент.
			AmountCent: int64(math.Round(c.Amount * 100)),
			Active:     c.Active,
		})
	}

	version, err := h.service.UpdateConcepts(r.Context(), concepts)
	if err != nil {
		h.writeError(w, err, "update concepts error")
		return
	}

	writeJSON(w, http.StatusOK, updateConceptsResponse{Version: version})
}
