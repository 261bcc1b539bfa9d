// Package gateway предоставляет клиент внешнего платёжного шлюза
// с размещённой страницей оплаты.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable возвращается, когда платёжный шлюз недоступен или отвечает ошибкой.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ErrSessionNotFound возвращается, если сессия неизвестна шлюзу.
var ErrSessionNotFound = errors.New("payment session not found")

// Client инкапсулирует HTTP-взаимодействие с платёжным шлюзом.
// Создание сессии — неидемпотентный POST, поэтому автоматических
// повторов здесь нет: повтор мог бы открыть дублирующую сессию.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент платёжного шлюза по указанному адресу.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Session описывает созданную платёжную сессию.
type Session struct {
	ID          string `json:"session_id"`
	RedirectURL string `json:"redirect_url"`
}

// SessionStatus описывает состояние платёжной сессии по данным шлюза.
type SessionStatus struct {
	Paid       bool    `json:"paid"`
	AmountPaid float64 `json:"amount_paid"`
}

type createSessionRequest struct {
	Amount   float64           `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (c *Client) base() (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return base, nil
}

// CreateSession открывает платёжную сессию на указанную сумму в копейках.
func (c *Client) CreateSession(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*Session, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(createSessionRequest{
		Amount:   float64(amountCents) / 100,
		Currency: currency,
		Metadata: metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnavailable, err)
	}

	if session.ID == "" || session.RedirectURL == "" {
		return nil, fmt.Errorf("%w: incomplete session response", ErrUnavailable)
	}

	return &session, nil
}

// GetSessionStatus запрашивает у шлюза фактическое состояние сессии.
// Подтверждение оплаты опирается только на этот ответ, а не на слова клиента.
func (c *Client) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	base, err := c.base()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/sessions/"+sessionID, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrSessionNotFound
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var status SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnavailable, err)
	}

	return &status, nil
}
