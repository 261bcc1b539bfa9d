// Package identity предоставляет клиент реестра жителей сервиса идентификации.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/avolkhin/dues-system/internal/model"
)

// ErrUnavailable возвращается, когда сервис идентификации недоступен или
// отвечает ошибкой. Сверка в этом случае падает целиком: неполный реестр
// исказил бы статистику.
var ErrUnavailable = errors.New("identity service unavailable")

// ErrResidentNotFound возвращается, если житель отсутствует в реестре.
var ErrResidentNotFound = errors.New("resident not found")

const defaultPageSize = 100

// Client инкапсулирует HTTP-взаимодействие с сервисом идентификации.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент реестра жителей. Запросы только читающие,
// поэтому повторяются автоматически.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc.StandardClient(),
	}
}

type residentItem struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
}

type residentsPage struct {
	Items      []residentItem `json:"items"`
	TotalPages int            `json:"total_pages"`
}

// ListResidents возвращает полный реестр жителей с указанной ролью,
// выбирая страницы до исчерпания.
func (c *Client) ListResidents(ctx context.Context, role string) ([]model.Resident, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	var residents []model.Resident

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("page_size", strconv.Itoa(defaultPageSize))
		if role != "" {
			q.Set("role", role)
		}

		resp, err := c.fetchPage(ctx, base+"/api/residents?"+q.Encode())
		if err != nil {
			return nil, err
		}

		for _, item := range resp.Items {
			residents = append(residents, model.Resident{
				ID:        item.ID,
				FirstName: item.FirstName,
				LastName:  item.LastName,
				Email:     item.Email,
				Role:      item.Role,
			})
		}

		if page >= resp.TotalPages {
			break
		}
	}

	return residents, nil
}

// GetResident возвращает жителя реестра по идентификатору.
func (c *Client) GetResident(ctx context.Context, id string) (*model.Resident, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: client not configured", ErrUnavailable)
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/residents/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrResidentNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var item residentItem
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnavailable, err)
	}

	return &model.Resident{
		ID:        item.ID,
		FirstName: item.FirstName,
		LastName:  item.LastName,
		Email:     item.Email,
		Role:      item.Role,
	}, nil
}

func (c *Client) fetchPage(ctx context.Context, pageURL string) (*residentsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrUnavailable, resp.StatusCode)
	}

	var page residentsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnavailable, err)
	}

	return &page, nil
}
