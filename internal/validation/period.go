// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/avolkhin/dues-system/internal/model"
)

// ErrInvalidPeriod возвращается для строки периода вне формата YYYY-MM.
var ErrInvalidPeriod = errors.New("invalid period")

// ParsePeriod разбирает период в формате YYYY-MM.
func ParsePeriod(s string) (model.Period, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 2 {
		return model.Period{}, ErrInvalidPeriod
	}

	year, err := strconv.Atoi(parts[0])
	if err != nil || year < 2000 || year > 2200 {
		return model.Period{}, ErrInvalidPeriod
	}

	month, err := strconv.Atoi(parts[1])
	if err != nil || month < 1 || month > 12 {
		return model.Period{}, ErrInvalidPeriod
	}

	return model.Period{Year: year, Month: time.Month(month)}, nil
}
