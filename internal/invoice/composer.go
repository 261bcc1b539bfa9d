// Package invoice собирает счёт-квитанцию по оплаченному взносу.
package invoice

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/avolkhin/dues-system/internal/model"
)

// ErrNotPaid возвращается при попытке выставить счёт по неоплаченной квитанции.
var ErrNotPaid = errors.New("due is not paid")

const penaltyLineKey = "delinquency_penalty"

// Number возвращает детерминированный номер счёта для квитанции.
// Повторная сборка по той же квитанции даёт тот же номер.
func Number(dueID string) string {
	sum := sha256.Sum256([]byte(dueID))
	return "REC-" + strings.ToUpper(hex.EncodeToString(sum[:])[:12])
}

// Compose собирает счёт по оплаченной квитанции: одна строка на активную
// статью из снимка конфигурации плюс строка пени, если она начислена.
// Если снимок пуст (старые записи), используется переданная текущая
// конфигурация. Сборка чистая и идемпотентная.
func Compose(due *model.Due, fallback []model.Concept) (*model.Invoice, error) {
	if due.State != model.DueStatePaid || due.PaidAt == nil {
		return nil, ErrNotPaid
	}

	concepts := due.Concepts
	if len(concepts) == 0 {
		concepts = fallback
	}

	var lines []model.InvoiceLine
	for _, c := range concepts {
		if !c.Active {
			continue
		}
		lines = append(lines, model.InvoiceLine{
			Key:        c.Key,
			Label:      c.Label,
			AmountCent: c.AmountCent,
		})
	}

	if due.PenaltyCents > 0 {
		lines = append(lines, model.InvoiceLine{
			Key:        penaltyLineKey,
			Label:      "Recargo por morosidad",
			AmountCent: due.PenaltyCents,
		})
	}

	var total int64
	for _, l := range lines {
		total += l.AmountCent
	}

	return &model.Invoice{
		Number:     Number(due.ID),
		DueID:      due.ID,
		IssuedAt:   *due.PaidAt,
		Lines:      lines,
		TotalCents: total,
	}, nil
}
