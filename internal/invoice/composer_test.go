package invoice

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/avolkhin/dues-system/internal/model"
)

func paidDue() *model.Due {
	paidAt := time.Date(2025, time.February, 1, 12, 0, 0, 0, time.UTC)
	return &model.Due{
		ID:           "6f1e8f0a-8a3e-4f0e-9a4e-2b1a9a1f0001",
		ResidentID:   "r1",
		State:        model.DueStatePaid,
		BaseCents:    50000,
		PenaltyCents: 2500,
		PaidAt:       &paidAt,
		Concepts: []model.Concept{
			{Key: "maintenance", Label: "Cuota de mantenimiento", AmountCent: 45000, Active: true},
			{Key: "security", Label: "Vigilancia", AmountCent: 5000, Active: true},
			{Key: "legacy", Label: "Статья прошлых лет", AmountCent: 9999, Active: false},
		},
	}
}

func TestCompose_LinesFromSnapshot(t *testing.T) {
	inv, err := Compose(paidDue(), nil)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}

	// Две активные статьи снимка и строка пени; неактивная статья не попадает.
	if len(inv.Lines) != 3 {
		t.Fatalf("lines = %d, want 3", len(inv.Lines))
	}
	if inv.Lines[0].Key != "maintenance" || inv.Lines[1].Key != "security" {
		t.Fatalf("unexpected line order: %+v", inv.Lines)
	}
	if inv.Lines[2].Key != penaltyLineKey || inv.Lines[2].AmountCent != 2500 {
		t.Fatalf("penalty line = %+v", inv.Lines[2])
	}
	if inv.TotalCents != 52500 {
		t.Fatalf("total = %d, want 52500", inv.TotalCents)
	}
}

func TestCompose_NoPenaltyLineWhenZero(t *testing.T) {
	due := paidDue()
	due.PenaltyCents = 0

	inv, err := Compose(due, nil)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	for _, l := range inv.Lines {
		if l.Key == penaltyLineKey {
			t.Fatalf("unexpected penalty line: %+v", inv.Lines)
		}
	}
	if inv.TotalCents != 50000 {
		t.Fatalf("total = %d, want 50000", inv.TotalCents)
	}
}

func TestCompose_FallbackToCurrentConfiguration(t *testing.T) {
	due := paidDue()
	due.Concepts = nil
	due.PenaltyCents = 0

	fallback := []model.Concept{
		{Key: "maintenance", Label: "Cuota de mantenimiento", AmountCent: 60000, Active: true},
	}

	inv, err := Compose(due, fallback)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	if len(inv.Lines) != 1 || inv.Lines[0].AmountCent != 60000 {
		t.Fatalf("unexpected lines: %+v", inv.Lines)
	}
}

func TestCompose_Deterministic(t *testing.T) {
	a, err := Compose(paidDue(), nil)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}
	b, err := Compose(paidDue(), nil)
	if err != nil {
		t.Fatalf("Compose error: %v", err)
	}

	if a.Number != b.Number {
		t.Fatalf("numbers differ: %q vs %q", a.Number, b.Number)
	}
	if a.TotalCents != b.TotalCents {
		t.Fatalf("totals differ: %d vs %d", a.TotalCents, b.TotalCents)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("invoices differ: %+v vs %+v", a, b)
	}
}

func TestCompose_RejectsUnpaid(t *testing.T) {
	due := paidDue()
	due.State = model.DueStateOverdue
	due.PaidAt = nil

	if _, err := Compose(due, nil); !errors.Is(err, ErrNotPaid) {
		t.Fatalf("err = %v, want ErrNotPaid", err)
	}
}

func TestNumber_Format(t *testing.T) {
	n := Number("some-due-id")
	if len(n) != len("REC-")+12 {
		t.Fatalf("number %q has unexpected length", n)
	}
	if n[:4] != "REC-" {
		t.Fatalf("number %q has unexpected prefix", n)
	}
	if n != Number("some-due-id") {
		t.Fatalf("number is not deterministic")
	}
	if n == Number("other-due-id") {
		t.Fatalf("different dues must produce different numbers")
	}
}
