package delinquency

import (
	"testing"
	"time"

	"github.com/avolkhin/dues-system/internal/model"
)

func mustSchedule(t *testing.T, s string) Schedule {
	t.Helper()
	schedule, err := ParseSchedule(s)
	if err != nil {
		t.Fatalf("ParseSchedule(%q) error: %v", s, err)
	}
	return schedule
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseSchedule_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "missing percent", input: "10"},
		{name: "negative days", input: "-1:5"},
		{name: "negative percent", input: "10:-5"},
		{name: "days not increasing", input: "10:5,10:10"},
		{name: "percent decreasing", input: "10:5,30:4"},
		{name: "garbage", input: "ten:five"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSchedule(tt.input); err == nil {
				t.Fatalf("ParseSchedule(%q) expected error", tt.input)
			}
		})
	}
}

func TestSchedulePercent_Stepped(t *testing.T) {
	schedule := mustSchedule(t, "10:5,30:10,60:20")

	tests := []struct {
		days int
		want float64
	}{
		{days: 0, want: 0},
		{days: 9, want: 0},
		{days: 10, want: 5},
		{days: 29, want: 5},
		{days: 30, want: 10},
		{days: 60, want: 20},
		{days: 365, want: 20},
	}

	for _, tt := range tests {
		if got := schedule.Percent(tt.days); got != tt.want {
			t.Fatalf("Percent(%d) = %v, want %v", tt.days, got, tt.want)
		}
	}
}

func TestCompute_PendingBeforeDeadline(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "10:5"), 30)

	grace := date(2025, time.January, 15)
	res := calc.Compute(10000, date(2025, time.January, 10), &grace, date(2025, time.January, 12))

	if res.State != model.DueStatePending {
		t.Fatalf("state = %s, want PENDING", res.State)
	}
	if res.PenaltyCents != 0 || res.DelinquentDays != 0 {
		t.Fatalf("penalty = %d, days = %d, want zeros", res.PenaltyCents, res.DelinquentDays)
	}
}

func TestCompute_DeadlineDayStillPending(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "10:5"), 30)

	grace := date(2025, time.January, 15)
	now := time.Date(2025, time.January, 15, 23, 50, 0, 0, time.UTC)
	res := calc.Compute(10000, date(2025, time.January, 10), &grace, now)

	if res.State != model.DueStatePending {
		t.Fatalf("state = %s, want PENDING on deadline day", res.State)
	}
}

func TestCompute_GracePeriodWorkedExample(t *testing.T) {
	// Квитанция: base=100.00, платёж 2025-01-10, льготный срок до 2025-01-15,
	// порог 30 дней, шкала 5% с 10-го дня. На 2025-01-20 — 5 дней просрочки.
	calc := NewCalculator(mustSchedule(t, "10:5"), 30)

	grace := date(2025, time.January, 15)
	res := calc.Compute(10000, date(2025, time.January, 10), &grace, date(2025, time.January, 20))

	if res.State != model.DueStateOverdue {
		t.Fatalf("state = %s, want OVERDUE", res.State)
	}
	if res.DelinquentDays != 5 {
		t.Fatalf("delinquent days = %d, want 5", res.DelinquentDays)
	}
	if res.PenaltyCents != 0 {
		t.Fatalf("penalty = %d, want 0 before day 10 of the schedule", res.PenaltyCents)
	}

	// С 10-го дня просрочки включается ставка 5%: 100.00 -> пеня 5.00.
	res = calc.Compute(10000, date(2025, time.January, 10), &grace, date(2025, time.January, 25))
	if res.PenaltyCents != 500 {
		t.Fatalf("penalty = %d, want 500", res.PenaltyCents)
	}
	if res.Percent != 5 {
		t.Fatalf("percent = %v, want 5", res.Percent)
	}
}

func TestCompute_NoGraceUsesDueDate(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "1:2"), 30)

	res := calc.Compute(5000, date(2025, time.March, 10), nil, date(2025, time.March, 12))
	if res.State != model.DueStateOverdue {
		t.Fatalf("state = %s, want OVERDUE", res.State)
	}
	if res.DelinquentDays != 2 {
		t.Fatalf("delinquent days = %d, want 2", res.DelinquentDays)
	}
	if res.PenaltyCents != 100 {
		t.Fatalf("penalty = %d, want 100", res.PenaltyCents)
	}
}

func TestCompute_DelinquentPastThreshold(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "10:5,30:10"), 30)

	res := calc.Compute(10000, date(2025, time.January, 10), nil, date(2025, time.February, 9))
	if res.DelinquentDays != 30 {
		t.Fatalf("delinquent days = %d, want 30", res.DelinquentDays)
	}
	if res.State != model.DueStateDelinquent {
		t.Fatalf("state = %s, want DELINQUENT", res.State)
	}
	if res.PenaltyCents != 1000 {
		t.Fatalf("penalty = %d, want 1000", res.PenaltyCents)
	}
}

func TestCompute_PenaltyMonotonic(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "10:5,30:10,60:20"), 30)

	due := date(2025, time.January, 10)
	var prev int64
	for day := 0; day < 120; day++ {
		now := due.AddDate(0, 0, day)
		res := calc.Compute(10000, due, nil, now)
		if res.PenaltyCents < prev {
			t.Fatalf("penalty decreased at day %d: %d < %d", day, res.PenaltyCents, prev)
		}
		prev = res.PenaltyCents
	}
}

func TestCompute_Deterministic(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "10:5,30:10"), 30)

	due := date(2025, time.January, 10)
	now := date(2025, time.February, 20)

	a := calc.Compute(12345, due, nil, now)
	b := calc.Compute(12345, due, nil, now)
	if a != b {
		t.Fatalf("Compute is not deterministic: %+v vs %+v", a, b)
	}
}

func TestCompute_PenaltyRounding(t *testing.T) {
	calc := NewCalculator(mustSchedule(t, "1:5"), 30)

	// 3.33 * 5% = 0.1665 -> округляется до 0.17.
	res := calc.Compute(333, date(2025, time.January, 10), nil, date(2025, time.January, 15))
	if res.PenaltyCents != 17 {
		t.Fatalf("penalty = %d, want 17", res.PenaltyCents)
	}
}
