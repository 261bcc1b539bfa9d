// Package delinquency содержит чистый расчёт пени за просрочку взноса.
package delinquency

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/avolkhin/dues-system/internal/model"
)

// Step задаёт ставку пени, действующую начиная с указанного дня просрочки.
type Step struct {
	AfterDays int
	Percent   float64
}

// Schedule — ступенчатая шкала пени, упорядоченная по дням просрочки.
// Проценты неубывающие, это проверяется при разборе.
type Schedule []Step

// ParseSchedule разбирает шкалу пени из строки вида "10:5,30:10,60:20",
// где каждая пара — день просрочки и процент от базовой суммы.
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Schedule{}, nil
	}

	var schedule Schedule
	for _, part := range strings.Split(s, ",") {
		pieces := strings.Split(strings.TrimSpace(part), ":")
		if len(pieces) != 2 {
			return nil, fmt.Errorf("invalid schedule step %q", part)
		}

		days, err := strconv.Atoi(pieces[0])
		if err != nil || days < 0 {
			return nil, fmt.Errorf("invalid schedule days %q", pieces[0])
		}

		percent, err := strconv.ParseFloat(pieces[1], 64)
		if err != nil || percent < 0 {
			return nil, fmt.Errorf("invalid schedule percent %q", pieces[1])
		}

		schedule = append(schedule, Step{AfterDays: days, Percent: percent})
	}

	for i := 1; i < len(schedule); i++ {
		if schedule[i].AfterDays <= schedule[i-1].AfterDays {
			return nil, fmt.Errorf("schedule days must increase: %d after %d",
				schedule[i].AfterDays, schedule[i-1].AfterDays)
		}
		if schedule[i].Percent < schedule[i-1].Percent {
			return nil, fmt.Errorf("schedule percent must not decrease: %v after %v",
				schedule[i].Percent, schedule[i-1].Percent)
		}
	}

	return schedule, nil
}

// Percent возвращает действующий процент пени для указанного числа дней просрочки.
func (s Schedule) Percent(days int) float64 {
	var percent float64
	for _, step := range s {
		if days >= step.AfterDays {
			percent = step.Percent
		}
	}
	return percent
}

// Calculator вычисляет состояние и пеню квитанции по дате платежа и текущему времени.
type Calculator struct {
	schedule      Schedule
	thresholdDays int
}

// NewCalculator создаёт калькулятор с указанной шкалой пени и порогом злостной просрочки.
func NewCalculator(schedule Schedule, thresholdDays int) Calculator {
	return Calculator{
		schedule:      schedule,
		thresholdDays: thresholdDays,
	}
}

// Result содержит вычисленные поля квитанции на заданный момент времени.
type Result struct {
	State          model.DueState
	PenaltyCents   int64
	DelinquentDays int
	Percent        float64
}

// Compute вычисляет состояние, пеню и число дней просрочки.
// Функция чистая: одинаковые аргументы всегда дают одинаковый результат,
// поэтому её можно звать и при каждом чтении, и в периодическом обходе.
func (c Calculator) Compute(baseCents int64, dueDate time.Time, graceDate *time.Time, now time.Time) Result {
	deadline := dueDate
	if graceDate != nil {
		deadline = *graceDate
	}

	days := daysBetween(deadline, now)
	if days <= 0 {
		return Result{State: model.DueStatePending}
	}

	state := model.DueStateOverdue
	if days >= c.thresholdDays {
		state = model.DueStateDelinquent
	}

	percent := c.schedule.Percent(days)
	penalty := int64(math.Round(float64(baseCents) * percent / 100))

	return Result{
		State:          state,
		PenaltyCents:   penalty,
		DelinquentDays: days,
		Percent:        percent,
	}
}

// daysBetween возвращает число полных календарных дней между датами.
// Сравнение идёт по датам в UTC, внутридневное время не учитывается.
func daysBetween(from, to time.Time) int {
	fy, fm, fd := from.UTC().Date()
	ty, tm, td := to.UTC().Date()

	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)

	return int(end.Sub(start) / (24 * time.Hour))
}
