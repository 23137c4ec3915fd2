// Package fines derives overdue penalties from loan returns.
package fines

import (
	"fmt"
	"time"

	"libracirc/internal/calendar"
)

// DefaultDailyRate is 5.00 per overdue day, in cents.
const DefaultDailyRate int64 = 500

// Calculator turns an overdue return into a penalty. The rate comes from configuration.
type Calculator struct {
	DailyRate int64
}

// NewCalculator returns a calculator charging dailyRate cents per overdue day.
func NewCalculator(dailyRate int64) (*Calculator, error) {
	if dailyRate < 0 {
		return nil, fmt.Errorf("daily fine rate must not be negative, got %d", dailyRate)
	}
	return &Calculator{DailyRate: dailyRate}, nil
}

// Assessment is the outcome of an overdue return.
type Assessment struct {
	DaysOverdue int
	Amount      int64
}

// Assess compares the recorded return date against the due date. It reports false when
// the loan came back on time, in which case no fine exists.
func (c *Calculator) Assess(dueDate, returnDate time.Time) (Assessment, bool) {
	days := calendar.DaysBetween(dueDate, returnDate)
	if days <= 0 {
		return Assessment{}, false
	}
	return Assessment{DaysOverdue: days, Amount: int64(days) * c.DailyRate}, true
}

// FormatAmount renders cents as a decimal string, e.g. 3000 -> "30.00".
func FormatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// ToUnits converts cents into a float for JSON responses.
func ToUnits(cents int64) float64 {
	return float64(cents) / 100
}
