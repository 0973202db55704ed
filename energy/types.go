/*
Package energy provides the core heat-pump monitoring engine.

PURPOSE:
  This package holds the domain types and algorithms for daily meter
  readings: consumption derivation, neighbor repair on out-of-order
  mutations, dashboard aggregation and the settings lookup used to
  price consumption.

KEY CONCEPTS IN THIS FILE (types.go):
  - Date / YearMonth: calendar keys in their YYYY-MM-DD / YYYY-MM string form
  - Reading: one calendar day's meter snapshot plus derived consumption
  - NewReading / ReadingPatch: insert and partial-update inputs
  - MonthlySummary: seeded historical rollup with gas baseline

ORDERING:
  Dates are stored as zero-padded ISO strings, so lexical order equals
  chronological order. Every predecessor/successor lookup relies on that.

SEE ALSO:
  - recalc.go: Consumption recalculation on insert/update/delete
  - aggregate.go: Dashboard statistics
  - store.go: Persistence interfaces
*/
package energy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CALENDAR KEYS
// =============================================================================

const (
	dateLayout      = "2006-01-02"
	yearMonthLayout = "2006-01"
)

// Date is a calendar day in YYYY-MM-DD form.
type Date string

// ParseDate validates s and returns it as a Date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "date", Message: fmt.Sprintf("invalid date %q (use YYYY-MM-DD)", s)}
	}
	return Date(t.Format(dateLayout)), nil
}

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format(dateLayout))
}

func (d Date) String() string { return string(d) }

// Time returns midnight UTC of d. Zero time if d is malformed.
func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

// Year returns the calendar year of d.
func (d Date) Year() int { return d.Time().Year() }

// YearMonth returns the month d falls in.
func (d Date) YearMonth() YearMonth {
	if len(d) < 7 {
		return ""
	}
	return YearMonth(d[:7])
}

// YearMonth is a calendar month in YYYY-MM form.
type YearMonth string

// ParseYearMonth validates s and returns it as a YearMonth.
func ParseYearMonth(s string) (YearMonth, error) {
	t, err := time.Parse(yearMonthLayout, s)
	if err != nil {
		return "", &ValidationError{Field: "month", Message: fmt.Sprintf("invalid month %q (use YYYY-MM)", s)}
	}
	return YearMonth(t.Format(yearMonthLayout)), nil
}

// MonthOf returns the calendar month of t in t's location.
func MonthOf(t time.Time) YearMonth {
	return YearMonth(t.Format(yearMonthLayout))
}

func (m YearMonth) String() string { return string(m) }

// Contains reports whether d falls in m.
func (m YearMonth) Contains(d Date) bool {
	return m != "" && d.YearMonth() == m
}

// =============================================================================
// READINGS
// =============================================================================

// ReadingID is the surrogate key of a reading. Immutable once assigned.
type ReadingID int64

// Reading is one calendar day's meter snapshot.
//
// ConsumptionHP and ConsumptionElec are derived from the chronological
// predecessor and are nil when there is none. MeterElec is optional; an
// electricity delta only exists when both this reading and its predecessor
// carry an electricity value.
type Reading struct {
	ID              ReadingID
	Date            Date
	MeterHP         float64
	MeterElec       *float64
	ConsumptionHP   *float64
	ConsumptionElec *float64
	TempMin         *float64
	TempMax         *float64
	Notes           *string
}

// NewReading is the input for creating a reading.
type NewReading struct {
	Date      string
	MeterHP   *float64
	MeterElec *float64
	TempMin   *float64
	TempMax   *float64
	Notes     *string
}

func (n NewReading) validate() (Reading, error) {
	if n.Date == "" {
		return Reading{}, &ValidationError{Field: "date", Message: "date is required"}
	}
	date, err := ParseDate(n.Date)
	if err != nil {
		return Reading{}, err
	}
	if n.MeterHP == nil {
		return Reading{}, &ValidationError{Field: "meter_hp", Message: "meter_hp is required"}
	}
	notes := n.Notes
	if notes != nil && *notes == "" {
		notes = nil
	}
	return Reading{
		Date:      date,
		MeterHP:   *n.MeterHP,
		MeterElec: n.MeterElec,
		TempMin:   n.TempMin,
		TempMax:   n.TempMax,
		Notes:     notes,
	}, nil
}

// ReadingPatch is a partial update. Nil fields keep their stored value.
type ReadingPatch struct {
	Date      *string
	MeterHP   *float64
	MeterElec *float64
	TempMin   *float64
	TempMax   *float64
	Notes     *string
}

// apply merges p over r. Derived fields are left for the caller to recompute.
func (p ReadingPatch) apply(r Reading) (Reading, error) {
	if p.Date != nil && *p.Date != "" {
		d, err := ParseDate(*p.Date)
		if err != nil {
			return Reading{}, err
		}
		r.Date = d
	}
	if p.MeterHP != nil {
		r.MeterHP = *p.MeterHP
	}
	if p.MeterElec != nil {
		r.MeterElec = p.MeterElec
	}
	if p.TempMin != nil {
		r.TempMin = p.TempMin
	}
	if p.TempMax != nil {
		r.TempMax = p.TempMax
	}
	if p.Notes != nil {
		r.Notes = p.Notes
	}
	return r, nil
}

// ReadingFilter selects a page of readings for listing.
// An empty Month lists all readings.
type ReadingFilter struct {
	Month  YearMonth
	Limit  int
	Offset int
}

// =============================================================================
// MONTHLY SUMMARY
// =============================================================================

// MonthlySummary is a historical rollup seeded once at first start.
// GasComparison is what the same heat would have cost with the previous
// gas heating.
type MonthlySummary struct {
	ID            int64
	Year          int
	Month         int
	KWTotal       *float64
	AvgDaily      *float64
	TotalCost     *float64
	GasComparison *float64
}

// =============================================================================
// HELPERS
// =============================================================================

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

// roundFloat rounds v to places decimals using decimal arithmetic.
func roundFloat(v decimal.Decimal, places int32) float64 {
	f, _ := v.Round(places).Float64()
	return f
}
