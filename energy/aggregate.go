/*
aggregate.go - Dashboard statistics

PURPOSE:
  Read-only rollups over the reading store: current month totals and cost,
  yearly totals, plus the raw series the dashboard charts.

ROUNDING:
  Sums and averages are computed in decimal at full precision and rounded
  once when the result is built: one decimal for kWh and temperature, two
  for money.

TEMPERATURE:
  The monthly average temperature counts a missing min or max as 0, like
  the historical dashboard did. Months without readings have no average.

MONTHLY SUMMARIES:
  Historical months come from the seeded monthly_summary table and are
  passed through untouched. Only the current month is computed live.
*/
package energy

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// MonthStats summarises one calendar month of readings.
type MonthStats struct {
	Month    YearMonth
	KWh      float64
	Cost     float64
	AvgDaily float64
	AvgTemp  *float64
	Days     int
}

// YearTotal summarises the readings of one calendar year.
type YearTotal struct {
	Year     int
	TotalKWh float64
	AvgDaily float64
	Days     int
}

// Dashboard is everything the statistics page needs in one payload.
type Dashboard struct {
	CurrentMonth     MonthStats
	PricePerKWh      float64
	History          []Reading
	MonthlySummaries []MonthlySummary
	LastReading      *Reading
	Yearly           []YearTotal
}

// Aggregator computes dashboard statistics on demand.
type Aggregator struct {
	readings ReadingQuerier
	settings *Settings
	now      func() time.Time
}

// NewAggregator creates an aggregator. now defaults to time.Now.
func NewAggregator(readings ReadingQuerier, settings *Settings, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{readings: readings, settings: settings, now: now}
}

// Dashboard builds the statistics for the month containing now.
func (a *Aggregator) Dashboard(ctx context.Context) (Dashboard, error) {
	month := MonthOf(a.now())

	price, err := a.settings.PricePerKWh(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	inMonth, err := a.readings.ReadingsInMonth(ctx, month)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load month %s: %w", month, err)
	}
	history, err := a.readings.ConsumptionHistory(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load consumption history: %w", err)
	}
	summaries, err := a.readings.MonthlySummaries(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load monthly summaries: %w", err)
	}
	last, err := a.readings.LatestReading(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("load latest reading: %w", err)
	}

	priceF, _ := price.Float64()
	return Dashboard{
		CurrentMonth:     MonthlyStats(month, inMonth, price),
		PricePerKWh:      priceF,
		History:          history,
		MonthlySummaries: summaries,
		LastReading:      last,
		Yearly:           YearlyTotals(history),
	}, nil
}

// MonthlyStats rolls up readings for month m priced at price.
// Readings outside m are ignored.
func MonthlyStats(m YearMonth, readings []Reading, price decimal.Decimal) MonthStats {
	total := decimal.Zero
	tempSum := decimal.Zero
	days, inMonth := 0, 0

	for _, r := range readings {
		if !m.Contains(r.Date) {
			continue
		}
		inMonth++
		if r.ConsumptionHP != nil {
			total = total.Add(decimal.NewFromFloat(*r.ConsumptionHP))
			days++
		}
		tempSum = tempSum.Add(decimal.NewFromFloat(deref(r.TempMax)).
			Add(decimal.NewFromFloat(deref(r.TempMin))).
			Div(decimal.NewFromInt(2)))
	}

	stats := MonthStats{
		Month: m,
		KWh:   roundFloat(total, 1),
		Cost:  roundFloat(total.Mul(price), 2),
		Days:  days,
	}
	if days > 0 {
		stats.AvgDaily = roundFloat(total.Div(decimal.NewFromInt(int64(days))), 1)
	}
	if inMonth > 0 {
		avg := roundFloat(tempSum.Div(decimal.NewFromInt(int64(inMonth))), 1)
		stats.AvgTemp = &avg
	}
	return stats
}

// YearlyTotals groups readings with a heat-pump consumption by calendar
// year, ascending.
func YearlyTotals(readings []Reading) []YearTotal {
	type acc struct {
		sum  decimal.Decimal
		days int
	}
	byYear := make(map[int]*acc)
	for _, r := range readings {
		if r.ConsumptionHP == nil {
			continue
		}
		y := r.Date.Year()
		a, ok := byYear[y]
		if !ok {
			a = &acc{sum: decimal.Zero}
			byYear[y] = a
		}
		a.sum = a.sum.Add(decimal.NewFromFloat(*r.ConsumptionHP))
		a.days++
	}

	years := make([]int, 0, len(byYear))
	for y := range byYear {
		years = append(years, y)
	}
	sort.Ints(years)

	out := make([]YearTotal, 0, len(years))
	for _, y := range years {
		a := byYear[y]
		out = append(out, YearTotal{
			Year:     y,
			TotalKWh: roundFloat(a.sum, 1),
			AvgDaily: roundFloat(a.sum.Div(decimal.NewFromInt(int64(a.days))), 1),
			Days:     a.days,
		})
	}
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
