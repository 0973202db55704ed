/*
seed.go - First-start import of historical data

PURPOSE:
  Loads a SEED_DATA.json export into an empty database: daily meter
  readings with their derived consumption, the historical monthly
  summaries and the default settings.

FILE FORMAT:
  {
    "daily_readings":  [{"date": "2025-10-01", "meter_hp": 1234.5, "meter_elec": 88.1, "weather": "14;6"}],
    "monthly_summary": [{"year": 2025, "month": 10, "kw_mo": 310, "kw_tag": 10, "euro_mo": 101.9, "mon_cost": 140}],
    "gas_comparison":  {"price_per_kwh": 0.3288, "gas_24_25": [180, 160, ...]}
  }

  "weather" is "max;min" in °C.

IDEMPOTENCY:
  Readings are only imported while daily_readings is empty. Every insert is
  INSERT OR IGNORE, so re-running never overwrites user edits. Default
  settings are written even without a seed file.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/kindenheim/heatpump-monitor/energy"
)

// Default location written on first start.
const (
	DefaultLatitude     = "49.5394"
	DefaultLongitude    = "8.1936"
	DefaultLocationName = "Kindenheim"
)

type seedFile struct {
	DailyReadings  []seedReading `json:"daily_readings"`
	MonthlySummary []seedSummary `json:"monthly_summary"`
	GasComparison  struct {
		PricePerKWh *float64   `json:"price_per_kwh"`
		Gas2425     []*float64 `json:"gas_24_25"`
	} `json:"gas_comparison"`
}

type seedReading struct {
	Date      string   `json:"date"`
	MeterHP   float64  `json:"meter_hp"`
	MeterElec *float64 `json:"meter_elec"`
	Weather   string   `json:"weather"`
}

type seedSummary struct {
	Year    int      `json:"year"`
	Month   int      `json:"month"`
	KWMonth *float64 `json:"kw_mo"`
	KWDay   *float64 `json:"kw_tag"`
	EuroMo  *float64 `json:"euro_mo"`
	MonCost *float64 `json:"mon_cost"`
}

// SeedResult reports what Seed imported.
type SeedResult struct {
	Readings  int
	Summaries int
}

// Seed imports the seed file at path. Readings are imported only into an
// empty readings table; summaries and settings are insert-or-ignore on every
// call. A missing file is not an error; only the default settings are written.
func (s *Store) Seed(ctx context.Context, path string) (SeedResult, error) {
	var res SeedResult

	seed, err := loadSeedFile(path)
	if err != nil {
		return res, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_readings").Scan(&count); err != nil {
		return res, fmt.Errorf("failed to count readings: %w", err)
	}

	price := energy.DefaultPricePerKWh.String()
	if seed != nil {
		if count == 0 {
			if res.Readings, err = seedReadings(ctx, tx, seed.DailyReadings); err != nil {
				return res, err
			}
		}
		// Summaries are keyed by (year, month); months already present are kept.
		if res.Summaries, err = seedSummaries(ctx, tx, seed); err != nil {
			return res, err
		}
		if p := seed.GasComparison.PricePerKWh; p != nil && *p > 0 {
			price = strconv.FormatFloat(*p, 'f', -1, 64)
		}
	}

	defaults := []struct{ key, value string }{
		{energy.KeyPricePerKWh, price},
		{energy.KeyLatitude, DefaultLatitude},
		{energy.KeyLongitude, DefaultLongitude},
		{energy.KeyLocationName, DefaultLocationName},
	}
	for _, d := range defaults {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)", d.key, d.value); err != nil {
			return res, fmt.Errorf("failed to seed setting %s: %w", d.key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("failed to commit seed: %w", err)
	}
	return res, nil
}

func loadSeedFile(path string) (*seedFile, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

// seedReadings inserts readings in date order, deriving consumption from the
// previous row of the file.
func seedReadings(ctx context.Context, tx *sql.Tx, in []seedReading) (int, error) {
	sorted := make([]seedReading, len(in))
	copy(sorted, in)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date < sorted[j].Date })

	var (
		prev     *energy.Reading
		inserted int
	)
	for _, sr := range sorted {
		date, err := energy.ParseDate(sr.Date)
		if err != nil {
			return inserted, fmt.Errorf("seed reading: %w", err)
		}
		r := energy.Reading{Date: date, MeterHP: sr.MeterHP, MeterElec: sr.MeterElec}
		r.TempMax, r.TempMin = parseWeather(sr.Weather)
		r.ConsumptionHP, r.ConsumptionElec = energy.Consumption(r, prev)

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO daily_readings
			(date, meter_hp, meter_elec, consumption_hp, consumption_elec, temp_min, temp_max)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`,
			string(r.Date), r.MeterHP, nullFloat(r.MeterElec),
			nullFloat(r.ConsumptionHP), nullFloat(r.ConsumptionElec),
			nullFloat(r.TempMin), nullFloat(r.TempMax),
		)
		if err != nil {
			return inserted, fmt.Errorf("failed to seed reading %s: %w", r.Date, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
			prev = &r
		}
	}
	return inserted, nil
}

func seedSummaries(ctx context.Context, tx *sql.Tx, seed *seedFile) (int, error) {
	var inserted int
	for _, m := range seed.MonthlySummary {
		gas := m.MonCost
		if i := m.Month - 1; i >= 0 && i < len(seed.GasComparison.Gas2425) && seed.GasComparison.Gas2425[i] != nil {
			gas = seed.GasComparison.Gas2425[i]
		}

		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO monthly_summary
			(year, month, kw_total, avg_daily, total_cost, gas_comparison)
			VALUES (?, ?, ?, ?, ?, ?)
		`, m.Year, m.Month, nullFloat(m.KWMonth), nullFloat(m.KWDay), nullFloat(m.EuroMo), nullFloat(gas))
		if err != nil {
			return inserted, fmt.Errorf("failed to seed summary %d-%02d: %w", m.Year, m.Month, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// parseWeather splits "max;min". Unparsable parts are nil.
func parseWeather(w string) (tempMax, tempMin *float64) {
	if w == "" {
		return nil, nil
	}
	parts := strings.SplitN(w, ";", 2)
	parse := func(s string) *float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		return &v
	}
	tempMax = parse(parts[0])
	if len(parts) == 2 {
		tempMin = parse(parts[1])
	}
	return tempMax, tempMin
}
