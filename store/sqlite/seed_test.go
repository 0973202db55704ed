package sqlite_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/store/sqlite"
)

const seedJSON = `{
  "daily_readings": [
    {"date": "2025-10-02", "meter_hp": 1012.5, "meter_elec": 203, "weather": "15;7"},
    {"date": "2025-10-01", "meter_hp": 1000, "meter_elec": 200, "weather": "14;6"},
    {"date": "2025-10-03", "meter_hp": 1030, "weather": ""}
  ],
  "monthly_summary": [
    {"year": 2025, "month": 1, "kw_mo": 600, "kw_tag": 19.4, "euro_mo": 197.3, "mon_cost": 250},
    {"year": 2025, "month": 2, "kw_mo": 500, "kw_tag": 17.9, "euro_mo": 164.4, "mon_cost": 210}
  ],
  "gas_comparison": {"price_per_kwh": 0.31, "gas_24_25": [230]}
}`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "SEED_DATA.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSeed_ImportsReadingsInDateOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Seed(ctx, writeSeed(t, seedJSON))
	require.NoError(t, err)
	assert.Equal(t, sqlite.SeedResult{Readings: 3, Summaries: 2}, res)

	month, err := s.ReadingsInMonth(ctx, "2025-10")
	require.NoError(t, err)
	require.Len(t, month, 3)

	assert.Nil(t, month[0].ConsumptionHP)
	require.NotNil(t, month[0].TempMax)
	assert.Equal(t, 14.0, *month[0].TempMax)
	assert.Equal(t, 6.0, *month[0].TempMin)

	assert.Equal(t, 12.5, *month[1].ConsumptionHP)
	assert.Equal(t, 3.0, *month[1].ConsumptionElec)

	assert.Equal(t, 17.5, *month[2].ConsumptionHP)
	assert.Nil(t, month[2].ConsumptionElec, "no electricity value on either side")
	assert.Nil(t, month[2].TempMax)
}

func TestSeed_SummariesUseGasBaseline(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, writeSeed(t, seedJSON))
	require.NoError(t, err)

	summaries, err := s.MonthlySummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, 230.0, *summaries[0].GasComparison, "taken from gas_24_25")
	assert.Equal(t, 210.0, *summaries[1].GasComparison, "falls back to mon_cost")
	assert.Equal(t, 19.4, *summaries[0].AvgDaily)
}

func TestSeed_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.Seed(ctx, writeSeed(t, seedJSON))
	require.NoError(t, err)

	all, err := s.ListSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		energy.KeyPricePerKWh:  "0.31",
		energy.KeyLatitude:     sqlite.DefaultLatitude,
		energy.KeyLongitude:    sqlite.DefaultLongitude,
		energy.KeyLocationName: sqlite.DefaultLocationName,
	}, all)
}

func TestSeed_MissingFileWritesDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	res, err := s.Seed(ctx, filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Zero(t, res.Readings)

	v, ok, err := s.GetSetting(ctx, energy.KeyPricePerKWh)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "0.3288", v)
}

func TestSeed_SkipsNonEmptyDatabase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := energy.NewRecalculator(s).Insert(ctx, energy.NewReading{Date: "2026-01-01", MeterHP: energy.Float(5000)})
	require.NoError(t, err)
	require.NoError(t, s.SetSetting(ctx, energy.KeyPricePerKWh, "0.40"))

	res, err := s.Seed(ctx, writeSeed(t, seedJSON))
	require.NoError(t, err)
	assert.Zero(t, res.Readings)
	assert.Equal(t, 2, res.Summaries, "summaries are imported even when readings exist")

	_, total, err := s.ListReadings(ctx, energy.ReadingFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	v, _, err := s.GetSetting(ctx, energy.KeyPricePerKWh)
	require.NoError(t, err)
	assert.Equal(t, "0.40", v, "existing settings are never overwritten")
}

func TestSeed_RepeatedStartIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	path := writeSeed(t, seedJSON)

	_, err := s.Seed(ctx, path)
	require.NoError(t, err)
	res, err := s.Seed(ctx, path)
	require.NoError(t, err)

	assert.Equal(t, sqlite.SeedResult{}, res)
	summaries, err := s.MonthlySummaries(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)
}

func TestSeed_InvalidJSON(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Seed(context.Background(), writeSeed(t, "{not json"))
	assert.Error(t, err)
}
