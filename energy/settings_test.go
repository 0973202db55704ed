package energy_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/energy/store"
)

func TestSettings_DefaultsWhenAbsent(t *testing.T) {
	s := energy.NewSettings(store.NewMemory())
	ctx := context.Background()

	price, err := s.PricePerKWh(ctx)
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("0.3288")))

	name, err := s.String(ctx, energy.KeyLocationName, "Home")
	require.NoError(t, err)
	assert.Equal(t, "Home", name)
}

func TestSettings_SetAndRead(t *testing.T) {
	s := energy.NewSettings(store.NewMemory())
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, energy.KeyLatitude, " 49.5394 "))

	lat, err := s.Float(ctx, energy.KeyLatitude, 0)
	require.NoError(t, err)
	assert.Equal(t, 49.5394, lat)

	all, err := s.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{energy.KeyLatitude: "49.5394"}, all)
}

func TestSettings_NumericKeysValidated(t *testing.T) {
	s := energy.NewSettings(store.NewMemory())

	err := s.Set(context.Background(), energy.KeyPricePerKWh, "cheap")

	var vErr *energy.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, energy.KeyPricePerKWh, vErr.Field)
}

func TestSettings_UnparsableStoredValueFallsBack(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.SetSetting(ctx, energy.KeyPricePerKWh, "n/a"))

	price, err := energy.NewSettings(mem).PricePerKWh(ctx)
	require.NoError(t, err)
	assert.True(t, price.Equal(energy.DefaultPricePerKWh))
}

func TestParseDateAndMonth(t *testing.T) {
	d, err := energy.ParseDate("2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, energy.YearMonth("2026-03"), d.YearMonth())
	assert.Equal(t, 2026, d.Year())

	_, err = energy.ParseDate("09.03.2026")
	assert.ErrorIs(t, err, energy.ErrValidation)

	m, err := energy.ParseYearMonth("2026-03")
	require.NoError(t, err)
	assert.True(t, m.Contains(d))
	assert.False(t, m.Contains("2026-04-01"))

	_, err = energy.ParseYearMonth("2026-3")
	assert.Error(t, err)
}
