package energy

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Known setting keys.
const (
	KeyPricePerKWh  = "price_per_kwh"
	KeyLatitude     = "latitude"
	KeyLongitude    = "longitude"
	KeyLocationName = "location_name"
)

// DefaultPricePerKWh is used when no price is stored.
var DefaultPricePerKWh = decimal.RequireFromString("0.3288")

// numericKeys must hold values that parse as decimals.
var numericKeys = map[string]bool{
	KeyPricePerKWh: true,
	KeyLatitude:    true,
	KeyLongitude:   true,
}

// Settings reads typed values from a SettingsStore with caller defaults.
type Settings struct {
	store SettingsStore
}

// NewSettings wraps store.
func NewSettings(store SettingsStore) *Settings {
	return &Settings{store: store}
}

// String returns the value of key, or def when absent.
func (s *Settings) String(ctx context.Context, key, def string) (string, error) {
	v, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return "", fmt.Errorf("get setting %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// Decimal returns key parsed as a decimal. Absent or unparsable values
// yield def.
func (s *Settings) Decimal(ctx context.Context, key string, def decimal.Decimal) (decimal.Decimal, error) {
	v, ok, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get setting %s: %w", key, err)
	}
	if !ok {
		return def, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return def, nil
	}
	return d, nil
}

// Float is Decimal for callers that work in float64.
func (s *Settings) Float(ctx context.Context, key string, def float64) (float64, error) {
	d, err := s.Decimal(ctx, key, decimal.NewFromFloat(def))
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// PricePerKWh returns the configured electricity price.
func (s *Settings) PricePerKWh(ctx context.Context) (decimal.Decimal, error) {
	return s.Decimal(ctx, KeyPricePerKWh, DefaultPricePerKWh)
}

// Set stores value under key. Numeric keys must parse as numbers.
func (s *Settings) Set(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &ValidationError{Field: "key", Message: "setting key is required"}
	}
	value = strings.TrimSpace(value)
	if numericKeys[key] {
		if _, err := decimal.NewFromString(value); err != nil {
			return &ValidationError{Field: key, Message: fmt.Sprintf("%s must be a number, got %q", key, value)}
		}
	}
	return s.store.SetSetting(ctx, key, value)
}

// All returns every stored setting.
func (s *Settings) All(ctx context.Context) (map[string]string, error) {
	return s.store.ListSettings(ctx)
}
