package forecast

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kindenheim/heatpump-monitor/energy"
)

// Daytime window (inclusive) used for the average cloud cover.
const (
	dayStartHour = 7
	dayEndHour   = 19
)

// mjToKWh converts MJ/m² to kWh/m².
var mjToKWh = decimal.RequireFromString("0.278")

// Solar is the solar outlook for one day.
type Solar struct {
	Date              energy.Date
	IsToday           bool
	SunshineHours     float64
	RadiationSum      float64 // MJ/m², rounded to an integer
	UVMax             float64
	AvgCloudCover     float64 // percent, daytime hours only
	PeakRadiation     float64 // W/m²
	EstimatedYieldKWh float64
	Hourly            SolarHourly
}

// SolarHourly holds parallel hourly series for charting.
type SolarHourly struct {
	Hours           []string
	CloudCover      []float64
	DirectRadiation []float64
}

type solarResponse struct {
	Daily struct {
		SunshineDuration []*float64 `json:"sunshine_duration"`
		RadiationSum     []*float64 `json:"shortwave_radiation_sum"`
		UVIndexMax       []*float64 `json:"uv_index_max"`
	} `json:"daily"`
	Hourly struct {
		Time            []string   `json:"time"`
		CloudCover      []*float64 `json:"cloud_cover"`
		DirectRadiation []*float64 `json:"direct_radiation"`
	} `json:"hourly"`
}

// Solar returns the solar outlook for date at loc.
func (c *Client) Solar(ctx context.Context, loc Location, date energy.Date) (Solar, error) {
	key := "solar:" + string(date) + "@" + loc.key()
	if s, ok := c.solars.get(key); ok {
		s.IsToday = date == c.Today(loc)
		return s, nil
	}

	q := c.query(loc, date)
	q.Set("daily", "sunshine_duration,shortwave_radiation_sum,uv_index_max")
	q.Set("hourly", "cloud_cover,direct_radiation")

	var resp solarResponse
	if err := c.get(ctx, q, &resp); err != nil {
		return Solar{}, err
	}

	s := summarizeSolar(date, resp, c.pv)
	c.solars.put(key, s)
	s.IsToday = date == c.Today(loc)
	return s, nil
}

func summarizeSolar(date energy.Date, resp solarResponse, pv PVSystem) Solar {
	sunshineSeconds := deref(first(resp.Daily.SunshineDuration))
	radiation := round(deref(first(resp.Daily.RadiationSum)), 0)

	s := Solar{
		Date:          date,
		SunshineHours: round(sunshineSeconds/3600, 1),
		RadiationSum:  radiation,
		UVMax:         round(deref(first(resp.Daily.UVIndexMax)), 1),
		Hourly: SolarHourly{
			Hours:           make([]string, 0, len(resp.Hourly.Time)),
			CloudCover:      values(resp.Hourly.CloudCover),
			DirectRadiation: values(resp.Hourly.DirectRadiation),
		},
	}

	for _, ts := range resp.Hourly.Time {
		s.Hourly.Hours = append(s.Hourly.Hours, hourLabel(ts))
	}

	var cloudSum float64
	var cloudN int
	for i, v := range s.Hourly.CloudCover {
		if i >= dayStartHour && i <= dayEndHour {
			cloudSum += v
			cloudN++
		}
	}
	if cloudN > 0 {
		s.AvgCloudCover = round(cloudSum/float64(cloudN), 0)
	}

	for i, v := range s.Hourly.DirectRadiation {
		if i == 0 || v > s.PeakRadiation {
			s.PeakRadiation = v
		}
	}
	s.PeakRadiation = round(s.PeakRadiation, 0)

	yield := decimal.NewFromFloat(radiation).
		Mul(mjToKWh).
		Mul(decimal.NewFromFloat(pv.PeakKW)).
		Mul(decimal.NewFromFloat(pv.Efficiency))
	s.EstimatedYieldKWh, _ = yield.Round(1).Float64()

	return s
}

// hourLabel turns "2026-03-09T07:00" into "7:00".
func hourLabel(ts string) string {
	t, err := time.Parse("2006-01-02T15:04", ts)
	if err != nil {
		return ts
	}
	return strconv.Itoa(t.Hour()) + ":00"
}

// values flattens a series, counting missing samples as 0.
func values(vs []*float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = deref(v)
	}
	return out
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
