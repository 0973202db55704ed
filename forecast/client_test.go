package forecast_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/forecast"
)

var kindenheim = forecast.Location{Latitude: 49.5394, Longitude: 8.1936, Timezone: "UTC"}

type fakeMeteo struct {
	server *httptest.Server
	calls  atomic.Int32
	last   atomic.Value // url.Values encoded
}

func newFakeMeteo(t *testing.T, status int, body string) *fakeMeteo {
	t.Helper()
	f := &fakeMeteo{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		f.last.Store(r.URL.RawQuery)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newClient(f *fakeMeteo, now time.Time) *forecast.Client {
	return forecast.New(forecast.Options{
		BaseURL: f.server.URL,
		Now:     func() time.Time { return now },
	})
}

func TestDailyTemperature(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK,
		`{"daily":{"time":["2026-03-09"],"temperature_2m_max":[11.4],"temperature_2m_min":[-1.2]}}`)
	c := newClient(f, time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC))

	temp, err := c.DailyTemperature(context.Background(), kindenheim, "2026-03-09")
	require.NoError(t, err)

	assert.Equal(t, energy.Date("2026-03-09"), temp.Date)
	require.NotNil(t, temp.Max)
	assert.Equal(t, 11.4, *temp.Max)
	assert.Equal(t, -1.2, *temp.Min)

	query := f.last.Load().(string)
	assert.Contains(t, query, "daily=temperature_2m_max%2Ctemperature_2m_min")
	assert.Contains(t, query, "start_date=2026-03-09")
	assert.Contains(t, query, "latitude=49.5394")
}

func TestDailyTemperature_Cached(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK,
		`{"daily":{"time":["2026-03-09"],"temperature_2m_max":[11],"temperature_2m_min":[2]}}`)
	now := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	clock := &now
	c := forecast.New(forecast.Options{BaseURL: f.server.URL, Now: func() time.Time { return *clock }})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := c.DailyTemperature(ctx, kindenheim, "2026-03-09")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())

	*clock = now.Add(61 * time.Minute)
	_, err := c.DailyTemperature(ctx, kindenheim, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.calls.Load(), "entry expires after an hour")
}

func TestDailyTemperature_NullValues(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK,
		`{"daily":{"time":["2026-03-09"],"temperature_2m_max":[null],"temperature_2m_min":[]}}`)
	c := newClient(f, time.Now())

	temp, err := c.DailyTemperature(context.Background(), kindenheim, "2026-03-09")
	require.NoError(t, err)
	assert.Nil(t, temp.Max)
	assert.Nil(t, temp.Min)
}

func TestUpstreamFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   int
	}{
		{"server error", http.StatusInternalServerError, `{"error":true}`, 500},
		{"bad request", http.StatusBadRequest, `{"reason":"bad date"}`, 400},
		{"garbage body", http.StatusOK, `<html>`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeMeteo(t, tt.status, tt.body)
			c := newClient(f, time.Now())

			_, err := c.Solar(context.Background(), kindenheim, "2026-03-09")

			var upErr *energy.UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, "open-meteo", upErr.Service)
			assert.Equal(t, tt.code, upErr.Status)
			assert.ErrorIs(t, err, energy.ErrUpstream)
		})
	}
}

func TestUpstreamUnreachable(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK, `{}`)
	f.server.Close()
	c := newClient(f, time.Now())

	_, err := c.DailyTemperature(context.Background(), kindenheim, "2026-03-09")
	assert.ErrorIs(t, err, energy.ErrUpstream)
}

func solarBody() string {
	times := make([]string, 24)
	cloud := make([]string, 24)
	direct := make([]string, 24)
	for h := 0; h < 24; h++ {
		times[h] = fmt.Sprintf(`"2026-03-09T%02d:00"`, h)
		cloud[h] = "100"
		direct[h] = "0"
		if h >= 7 && h <= 19 {
			cloud[h] = "40"
			direct[h] = fmt.Sprint(h * 10)
		}
	}
	return fmt.Sprintf(`{
		"daily": {"sunshine_duration": [22500], "shortwave_radiation_sum": [12.4], "uv_index_max": [3.27]},
		"hourly": {"time": [%s], "cloud_cover": [%s], "direct_radiation": [%s]}
	}`, strings.Join(times, ","), strings.Join(cloud, ","), strings.Join(direct, ","))
}

func TestSolar(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK, solarBody())
	c := newClient(f, time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))

	s, err := c.Solar(context.Background(), kindenheim, "2026-03-09")
	require.NoError(t, err)

	assert.True(t, s.IsToday)
	assert.Equal(t, 6.3, s.SunshineHours)  // 22500 s = 6.25 h
	assert.Equal(t, 12.0, s.RadiationSum)  // rounded MJ/m²
	assert.Equal(t, 3.3, s.UVMax)
	assert.Equal(t, 40.0, s.AvgCloudCover) // night hours excluded
	assert.Equal(t, 190.0, s.PeakRadiation)
	assert.Equal(t, 12.5, s.EstimatedYieldKWh) // 12 * 0.278 * 5 * 0.75 = 12.51

	require.Len(t, s.Hourly.Hours, 24)
	assert.Equal(t, "0:00", s.Hourly.Hours[0])
	assert.Equal(t, "7:00", s.Hourly.Hours[7])
	assert.Equal(t, "23:00", s.Hourly.Hours[23])

	query := f.last.Load().(string)
	assert.Contains(t, query, "hourly=cloud_cover%2Cdirect_radiation")
}

func TestSolar_NotToday(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK, solarBody())
	c := newClient(f, time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC))

	s, err := c.Solar(context.Background(), kindenheim, "2026-03-09")
	require.NoError(t, err)
	assert.False(t, s.IsToday)
}

func TestSolar_CustomPVSystem(t *testing.T) {
	f := newFakeMeteo(t, http.StatusOK, solarBody())
	c := forecast.New(forecast.Options{
		BaseURL: f.server.URL,
		PV:      forecast.PVSystem{PeakKW: 10, Efficiency: 0.8},
	})

	s, err := c.Solar(context.Background(), kindenheim, "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 26.7, s.EstimatedYieldKWh) // 12 * 0.278 * 10 * 0.8 = 26.688
}
