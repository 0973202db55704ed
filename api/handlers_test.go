/*
handlers_test.go - HTTP tests for the API handlers

Runs the full router against the in-memory store with fake forecast and
OCR clients.
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kindenheim/heatpump-monitor/api"
	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/energy/store"
	"github.com/kindenheim/heatpump-monitor/forecast"
	"github.com/kindenheim/heatpump-monitor/ocr"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeForecast struct {
	temp     forecast.Temperature
	solar    forecast.Solar
	err      error
	today    energy.Date
	lastLoc  forecast.Location
	lastDate energy.Date
}

func (f *fakeForecast) DailyTemperature(_ context.Context, loc forecast.Location, date energy.Date) (forecast.Temperature, error) {
	f.lastLoc, f.lastDate = loc, date
	if f.err != nil {
		return forecast.Temperature{}, f.err
	}
	t := f.temp
	t.Date = date
	return t, nil
}

func (f *fakeForecast) Solar(_ context.Context, loc forecast.Location, date energy.Date) (forecast.Solar, error) {
	f.lastLoc, f.lastDate = loc, date
	if f.err != nil {
		return forecast.Solar{}, f.err
	}
	s := f.solar
	s.Date = date
	return s, nil
}

func (f *fakeForecast) Today(forecast.Location) energy.Date { return f.today }

type fakeOCR struct {
	result   ocr.Result
	err      error
	gotHint  ocr.Hint
	gotImage []byte
	gotMime  string
}

func (f *fakeOCR) Read(_ context.Context, image []byte, mimeType string, hint ocr.Hint) (ocr.Result, error) {
	f.gotImage, f.gotMime, f.gotHint = image, mimeType, hint
	if f.err != nil {
		return ocr.Result{}, f.err
	}
	res := f.result
	res.LastValues = hint
	return res, nil
}

// =============================================================================
// HARNESS
// =============================================================================

type testEnv struct {
	server   *httptest.Server
	mem      *store.Memory
	forecast *fakeForecast
	ocr      *fakeOCR
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		mem:      store.NewMemory(),
		forecast: &fakeForecast{today: "2026-03-15"},
		ocr:      &fakeOCR{},
	}
	h := api.NewHandler(api.Deps{
		Store:    env.mem,
		Forecast: env.forecast,
		OCR:      env.ocr,
		Location: forecast.Location{Latitude: 1, Longitude: 2, Timezone: "Europe/Berlin"},
		Now:      func() time.Time { return time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC) },
	})
	env.server = httptest.NewServer(api.NewRouter(h, api.RouterOptions{StaticDir: t.TempDir()}))
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, e.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) create(t *testing.T, date string, hp float64) int64 {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/readings", map[string]any{"date": date, "meter_hp": hp})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[api.CreateReadingResponse](t, resp).ID
}

func (e *testEnv) reading(t *testing.T, id int64) api.ReadingDTO {
	t.Helper()
	resp := e.do(t, http.MethodGet, "/api/readings/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return decode[api.ReadingDTO](t, resp)
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

// =============================================================================
// READINGS
// =============================================================================

func TestCreateReading_ConsumptionAndRebase(t *testing.T) {
	// GIVEN: two readings with a gap
	env := newTestEnv(t)
	env.create(t, "2026-01-01", 1000)
	last := env.create(t, "2026-01-03", 1030)

	// WHEN: the gap is filled
	mid := env.create(t, "2026-01-02", 1012)

	// THEN
	assert.Equal(t, 12.0, *env.reading(t, mid).ConsumptionHP)
	assert.Equal(t, 18.0, *env.reading(t, last).ConsumptionHP)
}

func TestCreateReading_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-01-01", 1000)
	env.create(t, "2026-01-03", 1020)

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"regression", map[string]any{"date": "2026-01-04", "meter_hp": 1015}, http.StatusBadRequest},
		{"duplicate", map[string]any{"date": "2026-01-01", "meter_hp": 1000}, http.StatusConflict},
		{"missing meter", map[string]any{"date": "2026-01-05"}, http.StatusBadRequest},
		{"missing date", map[string]any{"meter_hp": 1100}, http.StatusBadRequest},
		{"bad date", map[string]any{"date": "05.01.2026", "meter_hp": 1100}, http.StatusBadRequest},
		{"not json", "[", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/readings", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			errResp := decode[api.ErrorResponse](t, resp)
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestCreateReading_RegressionDetails(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-01-03", 1020)

	resp := env.do(t, http.MethodPost, "/api/readings", map[string]any{"date": "2026-01-04", "meter_hp": 1015})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errResp := decode[api.ErrorResponse](t, resp)
	assert.Contains(t, errResp.Error, "1020")
	details := errResp.Details.(map[string]any)
	assert.Equal(t, 1020.0, details["minimum"])
	assert.Equal(t, "2026-01-03", details["previous_date"])
}

func TestCreateReading_WeatherAutofill(t *testing.T) {
	env := newTestEnv(t)
	env.forecast.temp = forecast.Temperature{Max: energy.Float(9.5), Min: energy.Float(-1)}

	resp := env.do(t, http.MethodPost, "/api/readings",
		map[string]any{"date": "2026-03-09", "meter_hp": 1000, "autofill_weather": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	r := env.reading(t, decode[api.CreateReadingResponse](t, resp).ID)
	assert.Equal(t, 9.5, *r.TempMax)
	assert.Equal(t, -1.0, *r.TempMin)
	assert.Equal(t, energy.Date("2026-03-09"), env.forecast.lastDate)
}

func TestCreateReading_AutofillFailureIsSilent(t *testing.T) {
	env := newTestEnv(t)
	env.forecast.err = &energy.UpstreamError{Service: "open-meteo", Status: 503, Err: errors.New("down")}

	resp := env.do(t, http.MethodPost, "/api/readings",
		map[string]any{"date": "2026-03-09", "meter_hp": 1000, "autofill_weather": true})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	r := env.reading(t, decode[api.CreateReadingResponse](t, resp).ID)
	assert.Nil(t, r.TempMax)
	assert.Nil(t, r.TempMin)
}

func TestListReadings(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-01-31", 1000)
	env.create(t, "2026-02-01", 1010)
	env.create(t, "2026-02-02", 1020)

	resp := env.do(t, http.MethodGet, "/api/readings?month=2026-02&limit=1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	list := decode[api.ListReadingsResponse](t, resp)
	assert.Equal(t, 2, list.Total)
	require.Len(t, list.Readings, 1)
	assert.Equal(t, "2026-02-02", list.Readings[0].Date)
}

func TestListReadings_EmptyIsArray(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/readings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"readings": [], "total": 0}`, string(body))
}

func TestListReadings_BadParams(t *testing.T) {
	env := newTestEnv(t)

	for _, q := range []string{"?month=2026-2", "?limit=0", "?limit=1001", "?limit=x", "?offset=-1"} {
		resp := env.do(t, http.MethodGet, "/api/readings"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestGetReading_NotFoundAndBadID(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/readings/99", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/readings/abc", nil).StatusCode)
}

func TestUpdateReading_Scenario(t *testing.T) {
	// GIVEN: 1000, 1020, 1045
	env := newTestEnv(t)
	env.create(t, "2026-01-01", 1000)
	mid := env.create(t, "2026-01-02", 1020)
	last := env.create(t, "2026-01-03", 1045)

	// WHEN
	resp := env.do(t, http.MethodPut, "/api/readings/"+itoa(mid), map[string]any{"meter_hp": 1030, "notes": "korrigiert"})

	// THEN
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[api.SuccessResponse](t, resp).Success)

	updated := env.reading(t, mid)
	assert.Equal(t, 30.0, *updated.ConsumptionHP)
	assert.Equal(t, "korrigiert", *updated.Notes)
	assert.Equal(t, 15.0, *env.reading(t, last).ConsumptionHP)
}

func TestUpdateReading_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-01-01", 1000)
	second := env.create(t, "2026-01-02", 1020)

	assert.Equal(t, http.StatusNotFound,
		env.do(t, http.MethodPut, "/api/readings/99", map[string]any{"meter_hp": 1}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPut, "/api/readings/"+itoa(second), map[string]any{"meter_hp": 900}).StatusCode)
	assert.Equal(t, http.StatusConflict,
		env.do(t, http.MethodPut, "/api/readings/"+itoa(second), map[string]any{"date": "2026-01-01"}).StatusCode)
}

func TestDeleteReading_Scenario(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-01-01", 1000)
	mid := env.create(t, "2026-01-02", 1020)
	last := env.create(t, "2026-01-03", 1045)

	resp := env.do(t, http.MethodDelete, "/api/readings/"+itoa(mid), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 45.0, *env.reading(t, last).ConsumptionHP)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/readings/"+itoa(mid), nil).StatusCode)
}

// =============================================================================
// STATS / SETTINGS
// =============================================================================

func TestGetStats(t *testing.T) {
	env := newTestEnv(t)
	env.create(t, "2026-02-28", 1000)
	env.create(t, "2026-03-01", 1010)
	env.create(t, "2026-03-02", 1022)
	env.create(t, "2026-03-04", 1030)

	resp := env.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stats := decode[api.StatsResponse](t, resp)
	assert.Equal(t, "2026-03", stats.CurrentMonth.Month)
	assert.Equal(t, 30.0, stats.CurrentMonth.KW)
	assert.Equal(t, 3, stats.CurrentMonth.Days)
	assert.Equal(t, 10.0, stats.CurrentMonth.AvgDaily)
	assert.Equal(t, 9.86, stats.CurrentMonth.Cost)
	assert.Equal(t, 0.3288, stats.PricePerKWh)
	assert.Len(t, stats.AllReadings, 3)
	require.NotNil(t, stats.LastReading)
	assert.Equal(t, "2026-03-04", stats.LastReading.Date)
	require.Len(t, stats.YearlyStats, 1)
	assert.Equal(t, 2026, stats.YearlyStats[0].Year)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPut, "/api/settings/price_per_kwh", map[string]any{"value": 0.31})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.do(t, http.MethodPut, "/api/settings/location_name", map[string]any{"value": "Kindenheim"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]string{"price_per_kwh": "0.31", "location_name": "Kindenheim"},
		decode[map[string]string](t, resp))

	stats := decode[api.StatsResponse](t, env.do(t, http.MethodGet, "/api/stats", nil))
	assert.Equal(t, 0.31, stats.PricePerKWh)
}

func TestSettings_Invalid(t *testing.T) {
	env := newTestEnv(t)

	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPut, "/api/settings/latitude", map[string]any{"value": "north"}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPut, "/api/settings/latitude", map[string]any{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest,
		env.do(t, http.MethodPut, "/api/settings/latitude", map[string]any{"value": true}).StatusCode)
}

// =============================================================================
// WEATHER / SOLAR / OCR / HEALTH
// =============================================================================

func TestGetWeather_UsesSettingsLocation(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.mem.SetSetting(context.Background(), energy.KeyLatitude, "49.5394"))
	env.forecast.temp = forecast.Temperature{Max: energy.Float(12), Min: energy.Float(3)}

	resp := env.do(t, http.MethodGet, "/api/weather", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	w := decode[api.WeatherDTO](t, resp)
	assert.Equal(t, "2026-03-15", w.Date)
	assert.Equal(t, 12.0, *w.TempMax)
	assert.Equal(t, 49.5394, env.forecast.lastLoc.Latitude, "from settings")
	assert.Equal(t, 2.0, env.forecast.lastLoc.Longitude, "config fallback")
}

func TestGetWeather_Upstream502(t *testing.T) {
	env := newTestEnv(t)
	env.forecast.err = &energy.UpstreamError{Service: "open-meteo", Status: 500, Err: errors.New("boom")}

	resp := env.do(t, http.MethodGet, "/api/weather", nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestGetSolar(t *testing.T) {
	env := newTestEnv(t)
	env.forecast.solar = forecast.Solar{SunshineHours: 6.3, EstimatedYieldKWh: 12.5, Hourly: forecast.SolarHourly{Hours: []string{"0:00"}}}

	resp := env.do(t, http.MethodGet, "/api/solar?date=2026-03-10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	s := decode[api.SolarDTO](t, resp)
	assert.Equal(t, "2026-03-10", s.Date)
	assert.Equal(t, 6.3, s.SunshineHours)
	assert.Equal(t, 12.5, s.EstimatedYieldKWh)
	assert.Equal(t, []string{"0:00"}, s.Hourly.Hours)

	resp = env.do(t, http.MethodGet, "/api/solar", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, energy.Date("2026-03-15"), env.forecast.lastDate, "defaults to today")

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/solar?date=tomorrow", nil).StatusCode)
}

func postImage(t *testing.T, env *testEnv, field string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, "meter.jpg")
	require.NoError(t, err)
	part.Write([]byte("fake-jpeg"))
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/ocr", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := env.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestOCR(t *testing.T) {
	env := newTestEnv(t)
	_, err := energy.NewRecalculator(env.mem).Insert(context.Background(),
		energy.NewReading{Date: "2026-03-01", MeterHP: energy.Float(12340), MeterElec: energy.Float(5012)})
	require.NoError(t, err)
	env.ocr.result = ocr.Result{Value: energy.Float(12355), Meter: "hp", Confidence: "high", Raw: `{"value":12355}`}

	resp := postImage(t, env, "image")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[api.OCRResponse](t, resp)
	assert.Equal(t, 12355.0, *out.Value)
	assert.Equal(t, "hp", out.Meter)
	assert.Equal(t, api.LastValuesDTO{HP: 12340, Elec: 5012}, out.LastValues)
	assert.Equal(t, []byte("fake-jpeg"), env.ocr.gotImage)
}

func TestOCR_Errors(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		err    error
		status int
	}{
		{"missing image", "photo", nil, http.StatusBadRequest},
		{"no reading", "image", &ocr.NoReadingError{Raw: "blurry"}, http.StatusUnprocessableEntity},
		{"upstream", "image", &energy.UpstreamError{Service: "openrouter", Status: 500, Err: errors.New("x")}, http.StatusBadGateway},
		{"unconfigured", "image", &energy.UnconfiguredError{Setting: "OPENROUTER_API_KEY"}, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.ocr.err = tt.err

			resp := postImage(t, env, tt.field)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[api.HealthResponse](t, resp).Status)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
