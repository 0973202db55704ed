/*
Package forecast fetches weather and solar data from the Open-Meteo API.

PURPOSE:
  Supplies the daily min/max temperature used to pre-fill a reading and
  the solar outlook shown next to the consumption dashboard.

CACHING:
  Responses are cached per (kind, date, location). Temperatures live for
  an hour, solar outlooks for thirty minutes by default.

FAILURES:
  Transport errors, non-2xx answers and undecodable bodies all surface as
  *energy.UpstreamError with Service "open-meteo". Nothing is retried.
*/
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kindenheim/heatpump-monitor/energy"
)

// DefaultBaseURL is the public Open-Meteo forecast endpoint.
const DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

const serviceName = "open-meteo"

// Location is where forecasts are fetched for.
type Location struct {
	Latitude  float64
	Longitude float64
	Timezone  string
}

func (l Location) key() string {
	return strconv.FormatFloat(l.Latitude, 'f', 4, 64) + "," + strconv.FormatFloat(l.Longitude, 'f', 4, 64)
}

// PVSystem describes the photovoltaic installation used for yield estimates.
type PVSystem struct {
	PeakKW     float64
	Efficiency float64
}

// DefaultPVSystem is a 5 kWp system at 75% efficiency.
var DefaultPVSystem = PVSystem{PeakKW: 5, Efficiency: 0.75}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	WeatherTTL time.Duration
	SolarTTL   time.Duration
	PV         PVSystem
	Logger     *slog.Logger
	Now        func() time.Time
}

// Client talks to Open-Meteo.
type Client struct {
	baseURL string
	http    *http.Client
	pv      PVSystem
	logger  *slog.Logger
	now     func() time.Time

	temps  *ttlCache[Temperature]
	solars *ttlCache[Solar]
}

// New creates a client.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WeatherTTL == 0 {
		opts.WeatherTTL = time.Hour
	}
	if opts.SolarTTL == 0 {
		opts.SolarTTL = 30 * time.Minute
	}
	if opts.PV.PeakKW <= 0 || opts.PV.Efficiency <= 0 {
		opts.PV = DefaultPVSystem
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Client{
		baseURL: opts.BaseURL,
		http:    &http.Client{Timeout: opts.Timeout},
		pv:      opts.PV,
		logger:  opts.Logger,
		now:     opts.Now,
		temps:   newTTLCache[Temperature](opts.WeatherTTL, opts.Now),
		solars:  newTTLCache[Solar](opts.SolarTTL, opts.Now),
	}
}

// Today returns the current calendar day in loc's timezone.
func (c *Client) Today(loc Location) energy.Date {
	return energy.DateOf(c.now().In(timezone(loc)))
}

func timezone(loc Location) *time.Location {
	if loc.Timezone == "" {
		return time.Local
	}
	tz, err := time.LoadLocation(loc.Timezone)
	if err != nil {
		return time.Local
	}
	return tz
}

// =============================================================================
// TEMPERATURE
// =============================================================================

// Temperature is the forecast or observed min/max for one day in °C.
type Temperature struct {
	Date energy.Date
	Max  *float64
	Min  *float64
}

type temperatureResponse struct {
	Daily struct {
		Time []string   `json:"time"`
		Max  []*float64 `json:"temperature_2m_max"`
		Min  []*float64 `json:"temperature_2m_min"`
	} `json:"daily"`
}

// DailyTemperature returns the min/max temperature for date at loc.
func (c *Client) DailyTemperature(ctx context.Context, loc Location, date energy.Date) (Temperature, error) {
	key := "temp:" + string(date) + "@" + loc.key()
	if t, ok := c.temps.get(key); ok {
		return t, nil
	}

	q := c.query(loc, date)
	q.Set("daily", "temperature_2m_max,temperature_2m_min")

	var resp temperatureResponse
	if err := c.get(ctx, q, &resp); err != nil {
		return Temperature{}, err
	}

	t := Temperature{Date: date, Max: first(resp.Daily.Max), Min: first(resp.Daily.Min)}
	if len(resp.Daily.Time) > 0 {
		t.Date = energy.Date(resp.Daily.Time[0])
	}
	c.temps.put(key, t)
	return t, nil
}

// =============================================================================
// HTTP
// =============================================================================

func (c *Client) query(loc Location, date energy.Date) url.Values {
	tz := loc.Timezone
	if tz == "" {
		tz = "auto"
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	q.Set("timezone", tz)
	q.Set("start_date", string(date))
	q.Set("end_date", string(date))
	return q
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build forecast request: %w", err)
	}

	start := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &energy.UpstreamError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "forecast request",
		"query", q.Encode(), "status", resp.StatusCode, "duration", c.now().Sub(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &energy.UpstreamError{
			Service: serviceName,
			Status:  resp.StatusCode,
			Err:     errors.New(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &energy.UpstreamError{Service: serviceName, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func first(vs []*float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	return vs[0]
}
