/*
handlers.go - HTTP API handlers for the heat-pump monitor

PURPOSE:
  Exposes the energy engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the recalculator, aggregator and
  external clients.

ENDPOINTS:
  Readings:
    POST   /api/readings               Create reading (201 {id})
    GET    /api/readings               List readings (?month=YYYY-MM&limit&offset)
    GET    /api/readings/{id}          Get one reading
    PUT    /api/readings/{id}          Partial update
    DELETE /api/readings/{id}          Delete reading

  Dashboard:
    GET    /api/stats                  Current month, history, summaries, yearly totals

  Settings:
    GET    /api/settings               All settings
    PUT    /api/settings/{key}         Set one setting ({"value": ...})

  External:
    GET    /api/weather                Today's min/max temperature
    GET    /api/solar                  Solar outlook (?date=YYYY-MM-DD)
    POST   /api/ocr                    Read a meter photo (multipart "image")

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (recalculator, aggregator, clients)
  4. Serialize response
  5. Map errors through writeDomainError

ERROR HANDLING:
  - 400: Validation errors, meter regression
  - 404: Reading not found
  - 409: Duplicate date
  - 422: OCR reply without a meter value
  - 502: Forecast or OCR provider failed
  - 500: Internal errors, missing OCR credentials

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Password gate
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/forecast"
	"github.com/kindenheim/heatpump-monitor/ocr"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	maxImageBytes    = 10 << 20
)

// =============================================================================
// DEPENDENCIES
// =============================================================================

// Store is everything the handlers need from persistence.
type Store interface {
	energy.TxStore
	energy.ReadingQuerier
	energy.SettingsStore
	Ping(ctx context.Context) error
}

// Forecaster supplies weather and solar data.
type Forecaster interface {
	DailyTemperature(ctx context.Context, loc forecast.Location, date energy.Date) (forecast.Temperature, error)
	Solar(ctx context.Context, loc forecast.Location, date energy.Date) (forecast.Solar, error)
	Today(loc forecast.Location) energy.Date
}

// MeterReader extracts a meter value from a photo.
type MeterReader interface {
	Read(ctx context.Context, image []byte, mimeType string, hint ocr.Hint) (ocr.Result, error)
}

// Deps are the Handler's collaborators.
type Deps struct {
	Store    Store
	Forecast Forecaster
	OCR      MeterReader
	// Location is used when the settings table has no coordinates.
	Location forecast.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	store    Store
	recalc   *energy.Recalculator
	agg      *energy.Aggregator
	settings *energy.Settings
	forecast Forecaster
	ocr      MeterReader
	location forecast.Location
	logger   *slog.Logger
}

// NewHandler creates a new handler.
func NewHandler(d Deps) *Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	settings := energy.NewSettings(d.Store)
	return &Handler{
		store:    d.Store,
		recalc:   energy.NewRecalculator(d.Store),
		agg:      energy.NewAggregator(d.Store, settings, d.Now),
		settings: settings,
		forecast: d.Forecast,
		ocr:      d.OCR,
		location: d.Location,
		logger:   d.Logger,
	}
}

// =============================================================================
// READING HANDLERS
// =============================================================================

// CreateReading inserts a reading and repairs its successor.
// POST /api/readings
func (h *Handler) CreateReading(w http.ResponseWriter, r *http.Request) {
	var req CreateReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.AutofillWeather && req.TempMin == nil && req.TempMax == nil {
		h.autofillWeather(r.Context(), &req)
	}

	reading, err := h.recalc.Insert(r.Context(), energy.NewReading{
		Date:      req.Date,
		MeterHP:   req.MeterHP,
		MeterElec: req.MeterElec,
		TempMin:   req.TempMin,
		TempMax:   req.TempMax,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to create reading", err)
		return
	}

	h.logger.InfoContext(r.Context(), "reading created",
		"id", reading.ID, "date", reading.Date, "meter_hp", reading.MeterHP)
	writeJSON(w, http.StatusCreated, CreateReadingResponse{ID: int64(reading.ID)})
}

// autofillWeather fills the temperatures from the forecast. Failures only
// leave the fields empty.
func (h *Handler) autofillWeather(ctx context.Context, req *CreateReadingRequest) {
	if h.forecast == nil {
		return
	}
	date, err := energy.ParseDate(req.Date)
	if err != nil {
		return
	}
	temp, err := h.forecast.DailyTemperature(ctx, h.resolveLocation(ctx), date)
	if err != nil {
		h.logger.WarnContext(ctx, "weather autofill failed", "date", date, "error", err)
		return
	}
	req.TempMin, req.TempMax = temp.Min, temp.Max
}

// ListReadings returns a page of readings, newest first.
// GET /api/readings?month=YYYY-MM&limit=100&offset=0
func (h *Handler) ListReadings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := energy.ReadingFilter{Limit: defaultListLimit}

	if m := q.Get("month"); m != "" {
		month, err := energy.ParseYearMonth(m)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
			return
		}
		filter.Month = month
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit"), defaultListLimit, 1, maxListLimit); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0, 0, -1); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid offset", err)
		return
	}

	readings, total, err := h.store.ListReadings(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, "Failed to list readings", err)
		return
	}

	writeJSON(w, http.StatusOK, ListReadingsResponse{Readings: toReadingDTOs(readings), Total: total})
}

// GetReading returns a single reading.
// GET /api/readings/{id}
func (h *Handler) GetReading(w http.ResponseWriter, r *http.Request) {
	id, ok := readingID(w, r)
	if !ok {
		return
	}

	reading, err := h.store.GetReading(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, "Failed to get reading", err)
		return
	}

	writeJSON(w, http.StatusOK, toReadingDTO(reading))
}

// UpdateReading applies a partial update and repairs the neighbors.
// PUT /api/readings/{id}
func (h *Handler) UpdateReading(w http.ResponseWriter, r *http.Request) {
	id, ok := readingID(w, r)
	if !ok {
		return
	}

	var req UpdateReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reading, err := h.recalc.Update(r.Context(), id, energy.ReadingPatch{
		Date:      req.Date,
		MeterHP:   req.MeterHP,
		MeterElec: req.MeterElec,
		TempMin:   req.TempMin,
		TempMax:   req.TempMax,
		Notes:     req.Notes,
	})
	if err != nil {
		h.writeDomainError(w, r, "Failed to update reading", err)
		return
	}

	h.logger.InfoContext(r.Context(), "reading updated", "id", reading.ID, "date", reading.Date)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// DeleteReading removes a reading and rebases its successor.
// DELETE /api/readings/{id}
func (h *Handler) DeleteReading(w http.ResponseWriter, r *http.Request) {
	id, ok := readingID(w, r)
	if !ok {
		return
	}

	if err := h.recalc.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, r, "Failed to delete reading", err)
		return
	}

	h.logger.InfoContext(r.Context(), "reading deleted", "id", id)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// =============================================================================
// STATISTICS
// =============================================================================

// GetStats returns the dashboard aggregate.
// GET /api/stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	d, err := h.agg.Dashboard(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to compute statistics", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(d))
}

// =============================================================================
// SETTINGS
// =============================================================================

// ListSettings returns every stored setting.
// GET /api/settings
func (h *Handler) ListSettings(w http.ResponseWriter, r *http.Request) {
	all, err := h.settings.All(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to list settings", err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// UpdateSetting stores one setting.
// PUT /api/settings/{key}
func (h *Handler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	var req UpdateSettingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	value, err := req.text()
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid value", err)
		return
	}

	if err := h.settings.Set(r.Context(), key, value); err != nil {
		h.writeDomainError(w, r, "Failed to update setting", err)
		return
	}

	h.logger.InfoContext(r.Context(), "setting updated", "key", key)
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// =============================================================================
// WEATHER / SOLAR
// =============================================================================

// resolveLocation reads the coordinates from settings, falling back to the
// configured location.
func (h *Handler) resolveLocation(ctx context.Context) forecast.Location {
	loc := h.location
	if lat, err := h.settings.Float(ctx, energy.KeyLatitude, loc.Latitude); err == nil {
		loc.Latitude = lat
	}
	if lon, err := h.settings.Float(ctx, energy.KeyLongitude, loc.Longitude); err == nil {
		loc.Longitude = lon
	}
	return loc
}

// GetWeather returns today's temperature range.
// GET /api/weather
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	if h.forecast == nil {
		h.writeDomainError(w, r, "Weather unavailable", &energy.UnconfiguredError{Setting: "forecast"})
		return
	}
	loc := h.resolveLocation(r.Context())

	temp, err := h.forecast.DailyTemperature(r.Context(), loc, h.forecast.Today(loc))
	if err != nil {
		h.writeDomainError(w, r, "Weather API error", err)
		return
	}

	writeJSON(w, http.StatusOK, WeatherDTO{Date: string(temp.Date), TempMax: temp.Max, TempMin: temp.Min})
}

// GetSolar returns the solar outlook for a day, today by default.
// GET /api/solar?date=YYYY-MM-DD
func (h *Handler) GetSolar(w http.ResponseWriter, r *http.Request) {
	if h.forecast == nil {
		h.writeDomainError(w, r, "Solar forecast unavailable", &energy.UnconfiguredError{Setting: "forecast"})
		return
	}
	loc := h.resolveLocation(r.Context())

	date := h.forecast.Today(loc)
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := energy.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
			return
		}
		date = d
	}

	solar, err := h.forecast.Solar(r.Context(), loc, date)
	if err != nil {
		h.writeDomainError(w, r, "Solar API error", err)
		return
	}

	writeJSON(w, http.StatusOK, toSolarDTO(solar))
}

// =============================================================================
// OCR
// =============================================================================

// ReadMeterPhoto extracts a meter value from an uploaded photo.
// POST /api/ocr (multipart/form-data, field "image")
func (h *Handler) ReadMeterPhoto(w http.ResponseWriter, r *http.Request) {
	if h.ocr == nil {
		h.writeDomainError(w, r, "OCR unavailable", &energy.UnconfiguredError{Setting: "OPENROUTER_API_KEY"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes)
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No image uploaded", err)
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read image", err)
		return
	}

	// The hint is read before calling out so no store lock is held while
	// the provider answers.
	var hint ocr.Hint
	last, err := h.store.LatestReading(r.Context())
	if err != nil {
		h.writeDomainError(w, r, "Failed to read last values", err)
		return
	}
	if last != nil {
		hint.HP = last.MeterHP
		if last.MeterElec != nil {
			hint.Elec = *last.MeterElec
		}
	}

	res, err := h.ocr.Read(r.Context(), image, header.Header.Get("Content-Type"), hint)
	if err != nil {
		var nr *ocr.NoReadingError
		if errors.As(err, &nr) {
			writeError(w, http.StatusUnprocessableEntity, "Could not recognise a meter value", map[string]string{"raw": nr.Raw})
			return
		}
		h.writeDomainError(w, r, "OCR failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toOCRResponse(res))
}

// =============================================================================
// HEALTH
// =============================================================================

// Healthz reports liveness and database connectivity.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	switch d := details.(type) {
	case nil:
	case error:
		resp.Details = d.Error()
	default:
		resp.Details = d
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to status codes. Client errors carry
// their own message; everything else is logged.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, message string, err error) {
	var (
		regErr *energy.RegressionError
		valErr *energy.ValidationError
	)

	switch {
	case errors.Is(err, energy.ErrDuplicateDate):
		writeError(w, http.StatusConflict, err.Error(), nil)
	case energy.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), nil)
	case errors.As(err, &regErr):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]any{
			"minimum":       regErr.Minimum,
			"previous_date": string(regErr.PreviousDate),
		})
	case errors.As(err, &valErr):
		writeError(w, http.StatusBadRequest, err.Error(), map[string]string{"field": valErr.Field})
	case errors.Is(err, energy.ErrUpstream):
		h.logger.WarnContext(r.Context(), message, "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusBadGateway, message, err)
	case errors.Is(err, energy.ErrUnconfigured):
		h.logger.ErrorContext(r.Context(), message, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error(), nil)
	default:
		h.logger.ErrorContext(r.Context(), message, "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func readingID(w http.ResponseWriter, r *http.Request) (energy.ReadingID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid reading id %q", raw), nil)
		return 0, false
	}
	return energy.ReadingID(id), true
}

// intParam parses an optional query integer within [lo, hi]. hi < 0 means
// no upper bound.
func intParam(raw string, def, lo, hi int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%q is not an integer", raw)
	}
	if n < lo || (hi >= 0 && n > hi) {
		if hi >= 0 {
			return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
		}
		return 0, fmt.Errorf("%d must be >= %d", n, lo)
	}
	return n, nil
}
