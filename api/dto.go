/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures of the HTTP contract. Field names are snake_case and
  optional values are null rather than omitted, so the dashboard can tell
  "no value" from "zero".

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kindenheim/heatpump-monitor/energy"
	"github.com/kindenheim/heatpump-monitor/forecast"
	"github.com/kindenheim/heatpump-monitor/ocr"
)

// =============================================================================
// READINGS
// =============================================================================

// ReadingDTO represents a daily reading in API responses.
type ReadingDTO struct {
	ID              int64    `json:"id"`
	Date            string   `json:"date"`
	MeterHP         float64  `json:"meter_hp"`
	MeterElec       *float64 `json:"meter_elec"`
	ConsumptionHP   *float64 `json:"consumption_hp"`
	ConsumptionElec *float64 `json:"consumption_elec"`
	TempMin         *float64 `json:"temp_min"`
	TempMax         *float64 `json:"temp_max"`
	Notes           *string  `json:"notes"`
}

// CreateReadingRequest is the body of POST /api/readings.
type CreateReadingRequest struct {
	Date            string   `json:"date"`
	MeterHP         *float64 `json:"meter_hp"`
	MeterElec       *float64 `json:"meter_elec"`
	TempMin         *float64 `json:"temp_min"`
	TempMax         *float64 `json:"temp_max"`
	Notes           *string  `json:"notes"`
	AutofillWeather bool     `json:"autofill_weather"`
}

// UpdateReadingRequest is the body of PUT /api/readings/{id}.
// Absent fields keep their stored value.
type UpdateReadingRequest struct {
	Date      *string  `json:"date"`
	MeterHP   *float64 `json:"meter_hp"`
	MeterElec *float64 `json:"meter_elec"`
	TempMin   *float64 `json:"temp_min"`
	TempMax   *float64 `json:"temp_max"`
	Notes     *string  `json:"notes"`
}

type CreateReadingResponse struct {
	ID int64 `json:"id"`
}

type ListReadingsResponse struct {
	Readings []ReadingDTO `json:"readings"`
	Total    int          `json:"total"`
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

// =============================================================================
// STATISTICS
// =============================================================================

type StatsResponse struct {
	CurrentMonth     MonthStatsDTO       `json:"current_month"`
	PricePerKWh      float64             `json:"price_per_kwh"`
	AllReadings      []HistoryPointDTO   `json:"all_readings"`
	MonthlySummaries []MonthlySummaryDTO `json:"monthly_summaries"`
	LastReading      *ReadingDTO         `json:"last_reading"`
	YearlyStats      []YearTotalDTO      `json:"yearly_stats"`
}

type MonthStatsDTO struct {
	Month    string   `json:"month"`
	KW       float64  `json:"kw"`
	Cost     float64  `json:"cost"`
	AvgDaily float64  `json:"avg_daily"`
	AvgTemp  *float64 `json:"avg_temp"`
	Days     int      `json:"days"`
}

// HistoryPointDTO is one chart point of the consumption history.
type HistoryPointDTO struct {
	Date            string   `json:"date"`
	ConsumptionHP   *float64 `json:"consumption_hp"`
	ConsumptionElec *float64 `json:"consumption_elec"`
	TempMin         *float64 `json:"temp_min"`
	TempMax         *float64 `json:"temp_max"`
}

type MonthlySummaryDTO struct {
	ID            int64    `json:"id"`
	Year          int      `json:"year"`
	Month         int      `json:"month"`
	KWTotal       *float64 `json:"kw_total"`
	AvgDaily      *float64 `json:"avg_daily"`
	TotalCost     *float64 `json:"total_cost"`
	GasComparison *float64 `json:"gas_comparison"`
}

type YearTotalDTO struct {
	Year     int     `json:"year"`
	TotalKWh float64 `json:"total_kwh"`
	AvgDaily float64 `json:"avg_daily"`
	Days     int     `json:"days"`
}

// =============================================================================
// FORECAST / OCR
// =============================================================================

type WeatherDTO struct {
	Date    string   `json:"date"`
	TempMax *float64 `json:"temp_max"`
	TempMin *float64 `json:"temp_min"`
}

type SolarDTO struct {
	Date              string         `json:"date"`
	IsToday           bool           `json:"is_today"`
	SunshineHours     float64        `json:"sunshine_hours"`
	RadiationSum      float64        `json:"radiation_sum"`
	UVMax             float64        `json:"uv_max"`
	AvgCloudCover     float64        `json:"avg_cloud_cover"`
	PeakRadiation     float64        `json:"peak_radiation"`
	EstimatedYieldKWh float64        `json:"estimated_yield_kwh"`
	Hourly            SolarHourlyDTO `json:"hourly"`
}

type SolarHourlyDTO struct {
	Hours           []string  `json:"hours"`
	CloudCover      []float64 `json:"cloud_cover"`
	DirectRadiation []float64 `json:"direct_radiation"`
}

type OCRResponse struct {
	Value      *float64      `json:"value"`
	Meter      string        `json:"meter"`
	Confidence string        `json:"confidence"`
	Raw        string        `json:"raw"`
	LastValues LastValuesDTO `json:"last_values"`
}

type LastValuesDTO struct {
	HP   float64 `json:"hp"`
	Elec float64 `json:"elec"`
}

// =============================================================================
// AUTH / SETTINGS / MISC
// =============================================================================

type AuthRequest struct {
	Password string `json:"password"`
}

// UpdateSettingRequest accepts the value as a JSON string or number.
type UpdateSettingRequest struct {
	Value json.RawMessage `json:"value"`
}

// text returns the value as stored text.
func (r UpdateSettingRequest) text() (string, error) {
	raw := strings.TrimSpace(string(r.Value))
	if raw == "" || raw == "null" {
		return "", fmt.Errorf("value is required")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(r.Value, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(r.Value, &n); err != nil {
		return "", fmt.Errorf("value must be a string or number")
	}
	return n.String(), nil
}

type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toReadingDTO(r energy.Reading) ReadingDTO {
	return ReadingDTO{
		ID:              int64(r.ID),
		Date:            string(r.Date),
		MeterHP:         r.MeterHP,
		MeterElec:       r.MeterElec,
		ConsumptionHP:   r.ConsumptionHP,
		ConsumptionElec: r.ConsumptionElec,
		TempMin:         r.TempMin,
		TempMax:         r.TempMax,
		Notes:           r.Notes,
	}
}

func toReadingDTOs(rs []energy.Reading) []ReadingDTO {
	out := make([]ReadingDTO, len(rs))
	for i, r := range rs {
		out[i] = toReadingDTO(r)
	}
	return out
}

func toStatsResponse(d energy.Dashboard) StatsResponse {
	resp := StatsResponse{
		CurrentMonth: MonthStatsDTO{
			Month:    string(d.CurrentMonth.Month),
			KW:       d.CurrentMonth.KWh,
			Cost:     d.CurrentMonth.Cost,
			AvgDaily: d.CurrentMonth.AvgDaily,
			AvgTemp:  d.CurrentMonth.AvgTemp,
			Days:     d.CurrentMonth.Days,
		},
		PricePerKWh:      d.PricePerKWh,
		AllReadings:      make([]HistoryPointDTO, len(d.History)),
		MonthlySummaries: make([]MonthlySummaryDTO, len(d.MonthlySummaries)),
		YearlyStats:      make([]YearTotalDTO, len(d.Yearly)),
	}
	for i, r := range d.History {
		resp.AllReadings[i] = HistoryPointDTO{
			Date:            string(r.Date),
			ConsumptionHP:   r.ConsumptionHP,
			ConsumptionElec: r.ConsumptionElec,
			TempMin:         r.TempMin,
			TempMax:         r.TempMax,
		}
	}
	for i, m := range d.MonthlySummaries {
		resp.MonthlySummaries[i] = MonthlySummaryDTO(m)
	}
	for i, y := range d.Yearly {
		resp.YearlyStats[i] = YearTotalDTO(y)
	}
	if d.LastReading != nil {
		last := toReadingDTO(*d.LastReading)
		resp.LastReading = &last
	}
	return resp
}

func toSolarDTO(s forecast.Solar) SolarDTO {
	return SolarDTO{
		Date:              string(s.Date),
		IsToday:           s.IsToday,
		SunshineHours:     s.SunshineHours,
		RadiationSum:      s.RadiationSum,
		UVMax:             s.UVMax,
		AvgCloudCover:     s.AvgCloudCover,
		PeakRadiation:     s.PeakRadiation,
		EstimatedYieldKWh: s.EstimatedYieldKWh,
		Hourly: SolarHourlyDTO{
			Hours:           s.Hourly.Hours,
			CloudCover:      s.Hourly.CloudCover,
			DirectRadiation: s.Hourly.DirectRadiation,
		},
	}
}

func toOCRResponse(r ocr.Result) OCRResponse {
	return OCRResponse{
		Value:      r.Value,
		Meter:      r.Meter,
		Confidence: r.Confidence,
		Raw:        r.Raw,
		LastValues: LastValuesDTO{HP: r.LastValues.HP, Elec: r.LastValues.Elec},
	}
}
