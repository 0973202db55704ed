/*
Package ocr reads meter values from photos through a vision model.

PURPOSE:
  A photo of either the heat-pump display or the household electricity
  meter is sent to an OpenRouter chat-completions model together with the
  last known values of both meters. The model answers with the number it
  sees and which meter it believes it is.

RESPONSE CONTRACT:
  The model is asked for {"value": <number>, "meter": "hp"|"elec",
  "confidence": "high"|"low"}. The first {...} block of the reply is
  parsed; prose around it is ignored.

FAILURES:
  No API key           -> *energy.UnconfiguredError
  Non-2xx / transport  -> *energy.UpstreamError (Service "openrouter")
  No JSON in the reply -> *NoReadingError
*/
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kindenheim/heatpump-monitor/energy"
)

const (
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultModel   = "google/gemini-2.0-flash-001"

	serviceName = "openrouter"
	maxTokens   = 200
)

// ErrNoReading is returned when the model reply contains no JSON object.
var ErrNoReading = errors.New("no meter value recognised")

// NoReadingError carries the raw model reply for troubleshooting.
type NoReadingError struct {
	Raw string
}

func (e *NoReadingError) Error() string { return ErrNoReading.Error() }

func (e *NoReadingError) Unwrap() error { return ErrNoReading }

// Hint is the last known value of each meter.
type Hint struct {
	HP   float64
	Elec float64
}

// Result is what the model read from a photo.
type Result struct {
	Value      *float64
	Meter      string
	Confidence string
	Raw        string
	LastValues Hint
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client calls the vision model.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// New creates a client. An empty APIKey yields a client whose Read always
// fails with *energy.UnconfiguredError.
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		model:   opts.Model,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  opts.Logger,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool { return c.apiKey != "" }

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type modelAnswer struct {
	Value      flexFloat `json:"value"`
	Meter      string    `json:"meter"`
	Confidence string    `json:"confidence"`
}

// flexFloat accepts 1234.5 as well as "1234.5" or "1234,5".
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return nil
	}
	f.v = &v
	return nil
}

// =============================================================================
// READ
// =============================================================================

var jsonObject = regexp.MustCompile(`(?s)\{.*\}`)

// Read sends image to the model and parses its answer.
func (c *Client) Read(ctx context.Context, image []byte, mimeType string, hint Hint) (Result, error) {
	if !c.Configured() {
		return Result{}, &energy.UnconfiguredError{Setting: "OPENROUTER_API_KEY"}
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	body, err := json.Marshal(chatRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt(hint)},
				{Type: "image_url", ImageURL: &imageURL{
					URL: "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode ocr request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build ocr request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, &energy.UpstreamError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	c.logger.InfoContext(ctx, "ocr request",
		"request_id", requestID,
		"model", c.model,
		"image_bytes", len(image),
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, &energy.UpstreamError{Service: serviceName, Status: resp.StatusCode, Err: errors.New(string(msg))}
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return Result{}, &energy.UpstreamError{Service: serviceName, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	var content string
	if len(chat.Choices) > 0 {
		content = chat.Choices[0].Message.Content
	}

	return parseAnswer(content, hint)
}

func parseAnswer(content string, hint Hint) (Result, error) {
	match := jsonObject.FindString(content)
	if match == "" {
		return Result{}, &NoReadingError{Raw: content}
	}

	var ans modelAnswer
	if err := json.Unmarshal([]byte(match), &ans); err != nil {
		return Result{}, &NoReadingError{Raw: content}
	}

	return Result{
		Value:      ans.Value.v,
		Meter:      ans.Meter,
		Confidence: ans.Confidence,
		Raw:        content,
		LastValues: hint,
	}, nil
}

func prompt(hint Hint) string {
	return fmt.Sprintf(`You are looking at a photo of an electricity meter or a heat pump display.

Extract the displayed number (meter reading in kWh).

Last known values:
- Heat pump meter: %s kWh
- Electricity meter: %s kWh

Decide which meter it is from how close the reading is to these known values.

Answer ONLY in JSON:
{"value": <number>, "meter": "hp" or "elec", "confidence": "high" or "low"}`,
		strconv.FormatFloat(hint.HP, 'f', -1, 64),
		strconv.FormatFloat(hint.Elec, 'f', -1, 64))
}
