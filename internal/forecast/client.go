// Package forecast calls the external budget forecasting function over HTTP.
package forecast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"pocketledger/internal/core"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
)

const DefaultTimeout = 30 * time.Second

// maxErrorBody bounds how much of a failed response is read for its code.
const maxErrorBody = 64 << 10

// Client posts ForecastRequests as JSON and decodes ForecastResponses.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *log.Logger
}

var _ ports.Forecaster = (*Client)(nil)

func NewClient(url, apiKey string, timeout time.Duration, logger *log.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		url:        strings.TrimSuffix(url, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent(log.ComponentForecast),
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) Forecast(ctx context.Context, req ports.ForecastRequest) (ports.ForecastResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return ports.ForecastResponse{}, &core.PredictionError{Code: core.CodeUnknown, Err: fmt.Errorf("marshal request: %w", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return ports.ForecastResponse{}, &core.PredictionError{Code: core.CodeUnknown, Err: fmt.Errorf("build request: %w", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return ports.ForecastResponse{}, &core.PredictionError{Code: core.CodeUnknown, Err: fmt.Errorf("call forecaster: %w", err)}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Forecaster responded",
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode != http.StatusOK {
		return ports.ForecastResponse{}, statusError(resp)
	}

	var out ports.ForecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ports.ForecastResponse{}, &core.PredictionError{Code: core.CodeUnknown, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out, nil
}

// statusError maps a non-200 response to a PredictionError code.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	msg := eb.Message
	if msg == "" {
		msg = eb.Error
	}
	if msg == "" {
		msg = strings.TrimSpace(string(raw))
	}
	err := fmt.Errorf("forecaster returned %s", resp.Status)
	if msg != "" {
		err = fmt.Errorf("%w: %s", err, msg)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &core.PredictionError{Code: core.CodeAuth, Err: err}
	case eb.Code == core.CodeNoBudgets:
		return &core.PredictionError{Code: core.CodeNoBudgets, Err: err}
	case eb.Code == core.CodeAuth:
		return &core.PredictionError{Code: core.CodeAuth, Err: err}
	default:
		return &core.PredictionError{Code: core.CodeUnknown, Err: err}
	}
}
