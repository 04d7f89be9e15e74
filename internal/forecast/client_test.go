package forecast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ports"
)

func request() ports.ForecastRequest {
	return ports.ForecastRequest{
		Budgets:     []ports.ForecastBudget{{CategoryID: 3, Limit: decimal.NewFromInt(200), Period: core.Monthly}},
		CurrentDate: time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC),
		Language:    "it",
	}
}

func TestForecastSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req["language"] != "it" || req["currentDate"] == nil {
			t.Errorf("unexpected request %v", req)
		}
		budgets := req["budgets"].([]any)
		if b := budgets[0].(map[string]any); b["categoryId"] != float64(3) || b["limit"] != "200" {
			t.Errorf("unexpected budget %v", b)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"predictions":[{"categoryId":3,"projectedSpend":"180.5","risk":"medium"}],"overallRisk":"medium","summary":"close"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", time.Second, nil)
	resp, err := c.Forecast(context.Background(), request())
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(resp.Predictions) != 1 || !resp.Predictions[0].ProjectedSpend.Equal(decimal.RequireFromString("180.5")) {
		t.Fatalf("unexpected predictions %+v", resp.Predictions)
	}
	if resp.OverallRisk != core.RiskMedium || resp.Summary != "close" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestForecastErrorCodes(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"bad key"}`, core.CodeAuth},
		{"forbidden", http.StatusForbidden, ``, core.CodeAuth},
		{"no budgets", http.StatusUnprocessableEntity, `{"code":"NO_BUDGETS","message":"nothing to forecast"}`, core.CodeNoBudgets},
		{"server error", http.StatusInternalServerError, `boom`, core.CodeUnknown},
		{"unprocessable without code", http.StatusUnprocessableEntity, `{}`, core.CodeUnknown},
		{"bad payload", http.StatusOK, `{"predictions":`, core.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, "", time.Second, nil).Forecast(context.Background(), request())
			if got := core.PredictionCode(err); got != tt.want {
				t.Fatalf("code = %q (err=%v), want %q", got, err, tt.want)
			}
		})
	}
}

func TestForecastTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", 20*time.Millisecond, nil).Forecast(context.Background(), request())
	if core.PredictionCode(err) != core.CodeUnknown {
		t.Fatalf("timeout should surface as UNKNOWN_ERROR, got %v", err)
	}
}
