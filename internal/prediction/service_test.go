package prediction

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pocketledger/internal/core"
	"pocketledger/internal/ports"
	"pocketledger/internal/retry"
	"pocketledger/internal/storage/memory"
)

type fakeForecaster struct {
	calls   atomic.Int32
	mu      sync.Mutex
	errs    []error // returned in order before succeeding
	summary string
	delay   time.Duration
}

func (f *fakeForecaster) Forecast(_ context.Context, req ports.ForecastRequest) (ports.ForecastResponse, error) {
	n := int(f.calls.Add(1))
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= len(f.errs) {
		return ports.ForecastResponse{}, f.errs[n-1]
	}
	resp := ports.ForecastResponse{OverallRisk: core.RiskMedium, Summary: f.summary}
	for _, b := range req.Budgets {
		resp.Predictions = append(resp.Predictions, ports.ForecastPrediction{
			CategoryID: b.CategoryID, ProjectedSpend: b.Limit.Mul(decimal.NewFromFloat(0.9)), Risk: "",
		})
	}
	return resp, nil
}

// flakyStore fails reads on demand.
type flakyStore struct {
	ports.PredictionStore
	failGet atomic.Bool
}

func (s *flakyStore) Get(ctx context.Context, ownerID, key string) (ports.PredictionEntry, bool, error) {
	if s.failGet.Load() {
		return ports.PredictionEntry{}, false, errors.New("store unavailable")
	}
	return s.PredictionStore.Get(ctx, ownerID, key)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func budgets() []core.Budget {
	return []core.Budget{
		{ID: 1, CategoryID: 10, Amount: decimal.NewFromInt(300), Period: core.Monthly, OwnerID: "u1"},
		{ID: 2, CategoryID: 11, Amount: decimal.NewFromInt(50), Period: core.Weekly, OwnerID: "u1"},
	}
}

func noWait() retry.Policy {
	p := DefaultRetry()
	p.Backoff = retry.Constant(0)
	return p
}

func newService(store ports.PredictionStore, f ports.Forecaster, c *clock) *Service {
	return NewService(store, f, WithClock(c.Now), WithRetry(noWait()))
}

func TestCacheTTL(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{summary: "ok"}
	svc := newService(memory.New().Predictions(), f, c)
	ctx := context.Background()

	if _, err := svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	c.Advance(6*time.Hour - time.Second)
	if _, err := svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("forecaster calls within TTL = %d, want 1", got)
	}

	c.Advance(time.Second)
	set, err := svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	if err != nil {
		t.Fatalf("third call: %v", err)
	}
	if got := f.calls.Load(); got != 2 {
		t.Fatalf("forecaster calls after TTL = %d, want 2", got)
	}
	if !set.GeneratedAt.Equal(c.Now()) {
		t.Fatalf("generatedAt = %v, want %v", set.GeneratedAt, c.Now())
	}
}

func TestRefreshBypassesCache(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{summary: "first"}
	svc := newService(memory.New().Predictions(), f, c)
	ctx := context.Background()

	svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	f.summary = "second"
	refreshed, err := svc.Refresh(ctx, "u1", budgets(), nil, "en")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if f.calls.Load() != 2 || refreshed.Summary != "second" {
		t.Fatalf("refresh should call forecaster, calls=%d summary=%q", f.calls.Load(), refreshed.Summary)
	}

	got, _ := svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	if got.Summary != "second" || f.calls.Load() != 2 {
		t.Fatalf("GetOrGenerate should serve the refreshed entry, summary=%q calls=%d", got.Summary, f.calls.Load())
	}
}

func TestNoBudgets(t *testing.T) {
	c := &clock{now: time.Now()}
	f := &fakeForecaster{}
	svc := newService(memory.New().Predictions(), f, c)

	_, err := svc.GetOrGenerate(context.Background(), "u1", nil, nil, "en")
	if core.PredictionCode(err) != core.CodeNoBudgets {
		t.Fatalf("expected NO_BUDGETS, got %v", err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("forecaster must not be called without budgets")
	}
}

func TestRetryPolicy(t *testing.T) {
	unknown := &core.PredictionError{Code: core.CodeUnknown, Err: errors.New("boom")}
	auth := &core.PredictionError{Code: core.CodeAuth, Err: errors.New("denied")}
	tests := []struct {
		name      string
		errs      []error
		wantCalls int32
		wantCode  string
	}{
		{"recovers after two unknown errors", []error{unknown, unknown}, 3, ""},
		{"gives up after three attempts", []error{unknown, unknown, unknown, unknown}, 3, core.CodeUnknown},
		{"auth is not retried", []error{auth}, 1, core.CodeAuth},
		{"plain errors become unknown", []error{errors.New("x"), errors.New("y"), errors.New("z")}, 1, core.CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &clock{now: time.Now()}
			f := &fakeForecaster{errs: tt.errs}
			svc := newService(memory.New().Predictions(), f, c)

			_, err := svc.GetOrGenerate(context.Background(), "u1", budgets(), nil, "en")
			if got := core.PredictionCode(err); got != tt.wantCode {
				t.Fatalf("code = %q (err=%v), want %q", got, err, tt.wantCode)
			}
			if got := f.calls.Load(); got != tt.wantCalls {
				t.Fatalf("calls = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestStoreReadFailureServesFreshEntry(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{summary: "cached"}
	store := &flakyStore{PredictionStore: memory.New().Predictions()}
	svc := newService(store, f, c)
	ctx := context.Background()

	svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	store.failGet.Store(true)
	c.Advance(time.Hour)

	got, err := svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	if err != nil || got.Summary != "cached" {
		t.Fatalf("expected cached entry, got %+v err=%v", got, err)
	}
	if f.calls.Load() != 1 {
		t.Fatalf("store read failure must not trigger a new forecast, calls=%d", f.calls.Load())
	}
}

func TestEntrySharedThroughStore(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{}
	store := memory.New().Predictions()
	ctx := context.Background()

	newService(store, f, c).GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	// A second instance has an empty local copy and reads the store.
	newService(store, f, c).GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	if f.calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", f.calls.Load())
	}
}

func TestCleanupRemovesOldEntries(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{}
	store := memory.New().Predictions()
	svc := newService(store, f, c)
	ctx := context.Background()

	svc.GetOrGenerate(ctx, "u1", budgets(), nil, "en")
	svc.GetOrGenerate(ctx, "u2", budgets(), nil, "en")

	c.Advance(23 * time.Hour)
	if n, err := svc.Cleanup(ctx, "u1"); err != nil || n != 0 {
		t.Fatalf("cleanup before max age removed %d (err=%v)", n, err)
	}
	c.Advance(2 * time.Hour)
	if n, err := svc.Cleanup(ctx, "u1"); err != nil || n != 1 {
		t.Fatalf("cleanup removed %d (err=%v), want 1", n, err)
	}
	if _, ok, _ := store.Get(ctx, "u2", CacheKey("u2", budgets(), "en")); !ok {
		t.Fatalf("cleanup must only touch the given owner")
	}
}

func TestCacheKey(t *testing.T) {
	b := budgets()
	reversed := []core.Budget{b[1], b[0]}
	if CacheKey("u1", b, "en") != CacheKey("u1", reversed, "en") {
		t.Fatalf("key must not depend on budget order")
	}
	if CacheKey("u1", b, "en") == CacheKey("u1", b, "it") {
		t.Fatalf("key must depend on language")
	}
	if CacheKey("u1", b, "en") == CacheKey("u2", b, "en") {
		t.Fatalf("key must depend on owner")
	}
	changed := budgets()
	changed[0].Amount = decimal.NewFromInt(301)
	if CacheKey("u1", b, "en") == CacheKey("u1", changed, "en") {
		t.Fatalf("key must depend on budget limits")
	}
}

func TestConcurrentCallsShareOneForecast(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	f := &fakeForecaster{delay: 50 * time.Millisecond}
	svc := newService(memory.New().Predictions(), f, c)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetOrGenerate(context.Background(), "u1", budgets(), nil, "en"); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := f.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestAssembleDerivesMissingRisk(t *testing.T) {
	c := &clock{now: time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)}
	svc := newService(memory.New().Predictions(), &fakeForecaster{}, c)

	set, err := svc.GetOrGenerate(context.Background(), "u1", budgets(), nil, "en")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(set.Predictions) != 2 {
		t.Fatalf("got %d predictions, want 2", len(set.Predictions))
	}
	for _, p := range set.Predictions {
		// 90% of the limit
		if p.Risk != core.RiskMedium {
			t.Errorf("category %d risk = %s, want medium", p.CategoryID, p.Risk)
		}
		if !p.PeriodStart.Before(p.PeriodEnd) || p.PeriodStart.After(c.Now()) {
			t.Errorf("bad window [%v, %v)", p.PeriodStart, p.PeriodEnd)
		}
	}
}
