// Package prediction serves budget forecasts from a time-boxed cache and
// calls the external forecaster only when the cached entry is stale, missing
// or an explicit refresh is requested.
package prediction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"pocketledger/internal/budget"
	"pocketledger/internal/cache"
	"pocketledger/internal/core"
	"pocketledger/internal/log"
	"pocketledger/internal/ports"
	"pocketledger/internal/retry"
)

const (
	DefaultTTL    = 6 * time.Hour
	DefaultMaxAge = 24 * time.Hour

	localCacheSize = 512
)

// DefaultRetry retries UNKNOWN_ERROR failures twice with 1s, 2s backoff,
// capped at 10s. Auth and no-budget failures are final.
func DefaultRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 3,
		Backoff:     retry.Exponential(time.Second, 2, 10*time.Second),
		Retryable: func(err error) bool {
			return core.PredictionCode(err) == core.CodeUnknown
		},
	}
}

type Service struct {
	store      ports.PredictionStore
	forecaster ports.Forecaster
	local      *cache.LRUCache[ports.PredictionEntry]
	group      singleflight.Group
	ttl        time.Duration
	maxAge     time.Duration
	policy     retry.Policy
	loc        *time.Location
	now        func() time.Time
	logger     *log.Logger
}

type Option func(*Service)

func WithTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithMaxAge sets the age after which Cleanup removes entries.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

func WithRetry(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store ports.PredictionStore, forecaster ports.Forecaster, opts ...Option) *Service {
	s := &Service{
		store:      store,
		forecaster: forecaster,
		ttl:        DefaultTTL,
		maxAge:     DefaultMaxAge,
		policy:     DefaultRetry(),
		loc:        time.UTC,
		now:        time.Now,
		logger:     log.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.local = cache.NewLRUCache[ports.PredictionEntry](localCacheSize, s.ttl).WithClock(s.now)
	s.logger = s.logger.WithComponent(log.ComponentPrediction)
	return s
}

// LocalCache exposes the in-process copy so it can be registered for
// periodic cleanup.
func (s *Service) LocalCache() cache.Cleaner { return s.local }

// CacheKey derives the cache key from the owner, the budget set and the
// language. Budget order does not matter.
func CacheKey(ownerID string, budgets []core.Budget, language string) string {
	parts := make([]string, 0, len(budgets))
	for _, b := range budgets {
		parts = append(parts, fmt.Sprintf("%d:%s:%s", b.CategoryID, b.Amount.StringFixed(core.MoneyScale), b.Period))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(ownerID + "|" + strings.Join(parts, ",") + "|" + language))
	return hex.EncodeToString(sum[:])
}

// GetOrGenerate returns the cached forecast when it is younger than the TTL
// and otherwise asks the forecaster and caches the answer.
func (s *Service) GetOrGenerate(ctx context.Context, ownerID string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error) {
	if len(budgets) == 0 {
		return core.PredictionSet{}, &core.PredictionError{Code: core.CodeNoBudgets, Err: errors.New("no budgets to forecast")}
	}
	key := CacheKey(ownerID, budgets, language)
	if e, ok := s.lookup(ctx, ownerID, key); ok {
		s.logger.DebugContext(ctx, "Prediction cache hit", log.FieldOwnerID, ownerID, log.FieldCacheKey, key)
		return e.Set, nil
	}

	v, err, _ := s.group.Do("get|"+ownerID+"|"+key, func() (any, error) {
		// Another caller may have filled the cache while we waited.
		if e, ok := s.lookup(ctx, ownerID, key); ok {
			return e.Set, nil
		}
		return s.generate(ctx, ownerID, key, budgets, txs, language)
	})
	if err != nil {
		return core.PredictionSet{}, err
	}
	return v.(core.PredictionSet), nil
}

// Refresh always calls the forecaster and replaces the cached entry.
func (s *Service) Refresh(ctx context.Context, ownerID string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error) {
	if len(budgets) == 0 {
		return core.PredictionSet{}, &core.PredictionError{Code: core.CodeNoBudgets, Err: errors.New("no budgets to forecast")}
	}
	key := CacheKey(ownerID, budgets, language)
	v, err, _ := s.group.Do("refresh|"+ownerID+"|"+key, func() (any, error) {
		return s.generate(ctx, ownerID, key, budgets, txs, language)
	})
	if err != nil {
		return core.PredictionSet{}, err
	}
	return v.(core.PredictionSet), nil
}

// Cleanup removes the owner's entries older than the max age. It is safe to
// run concurrently with GetOrGenerate.
func (s *Service) Cleanup(ctx context.Context, ownerID string) (int64, error) {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.DeleteOlderThan(ctx, ownerID, cutoff)
	if err != nil {
		return 0, core.Persistence("delete old predictions", err)
	}
	s.local.CleanExpired()
	if n > 0 {
		s.logger.InfoContext(ctx, "Old predictions removed", log.FieldOwnerID, ownerID, "count", n)
	}
	return n, nil
}

// Owners returns every owner with cached forecasts in the store.
func (s *Service) Owners(ctx context.Context) ([]string, error) {
	owners, err := s.store.Owners(ctx)
	if err != nil {
		return nil, core.Persistence("list prediction owners", err)
	}
	return owners, nil
}

func (s *Service) fresh(e ports.PredictionEntry) bool {
	return s.now().Sub(e.GeneratedAt) < s.ttl
}

// lookup checks the in-process copy, then the store. A store failure is
// logged and treated as a miss.
func (s *Service) lookup(ctx context.Context, ownerID, key string) (ports.PredictionEntry, bool) {
	localKey := ownerID + "|" + key
	if e, ok := s.local.Get(localKey); ok && s.fresh(e) {
		return e, true
	}
	e, ok, err := s.store.Get(ctx, ownerID, key)
	if err != nil {
		s.logger.WarnContext(ctx, "Prediction cache read failed",
			log.FieldOwnerID, ownerID,
			log.FieldCacheKey, key,
			log.FieldError, err)
		return ports.PredictionEntry{}, false
	}
	if !ok || !s.fresh(e) {
		return ports.PredictionEntry{}, false
	}
	s.local.SetUntil(localKey, e, e.GeneratedAt.Add(s.ttl))
	return e, true
}

func (s *Service) generate(ctx context.Context, ownerID, key string, budgets []core.Budget, txs []core.Transaction, language string) (core.PredictionSet, error) {
	now := s.now().UTC()
	req := buildRequest(budgets, txs, language, now)

	var resp ports.ForecastResponse
	attempt := 0
	err := retry.Do(ctx, s.policy, func(ctx context.Context) error {
		attempt++
		var err error
		resp, err = s.forecaster.Forecast(ctx, req)
		if err != nil {
			s.logger.WarnContext(ctx, "Forecaster call failed",
				log.FieldOwnerID, ownerID,
				log.FieldAttempt, attempt,
				log.FieldError, err)
		}
		return err
	})
	if err != nil {
		var pe *core.PredictionError
		if !errors.As(err, &pe) {
			err = &core.PredictionError{Code: core.CodeUnknown, Err: err}
		}
		return core.PredictionSet{}, err
	}

	set := s.assemble(resp, budgets, language, now)
	entry := ports.PredictionEntry{OwnerID: ownerID, Key: key, Set: set, GeneratedAt: now}
	s.local.SetUntil(ownerID+"|"+key, entry, now.Add(s.ttl))
	if err := s.store.Put(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "Prediction cache write failed",
			log.FieldOwnerID, ownerID,
			log.FieldCacheKey, key,
			log.FieldError, err)
	}
	s.logger.InfoContext(ctx, "Predictions generated",
		log.FieldOwnerID, ownerID,
		"budgets", len(budgets),
		"overall_risk", string(set.OverallRisk))
	return set, nil
}

func buildRequest(budgets []core.Budget, txs []core.Transaction, language string, now time.Time) ports.ForecastRequest {
	req := ports.ForecastRequest{
		Budgets:      make([]ports.ForecastBudget, 0, len(budgets)),
		Transactions: make([]ports.ForecastTransaction, 0, len(txs)),
		CurrentDate:  now,
		Language:     language,
	}
	for _, b := range budgets {
		req.Budgets = append(req.Budgets, ports.ForecastBudget{CategoryID: b.CategoryID, Limit: b.Amount, Period: b.Period})
	}
	for _, t := range txs {
		req.Transactions = append(req.Transactions, ports.ForecastTransaction{
			ID: t.ID, Type: t.Type, Amount: t.Amount, CategoryID: t.CategoryID, OccurredAt: t.OccurredAt,
		})
	}
	return req
}

func (s *Service) assemble(resp ports.ForecastResponse, budgets []core.Budget, language string, now time.Time) core.PredictionSet {
	byCategory := make(map[int64]ports.ForecastPrediction, len(resp.Predictions))
	for _, p := range resp.Predictions {
		byCategory[p.CategoryID] = p
	}
	set := core.PredictionSet{
		OverallRisk: resp.OverallRisk,
		Summary:     resp.Summary,
		Language:    language,
		GeneratedAt: now,
	}
	worst := core.RiskLow
	for _, b := range budgets {
		p, ok := byCategory[b.CategoryID]
		if !ok {
			continue
		}
		risk := p.Risk
		if !risk.IsValid() {
			risk = riskFor(p.ProjectedSpend, b.Amount)
		}
		if rank(risk) > rank(worst) {
			worst = risk
		}
		start, end, err := budget.WindowFor(b.Period, now, s.loc)
		if err != nil {
			continue
		}
		set.Predictions = append(set.Predictions, core.BudgetPrediction{
			CategoryID:     b.CategoryID,
			Limit:          b.Amount,
			ProjectedSpend: p.ProjectedSpend,
			Risk:           risk,
			PeriodStart:    start,
			PeriodEnd:      end,
			GeneratedAt:    now,
		})
	}
	if !set.OverallRisk.IsValid() {
		set.OverallRisk = worst
	}
	return set
}

var (
	mediumThreshold = decimal.NewFromFloat(0.8)
	one             = decimal.NewFromInt(1)
)

// riskFor derives a risk level from projected spend against the limit.
func riskFor(projected, limit decimal.Decimal) core.Risk {
	if !limit.IsPositive() {
		return core.RiskHigh
	}
	ratio := projected.Div(limit)
	switch {
	case ratio.GreaterThanOrEqual(one):
		return core.RiskHigh
	case ratio.GreaterThanOrEqual(mediumThreshold):
		return core.RiskMedium
	default:
		return core.RiskLow
	}
}

func rank(r core.Risk) int {
	switch r {
	case core.RiskHigh:
		return 2
	case core.RiskMedium:
		return 1
	default:
		return 0
	}
}
