// Package predictor is a client for an external drug-pair severity model.
// Its answers are advisory only.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/meditrek-engine/internal/domain"
)

// Config represents configuration for the predictor client
type Config struct {
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	RateLimit int           `json:"rate_limit"` // requests per second
	CacheSize int           `json:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl"`
}

// ConfigFromDomain converts the loaded predictor section.
func ConfigFromDomain(cfg domain.PredictorConfig) Config {
	return Config{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		RateLimit: cfg.RateLimit,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}
}

type predictRequest struct {
	Drug1 string `json:"drug1"`
	Drug2 string `json:"drug2"`
}

type predictResponse struct {
	Severity    string  `json:"severity"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// HTTPPredictor calls POST {base}/predict behind a rate limiter, a circuit
// breaker and a result cache.
type HTTPPredictor struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	cache      *expirable.LRU[string, domain.Prediction]
	logger     *logrus.Logger
}

// NewHTTPPredictor creates a predictor client
func NewHTTPPredictor(config Config, logger *logrus.Logger) (*HTTPPredictor, error) {
	if config.BaseURL == "" {
		return nil, domain.NewValidationError("predictor.base_url", "base url is required", config.BaseURL)
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 10
	}
	if config.CacheSize == 0 {
		config.CacheSize = 1024
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = time.Hour
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "SeverityPredictor",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &HTTPPredictor{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker:   breaker,
		cache:     expirable.NewLRU[string, domain.Prediction](config.CacheSize, nil, config.CacheTTL),
		logger:    logger,
	}, nil
}

// Predict returns the model's severity for the pair. Every failure wraps
// domain.ErrPredictorUnavailable.
func (p *HTTPPredictor) Predict(ctx context.Context, drugA, drugB string) (domain.Prediction, error) {
	key := pairKey(drugA, drugB)
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}

	if err := p.rateLimit.Wait(ctx); err != nil {
		return domain.Prediction{}, fmt.Errorf("rate limit wait failed: %w: %w", domain.ErrPredictorUnavailable, err)
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.query(ctx, drugA, drugB)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Prediction{}, fmt.Errorf("predictor circuit open: %w", domain.ErrPredictorUnavailable)
		}
		return domain.Prediction{}, fmt.Errorf("predictor query failed: %w: %w", domain.ErrPredictorUnavailable, err)
	}

	prediction := result.(domain.Prediction)
	p.cache.Add(key, prediction)
	return prediction, nil
}

func (p *HTTPPredictor) query(ctx context.Context, drugA, drugB string) (domain.Prediction, error) {
	body, err := json.Marshal(predictRequest{Drug1: drugA, Drug2: drugB})
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/predict", bytes.NewReader(body))
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.Prediction{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return domain.Prediction{}, fmt.Errorf("predictor returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Prediction{}, fmt.Errorf("failed to decode response: %w", err)
	}

	// labels the model cannot map (e.g. "Unknown") are read as no interaction
	severity, err := domain.ParseSeverity(out.Severity)
	if err != nil {
		p.logger.WithField("label", out.Severity).Debug("Unrecognized predictor severity label")
		severity = domain.SeverityNone
	}
	return domain.Prediction{Severity: severity, Confidence: out.Confidence}, nil
}

// State returns the circuit breaker state.
func (p *HTTPPredictor) State() gobreaker.State {
	return p.breaker.State()
}

func pairKey(a, b string) string {
	a, b = domain.NormalizeName(a), domain.NormalizeName(b)
	if b < a {
		a, b = b, a
	}
	return a + "|" + b
}
