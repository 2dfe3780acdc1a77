package worker

import (
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"rest-lifecycle/internal/metrics"
	"rest-lifecycle/internal/model"
)

// Option configures a Transport.
type Option func(*Transport)

// WithPoolSize sets the number of worker goroutines.
func WithPoolSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.poolSize = n
		}
	}
}

// WithHTTPClient sets the client used for exchanges.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithRateLimit caps exchanges at r per second with the given burst.
// A non-positive r disables limiting.
func WithRateLimit(r float64, burst int) Option {
	return func(t *Transport) {
		if r <= 0 {
			t.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		t.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

func WithMetrics(c *metrics.Collector) Option {
	return func(t *Transport) { t.metrics = c }
}

// WithSuccessRange sets the codes for which returned resources are marked StateOK.
func WithSuccessRange(r model.SuccessRange) Option {
	return func(t *Transport) { t.success = r }
}
