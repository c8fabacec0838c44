package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"brokenLinkAnalyzerGO/internal/metrics"
)

// hostBreakers keeps one circuit breaker per host, so a dead host stops
// being probed after a few consecutive failures while others continue.
type hostBreakers struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[int]
	failures uint32
	cooldown time.Duration
	logger   *slog.Logger
}

func newHostBreakers(failures uint32, cooldown time.Duration, logger *slog.Logger) *hostBreakers {
	return &hostBreakers{
		breakers: make(map[string]*gobreaker.CircuitBreaker[int]),
		failures: failures,
		cooldown: cooldown,
		logger:   logger,
	}
}

func (h *hostBreakers) get(host string) *gobreaker.CircuitBreaker[int] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if cb, ok := h.breakers[host]; ok {
		return cb
	}

	threshold := h.failures
	cb := gobreaker.NewCircuitBreaker[int](gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Timeout:     h.cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A crawl being cancelled says nothing about the host.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			h.logger.Warn("Circuit breaker state change", "host", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerTransitions.WithLabelValues(from.String(), to.String()).Inc()
		},
	})
	h.breakers[host] = cb
	return cb
}
