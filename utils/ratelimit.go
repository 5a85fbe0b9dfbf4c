package utils

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"nicotsm/internal"
)

// RequestLimiter paces upstream requests with a token bucket
type RequestLimiter struct {
	mutex   sync.RWMutex
	limiter *rate.Limiter
}

// NewRequestLimiter creates a limiter allowing requestsPerSecond with a
// burst of one. A non-positive rate disables pacing.
func NewRequestLimiter(requestsPerSecond float64) internal.RateLimiter {
	l := &RequestLimiter{}
	l.SetRate(requestsPerSecond)
	return l
}

// Wait blocks until the next request may be sent
func (l *RequestLimiter) Wait(ctx context.Context) error {
	l.mutex.RLock()
	limiter := l.limiter
	l.mutex.RUnlock()

	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate updates the allowed requests per second
func (l *RequestLimiter) SetRate(requestsPerSecond float64) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if requestsPerSecond <= 0 || math.IsInf(requestsPerSecond, 1) {
		l.limiter = nil
		return
	}
	if l.limiter == nil {
		l.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		return
	}
	l.limiter.SetLimit(rate.Limit(requestsPerSecond))
}

// Rate returns the current limit in requests per second, 0 when disabled
func (l *RequestLimiter) Rate() float64 {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	if l.limiter == nil {
		return 0
	}
	return float64(l.limiter.Limit())
}

// ParseRateLimit parses rate limit strings like "2", "2/s", "30/m" or "600/h"
// into requests per second.
func ParseRateLimit(rateStr string) (float64, error) {
	s := strings.TrimSpace(strings.ToLower(rateStr))
	if s == "" || s == "0" {
		return 0, nil
	}

	divisor := 1.0
	if i := strings.Index(s, "/"); i >= 0 {
		switch s[i+1:] {
		case "s", "sec", "second":
			divisor = 1
		case "m", "min", "minute":
			divisor = 60
		case "h", "hour":
			divisor = 3600
		default:
			return 0, fmt.Errorf("invalid rate limit unit: %s", s[i+1:])
		}
		s = s[:i]
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid rate limit value: %s", rateStr)
	}
	if value < 0 {
		return 0, fmt.Errorf("rate limit cannot be negative: %s", rateStr)
	}

	return value / divisor, nil
}
