package adplatform

import (
	"context"
	"strconv"
	"strings"

	"golang.org/x/time/rate"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	DailyRequestsMax  int64 // 0 means unlimited
}

// DefaultRateLimit is conservative; override via env to match the app's Graph tier.
func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 1, Burst: 2, DailyRequestsMax: 0}
}

// RateLimitFromEnv applies overrides such as FACEBOOK_RPS=0.5, FACEBOOK_BURST=2,
// FACEBOOK_DAILY_MAX=10000 on top of def.
func RateLimitFromEnv(getenv func(string) string, platform string, def RateLimitConfig) RateLimitConfig {
	prefix := envPrefix(platform)
	if v := getenv(prefix + "RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			def.RequestsPerSecond = f
		}
	}
	if v := getenv(prefix + "BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			def.Burst = n
		}
	}
	if v := getenv(prefix + "DAILY_MAX"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			def.DailyRequestsMax = n
		}
	}
	return def
}

func (c RateLimitConfig) Limiter() *rate.Limiter {
	if c.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := c.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}

// UsageCounter is the daily quota ledger (store.Store satisfies it).
type UsageCounter interface {
	ConsumeRequests(ctx context.Context, platform string, add int64, dailyMax int64) (ok bool, used int64, err error)
}

func envPrefix(platform string) string {
	return strings.ReplaceAll(strings.ToUpper(platform), "-", "_") + "_"
}
