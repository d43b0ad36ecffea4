package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// backoff returns the delay after the given 0-indexed attempt:
// BaseDelay·2^attempt capped at MaxDelay, then jittered.
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt))
	if limit := float64(cfg.MaxDelay); limit > 0 && delay > limit {
		delay = limit
	}
	if cfg.Jitter > 0 {
		delay += delay * cfg.Jitter * (rand.Float64()*2 - 1)
	}
	return time.Duration(max(delay, 0))
}
