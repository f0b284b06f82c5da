package core

import (
	"context"
	"time"
)

// Limiter counts hits on a key within a time window.
type Limiter interface {
	// Allow records a hit on key and reports whether it is still within `limit` hits for the current window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	// Reset forgets all hits on key.
	Reset(ctx context.Context, key string) error
}
