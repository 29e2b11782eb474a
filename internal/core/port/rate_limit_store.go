package port

import (
	"context"
	"time"
)

// RateLimitWindow is the state of a sliding window right after an attempt was
// offered to it.
type RateLimitWindow struct {
	// Count of admitted attempts inside the window, including this one if admitted.
	Count    int
	Admitted bool
	// Oldest admitted attempt still inside the window; zero when the window is empty.
	Oldest time.Time
}

// RateLimitStore admits attempts against per-key sliding windows. Admit must
// trim, count and record as one atomic step so concurrent callers cannot both
// take the last slot. Rejected attempts are not recorded.
type RateLimitStore interface {
	Admit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (RateLimitWindow, error)
}
