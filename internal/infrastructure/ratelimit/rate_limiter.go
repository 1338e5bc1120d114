package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionTyping      = "typing"
	ActionSync        = "sync"
	ActionAuth        = "auth"
)

// Limit is a per-minute allowance with a burst.
type Limit struct {
	PerMinute int
	Burst     int
}

var defaultLimit = Limit{PerMinute: 20, Burst: 20}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	limits  map[string]Limit
	entries map[string]*entry
	mutex   sync.Mutex
	now     func() time.Time
}

func NewRateLimiter(limits map[string]Limit) *RateLimiter {
	merged := map[string]Limit{
		ActionSendMessage: {PerMinute: 60, Burst: 10},
		ActionCreateChat:  {PerMinute: 10, Burst: 5},
		ActionTyping:      {PerMinute: 30, Burst: 10},
		ActionSync:        {PerMinute: 120, Burst: 50},
		ActionAuth:        {PerMinute: 10, Burst: 5},
	}
	for action, limit := range limits {
		merged[action] = limit
	}
	return &RateLimiter{
		limits:  merged,
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func (rl *RateLimiter) limitFor(action string) Limit {
	limit, ok := rl.limits[action]
	if !ok {
		limit = defaultLimit
	}
	if limit.Burst <= 0 {
		limit.Burst = 1
	}
	return limit
}

// Allow reports whether userID may perform action now, consuming a token if so.
func (rl *RateLimiter) Allow(userID, action string) bool {
	return rl.limiterFor(userID, action).AllowN(rl.now(), 1)
}

// Reserve is Allow that also reports how long to wait when denied.
func (rl *RateLimiter) Reserve(userID, action string) (bool, time.Duration) {
	now := rl.now()
	res := rl.limiterFor(userID, action).ReserveN(now, 1)
	if !res.OK() {
		return false, 0
	}
	delay := res.DelayFrom(now)
	if delay == 0 {
		return true, 0
	}
	res.CancelAt(now)
	return false, delay
}

func (rl *RateLimiter) limiterFor(userID, action string) *rate.Limiter {
	key := userID + ":" + action

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		limit := rl.limitFor(action)
		every := rate.Every(time.Minute / time.Duration(max(limit.PerMinute, 1)))
		e = &entry{limiter: rate.NewLimiter(every, limit.Burst)}
		rl.entries[key] = e
	}
	e.lastSeen = rl.now()
	return e.limiter
}

// Cleanup forgets buckets idle for longer than idle.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	removed := 0
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > idle {
			delete(rl.entries, key)
			removed++
		}
	}
	return removed
}

// StartCleanupRoutine periodically drops idle buckets until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup(time.Hour)
			case <-ctx.Done():
				return
			}
		}
	}()
}
