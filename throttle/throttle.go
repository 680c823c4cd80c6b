package throttle

import (
	"sync"

	"golang.org/x/time/rate"
)

// LaneConfig defines per-lane rate limiting and concurrency.
type LaneConfig struct {
	// Lane is the ordering lane this config applies to ("default", or
	// "high"/"normal"/"low" with priority lanes enabled).
	Lane string

	// MaxConcurrency limits how many jobs from this lane may run at once
	// in the local worker. Zero means no lane-specific limit.
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second started from
	// this lane. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// laneState tracks runtime state for a single lane.
type laneState struct {
	config  LaneConfig
	limiter *rate.Limiter
	active  int
}

// Limiter gates job starts by lane and by user. A job that is refused
// goes back to its lane without consuming an attempt. It is safe for
// concurrent use.
type Limiter struct {
	mu    sync.Mutex
	lanes map[string]*laneState
	users map[string]*userState

	// defaultUser applies to every user without an explicit UserConfig.
	defaultUser *UserConfig
}

// NewLimiter creates a Limiter with the given lane configurations.
// Lanes not listed here have no limits.
func NewLimiter(configs ...LaneConfig) *Limiter {
	l := &Limiter{
		lanes: make(map[string]*laneState, len(configs)),
		users: make(map[string]*userState),
	}
	for _, cfg := range configs {
		l.lanes[cfg.Lane] = newLaneState(cfg)
	}
	return l
}

func newLaneState(cfg LaneConfig) *laneState {
	ls := &laneState{config: cfg}
	ls.limiter = newRateLimiter(cfg.RateLimit, cfg.RateBurst)
	return ls
}

func newRateLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Acquire checks concurrency and rate limits for the lane and user. If
// the job may start it increments the active counters and returns true.
// The caller MUST call Release when the job finishes.
func (l *Limiter) Acquire(lane, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ls := l.lanes[lane]
	us := l.userLocked(userID)

	// Concurrency gates first so a refused job does not burn a token.
	if ls != nil && ls.config.MaxConcurrency > 0 && ls.active >= ls.config.MaxConcurrency {
		return false
	}
	if us != nil && us.maxConcurrency > 0 && us.active >= us.maxConcurrency {
		return false
	}
	if ls != nil && ls.limiter != nil && !ls.limiter.Allow() {
		return false
	}
	if us != nil && us.limiter != nil && !us.limiter.Allow() {
		return false
	}

	if ls != nil {
		ls.active++
	}
	if us != nil {
		us.active++
	}
	return true
}

// Release decrements the active job count for the lane and user.
func (l *Limiter) Release(lane, userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ls := l.lanes[lane]; ls != nil && ls.active > 0 {
		ls.active--
	}

	if userID == "" {
		return
	}
	us := l.users[userID]
	if us == nil {
		return
	}
	if us.active > 0 {
		us.active--
	}
	// Idle users created from the default config hold no state worth
	// keeping unless they carry a token bucket.
	if us.fromDefault && us.active == 0 && us.limiter == nil {
		delete(l.users, userID)
	}
}

// SetLaneConfig dynamically updates (or creates) a lane configuration.
func (l *Limiter) SetLaneConfig(cfg LaneConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	existing := l.lanes[cfg.Lane]
	ls := newLaneState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ls.active = existing.active
	}
	l.lanes[cfg.Lane] = ls
}

// ActiveCount returns the current number of active jobs for a lane.
func (l *Limiter) ActiveCount(lane string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ls := l.lanes[lane]; ls != nil {
		return ls.active
	}
	return 0
}
