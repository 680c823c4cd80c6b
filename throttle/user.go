package throttle

import "golang.org/x/time/rate"

// UserConfig defines rate limits and concurrency for one user, identified
// by the user_id of the generation request.
type UserConfig struct {
	// UserID is the user this config applies to. It is ignored by
	// SetDefaultUserConfig.
	UserID string

	// RateLimit is the sustained jobs per second for this user.
	RateLimit float64

	// RateBurst is the burst size for the user's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this user. Zero means
	// no user-specific concurrency limit.
	MaxConcurrency int
}

// userState tracks runtime state for a single user.
type userState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
	fromDefault    bool
}

func newUserState(cfg UserConfig) *userState {
	return &userState{
		limiter:        newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// SetUserConfig configures rate limits and concurrency for a specific
// user. Calling this again for the same user replaces the previous
// configuration.
func (l *Limiter) SetUserConfig(cfg UserConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	us := newUserState(cfg)
	if existing := l.users[cfg.UserID]; existing != nil {
		us.active = existing.active
	}
	l.users[cfg.UserID] = us
}

// SetDefaultUserConfig sets the limits applied to users that have no
// explicit UserConfig.
func (l *Limiter) SetDefaultUserConfig(cfg UserConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cfg.UserID = ""
	l.defaultUser = &cfg
}

// UserActiveCount returns the current number of active jobs for a user.
func (l *Limiter) UserActiveCount(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if us := l.users[userID]; us != nil {
		return us.active
	}
	return 0
}

// userLocked returns the state for userID, creating it from the default
// config when needed. Callers must hold l.mu.
func (l *Limiter) userLocked(userID string) *userState {
	if userID == "" {
		return nil
	}
	if us := l.users[userID]; us != nil {
		return us
	}
	if l.defaultUser == nil {
		return nil
	}
	us := newUserState(*l.defaultUser)
	us.fromDefault = true
	l.users[userID] = us
	return us
}
