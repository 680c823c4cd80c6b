// Package throttle provides per-lane and per-user rate limiting and
// concurrency caps for the worker.
//
// A job refused by the [Limiter] is returned to the tail of its lane in
// queued status without consuming an attempt, so throttling never counts
// against a job's retry budget.
//
// # Lane Configuration
//
//	throttle.LaneConfig{
//	    Lane:           "default",
//	    MaxConcurrency: 5,  // max 5 concurrent jobs from this lane
//	    RateLimit:      10, // max 10 job starts/s
//	    RateBurst:      20, // allow bursts up to 20
//	}
//
// # User Configuration
//
// [Limiter.SetUserConfig] caps a single user; [Limiter.SetDefaultUserConfig]
// caps every user without an explicit config:
//
//	l := throttle.NewLimiter()
//	l.SetDefaultUserConfig(throttle.UserConfig{MaxConcurrency: 1})
//	if l.Acquire(lane, userID) {
//	    defer l.Release(lane, userID)
//	    // process the job
//	}
//
// Both use a token-bucket rate limiter (golang.org/x/time/rate) and an
// active-count gate for concurrency.
package throttle
