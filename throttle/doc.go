// Package throttle enforces per-job-type rate limits and concurrency
// caps at dispatch time.
//
// Use [Config] to set limits for a job type:
//
//	throttle.Config{
//	    Type:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    RateLimit:      10,     // max 10 email jobs/s dispatched
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// [Manager] checks both limits with a single Acquire call. It uses a
// token-bucket rate limiter (golang.org/x/time/rate) and an active-count
// gate for concurrency limits.
//
//	m := throttle.NewManager(configs...)
//	if m.Acquire(jobType) {
//	    defer m.Release(jobType)
//	    // run the job
//	}
//
// Job types without a [Config] have no limits beyond the pool-wide
// concurrency.
package throttle
