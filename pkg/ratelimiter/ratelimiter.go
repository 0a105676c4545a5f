package ratelimiter

// RateLimiter decides whether a request may proceed.
type RateLimiter interface {
	// Allow returns true if the request is allowed.
	Allow() bool
}
