// Package ratelimit keeps per-realm throttle windows learned from 429
// responses.
package ratelimit
