// Package ratelimiter provides sliding-window admission control for outbound
// search calls. Two implementations share the Limiter interface: an
// in-process timestamp window for single-instance deployments and a Redis
// Lua variant for multi-instance ones.
package ratelimiter

import "context"

// Limiter admits call starts. Wait blocks until the caller may proceed or
// the context is done.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Nop admits every call immediately.
type Nop struct{}

// Wait implements Limiter.
func (Nop) Wait(context.Context) error { return nil }
