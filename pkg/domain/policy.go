package domain

import (
	"time"
)

// Policy selects how a paste expires.
type Policy string

const (
	PolicyNever    Policy = "never"
	PolicyDuration Policy = "duration"
	PolicyViews    Policy = "views"
	PolicyBurn     Policy = "burn"
)

const MaxViewLimit = 1000

// ResolvePolicy maps a policy selector to the absolute expiry time and view
// limit the lifecycle stores operate on. Burn-after-read is a view limit of 1.
func ResolvePolicy(p Policy, d time.Duration, maxViews int, now time.Time) (*time.Time, *int, error) {
	switch p {
	case PolicyNever:
		return nil, nil, nil
	case PolicyDuration:
		if d <= 0 {
			return nil, nil, ErrInvalidDuration
		}
		exp := now.Add(d)
		return &exp, nil, nil
	case PolicyViews:
		if maxViews <= 0 || maxViews > MaxViewLimit {
			return nil, nil, ErrInvalidPolicy
		}
		n := maxViews
		return nil, &n, nil
	case PolicyBurn:
		one := 1
		return nil, &one, nil
	default:
		return nil, nil, ErrInvalidPolicy
	}
}

// PayloadTTL computes the volatile-store TTL mirroring an absolute expiry.
// Zero means no native expiry.
func PayloadTTL(expiresAt *time.Time, now time.Time) time.Duration {
	if expiresAt == nil {
		return 0
	}
	ttl := expiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
