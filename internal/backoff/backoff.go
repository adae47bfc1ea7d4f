// Package backoff computes wait times between attempts.
package backoff

import (
	"math"
	"math/rand"
	"strings"
	"time"
)

type Policy string

const (
	Fixed          Policy = "fixed"
	Linear         Policy = "linear"
	Exponential    Policy = "exponential"
	ExpEqualJitter Policy = "exp_equal_jitter"
	ExpFullJitter  Policy = "exp_full_jitter"
)

// ParsePolicy falls back to Fixed for unknown names.
func ParsePolicy(s string) Policy {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case Fixed, Linear, Exponential, ExpEqualJitter, ExpFullJitter:
		return p
	}
	return Fixed
}

// Schedule is a policy bound to its base and ceiling.
type Schedule struct {
	Policy Policy
	Base   time.Duration
	Max    time.Duration
	rng    *rand.Rand
}

func NewSchedule(policy Policy, base, max time.Duration, seed int64) *Schedule {
	if base <= 0 {
		base = time.Second
	}
	if max < base {
		max = base
	}
	return &Schedule{Policy: policy, Base: base, Max: max, rng: rand.New(rand.NewSource(seed))}
}

// Delay is the wait before attempt n, counted from zero.
func (s *Schedule) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	capped := func(d time.Duration) time.Duration {
		if d > s.Max || d < 0 {
			return s.Max
		}
		return d
	}
	exp := capped(time.Duration(float64(s.Base) * math.Pow(2, float64(n))))
	switch s.Policy {
	case Fixed:
		return s.Base
	case Linear:
		return capped(s.Base * time.Duration(n+1))
	case Exponential:
		return exp
	case ExpEqualJitter:
		half := exp / 2
		return half + time.Duration(s.rng.Int63n(int64(half)+1))
	default:
		if exp <= 0 {
			return 0
		}
		return time.Duration(s.rng.Int63n(int64(exp) + 1))
	}
}
