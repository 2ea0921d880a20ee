package trust

import (
	"hash/fnv"
	"sync"
	"time"
)

const rateShards = 32

// RateLimiter enforces per-key request budgets over sliding one-minute and
// one-hour windows. State is process-local; each key's timestamps live in
// exactly one shard, so concurrent checks on different keys rarely contend
// on the same lock.
type RateLimiter struct {
	rpm int
	rph int
	now func() time.Time

	shards [rateShards]rateShard
}

type rateShard struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

// Decision is the outcome of a single admission check. When Allowed is
// false, LimitType names the window that was exhausted and ResetAt is when
// the oldest request in that window leaves it.
type Decision struct {
	Allowed   bool
	LimitType string
	Limit     int
	ResetAt   time.Time

	MinuteRemaining int
	HourRemaining   int
	MinuteLimit     int
	HourLimit       int
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = now
	}
}

func NewRateLimiter(rpm, rph int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		rpm: rpm,
		rph: rph,
		now: time.Now,
	}
	for i := range rl.shards {
		rl.shards[i].entries = make(map[string][]time.Time)
	}
	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

func (rl *RateLimiter) shard(key string) *rateShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &rl.shards[h.Sum32()%rateShards]
}

// Check admits or rejects a request for key. The request timestamp is only
// recorded on admission, so rejected requests do not extend the caller's
// penalty.
func (rl *RateLimiter) Check(key string) Decision {
	now := rl.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	s := rl.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := s.entries[key]

	// Timestamps are appended in order, so everything older than an hour
	// sits at the front.
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(hourAgo) {
		idx++
	}
	stamps = stamps[idx:]

	hourCount := len(stamps)
	minuteCount := 0
	for i := len(stamps) - 1; i >= 0; i-- {
		if !stamps[i].After(minuteAgo) {
			break
		}
		minuteCount++
	}

	d := Decision{
		Allowed:     true,
		MinuteLimit: rl.rpm,
		HourLimit:   rl.rph,
	}

	switch {
	case minuteCount >= rl.rpm:
		d.Allowed = false
		d.LimitType = "rpm"
		d.Limit = rl.rpm
		d.ResetAt = stamps[len(stamps)-minuteCount].Add(time.Minute)
	case hourCount >= rl.rph:
		d.Allowed = false
		d.LimitType = "rph"
		d.Limit = rl.rph
		d.ResetAt = stamps[0].Add(time.Hour)
	default:
		stamps = append(stamps, now)
		minuteCount++
		hourCount++
	}
	s.entries[key] = stamps

	d.MinuteRemaining = max(rl.rpm-minuteCount, 0)
	d.HourRemaining = max(rl.rph-hourCount, 0)

	return d
}

// Stats reports current window usage for key without recording a request.
func (rl *RateLimiter) Stats(key string) (minuteUsed, hourUsed int) {
	now := rl.now()
	hourAgo := now.Add(-time.Hour)
	minuteAgo := now.Add(-time.Minute)

	s := rl.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range s.entries[key] {
		if ts.After(hourAgo) {
			hourUsed++
		}
		if ts.After(minuteAgo) {
			minuteUsed++
		}
	}

	return minuteUsed, hourUsed
}
