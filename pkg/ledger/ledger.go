// Package ledger implements the per-session API quota ledger: a daily usage
// counter that resets at a fixed wall-clock boundary and coalesces bursts of
// same-kind usage into a single log line.
package ledger

import (
	"sync"
	"time"
	_ "time/tzdata" // reset boundary zone must load on hosts without zoneinfo

	"github.com/viralboard/membersync/pkg/membersync"
)

const (
	// DefaultLocation is the zone whose midnight resets the counter
	DefaultLocation = "America/Los_Angeles"

	// DefaultCoalesceWindow is the gap below which same-kind events share a log line
	DefaultCoalesceWindow = 2 * time.Second
)

// Config holds ledger configuration
type Config struct {
	// Limit is the daily budget (default: membersync.PlanFree.UsageLimit())
	Limit int

	// Location defines the daily reset boundary (default: America/Los_Angeles)
	Location *time.Location

	// CoalesceWindow groups consecutive same-kind events (default: 2s, negative disables)
	CoalesceWindow time.Duration

	// Logger receives one line per coalesced burst (default: NoopLogger)
	Logger membersync.Logger

	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Limit <= 0 {
		c.Limit = membersync.PlanFree.UsageLimit()
	}
	if c.Location == nil {
		loc, err := time.LoadLocation(DefaultLocation)
		if err != nil {
			loc = time.UTC
		}
		c.Location = loc
	}
	if c.CoalesceWindow == 0 {
		c.CoalesceWindow = DefaultCoalesceWindow
	}
	if c.Logger == nil {
		c.Logger = &membersync.NoopLogger{}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Usage is a point-in-time view of a ledger.
type Usage struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// burst is a run of same-kind events waiting to be logged.
type burst struct {
	kind   string
	events int
	cost   int
	first  time.Time
	last   time.Time
}

// Ledger counts usage against a daily budget. It is safe for concurrent use.
type Ledger struct {
	config Config

	mu      sync.Mutex
	limit   int
	used    int
	resetAt time.Time
	pending *burst
}

// New creates a ledger starting at zero usage.
func New(config Config) *Ledger {
	config = config.withDefaults()
	return &Ledger{
		config:  config,
		limit:   config.Limit,
		resetAt: nextReset(config.Clock(), config.Location),
	}
}

// RecordUsage adds cost to the counter unconditionally.
func (l *Ledger) RecordUsage(kind string, cost int) error {
	if cost < 0 {
		return ErrInvalidCost
	}

	l.mu.Lock()
	now := l.config.Clock()
	flushed := l.rollover(now)
	flushed = append(flushed, l.record(kind, cost, now)...)
	l.mu.Unlock()

	l.emit(flushed)
	return nil
}

// Consume charges cost only if the remaining budget covers it.
func (l *Ledger) Consume(kind string, cost int) (Usage, error) {
	if cost < 0 {
		return Usage{}, ErrInvalidCost
	}

	l.mu.Lock()
	now := l.config.Clock()
	flushed := l.rollover(now)
	if l.remaining() < cost {
		usage := l.usage()
		l.mu.Unlock()
		l.emit(flushed)
		return usage, ErrQuotaExceeded
	}
	flushed = append(flushed, l.record(kind, cost, now)...)
	usage := l.usage()
	l.mu.Unlock()

	l.emit(flushed)
	return usage, nil
}

// Remaining returns the budget left until the next reset, never negative.
func (l *Ledger) Remaining() int {
	return l.Usage().Remaining
}

// Usage returns the current counter state.
func (l *Ledger) Usage() Usage {
	l.mu.Lock()
	flushed := l.rollover(l.config.Clock())
	usage := l.usage()
	l.mu.Unlock()

	l.emit(flushed)
	return usage
}

// SetLimit changes the daily budget, e.g. after a plan change. Usage
// already recorded today is kept.
func (l *Ledger) SetLimit(limit int) {
	if limit < 0 {
		limit = 0
	}
	l.mu.Lock()
	l.limit = limit
	l.mu.Unlock()
}

// Flush logs any pending burst immediately.
func (l *Ledger) Flush() {
	l.mu.Lock()
	flushed := l.takePending()
	l.mu.Unlock()

	l.emit(flushed)
}

// rollover resets the counter once the boundary has passed. Callers hold mu.
func (l *Ledger) rollover(now time.Time) []logLine {
	if now.Before(l.resetAt) {
		return nil
	}
	flushed := l.takePending()
	l.used = 0
	l.resetAt = nextReset(now, l.config.Location)
	return flushed
}

// record adds an event and returns the burst it closed, if any. Callers hold mu.
func (l *Ledger) record(kind string, cost int, now time.Time) []logLine {
	l.used += cost

	if p := l.pending; p != nil && p.kind == kind && now.Sub(p.last) <= l.config.CoalesceWindow {
		p.events++
		p.cost += cost
		p.last = now
		return nil
	}

	flushed := l.takePending()
	l.pending = &burst{kind: kind, events: 1, cost: cost, first: now, last: now}
	if l.config.CoalesceWindow < 0 {
		flushed = append(flushed, l.takePending()...)
	}
	return flushed
}

// logLine is a flushed burst with the counter state at flush time.
type logLine struct {
	burst
	used  int
	limit int
}

func (l *Ledger) takePending() []logLine {
	if l.pending == nil {
		return nil
	}
	line := logLine{burst: *l.pending, used: l.used, limit: l.limit}
	l.pending = nil
	return []logLine{line}
}

func (l *Ledger) emit(lines []logLine) {
	for _, line := range lines {
		l.config.Logger.Info("api usage",
			membersync.Field{Key: "kind", Value: line.kind},
			membersync.Field{Key: "events", Value: line.events},
			membersync.Field{Key: "cost", Value: line.cost},
			membersync.Field{Key: "used", Value: line.used},
			membersync.Field{Key: "limit", Value: line.limit},
			membersync.Field{Key: "span", Value: line.last.Sub(line.first)},
		)
	}
}

func (l *Ledger) remaining() int {
	if r := l.limit - l.used; r > 0 {
		return r
	}
	return 0
}

func (l *Ledger) usage() Usage {
	return Usage{Used: l.used, Limit: l.limit, Remaining: l.remaining(), ResetAt: l.resetAt}
}

// nextReset returns the first midnight in loc strictly after now.
func nextReset(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}
