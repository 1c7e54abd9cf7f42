// Package timeutil provides timezone utilities for the academy's local time.
// Lessons, streaks and attendance days are all counted in the academy's
// wall clock, so every calendar computation goes through this package.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// DefaultZoneName is used when no timezone is configured.
const DefaultZoneName = "America/Sao_Paulo"

// fallbackZone mirrors America/Sao_Paulo (UTC-3, no DST since 2019) when the
// tzdata database is unavailable in the runtime image.
var fallbackZone = time.FixedZone(DefaultZoneName, -3*60*60)

var (
	mu       sync.RWMutex
	academyZ = fallbackZone
)

// LoadLocation resolves a zone name, falling back to the fixed UTC-3 zone
// for the default name when tzdata is missing.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultZoneName {
			return fallbackZone, nil
		}
		return nil, fmt.Errorf("timeutil: unknown time zone %q: %w", name, err)
	}
	return loc, nil
}

// SetLocation sets the process-wide academy location.
func SetLocation(loc *time.Location) {
	if loc == nil {
		return
	}
	mu.Lock()
	academyZ = loc
	mu.Unlock()
}

// Location returns the academy location.
func Location() *time.Location {
	mu.RLock()
	defer mu.RUnlock()
	return academyZ
}

// ═══════════════════════════════════════════════════════════════════════════
// CLOCK
// ═══════════════════════════════════════════════════════════════════════════

// Clock abstracts the current time so lazy status and admission windows
// can be evaluated against a fixed instant.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time in the academy location.
func (SystemClock) Now() time.Time {
	return time.Now().In(Location())
}

// FixedClock always returns the same instant.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFixedClock creates a clock stopped at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now returns the stored instant.
func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

// ═══════════════════════════════════════════════════════════════════════════
// CALENDAR HELPERS
// ═══════════════════════════════════════════════════════════════════════════

// Now returns the current time in the academy location.
func Now() time.Time {
	return time.Now().In(Location())
}

// WeekdayNamePt returns the Portuguese weekday name used in lesson titles and reports.
func WeekdayNamePt(d time.Weekday) string {
	names := [...]string{
		"Domingo",
		"Segunda-feira",
		"Terça-feira",
		"Quarta-feira",
		"Quinta-feira",
		"Sexta-feira",
		"Sábado",
	}
	return names[d]
}
