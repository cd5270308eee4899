// Package worldclock holds the simulated world state advanced once per
// completed player turn: a 12-hour clock moving in fixed 15-minute steps and a
// weather level walking randomly between 1 (clear) and 10 (severe).
package worldclock

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// TimeOfDay is the stored 12-hour representation of the story clock,
// e.g. "11:45 PM".
type TimeOfDay string

// DefaultTimeOfDay is the clock value new stories start with.
const DefaultTimeOfDay TimeOfDay = "9:00 AM"

// turnQuantum is the amount of simulated time one player turn consumes.
const turnQuantum = 15 * time.Minute

// WeatherLevel is the story weather on a 1..10 scale; 1 is the clearest sky,
// 10 the most severe storm.
type WeatherLevel int

const (
	WeatherMin WeatherLevel = 1
	WeatherMax WeatherLevel = 10
)

// DefaultWeather is the weather level new stories start with.
const DefaultWeather WeatherLevel = 3

// parseTimeOfDay splits "H:MM AM" into minutes since midnight.
func parseTimeOfDay(t TimeOfDay) (int, error) {
	var hour, minute int
	var meridiem string
	if _, err := fmt.Sscanf(strings.TrimSpace(string(t)), "%d:%d %s", &hour, &minute, &meridiem); err != nil {
		return 0, fmt.Errorf("malformed time of day %q: %w", t, err)
	}
	if hour < 1 || hour > 12 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time of day %q out of range", t)
	}
	switch strings.ToUpper(meridiem) {
	case "AM":
		if hour == 12 {
			hour = 0
		}
	case "PM":
		if hour != 12 {
			hour += 12
		}
	default:
		return 0, fmt.Errorf("time of day %q has unknown meridiem %q", t, meridiem)
	}
	return hour*60 + minute, nil
}

// formatTimeOfDay renders minutes since midnight back into "H:MM AM".
func formatTimeOfDay(minutes int) TimeOfDay {
	minutes = ((minutes % (24 * 60)) + 24*60) % (24 * 60)
	hour24 := minutes / 60
	minute := minutes % 60

	meridiem := "AM"
	if hour24 >= 12 {
		meridiem = "PM"
	}
	hour12 := hour24 % 12
	if hour12 == 0 {
		hour12 = 12
	}
	return TimeOfDay(fmt.Sprintf("%d:%02d %s", hour12, minute, meridiem))
}

// AdvanceTime moves the story clock forward by one 15-minute turn quantum,
// wrapping at midnight. The meridiem flips exactly at 12:00:
// "11:45 AM" -> "12:00 PM" and "11:45 PM" -> "12:00 AM".
func AdvanceTime(t TimeOfDay) (TimeOfDay, error) {
	minutes, err := parseTimeOfDay(t)
	if err != nil {
		return "", err
	}
	return formatTimeOfDay(minutes + int(turnQuantum.Minutes())), nil
}

// Weather transition distribution. The probabilities are part of the design
// contract: a mild drift towards worsening weather with occasional jumps.
//
//	P(+1)=0.40  P(-1)=0.20  P(+2)=0.10  P(-2)=0.10  P(0)=0.20
//
// Thresholds are cumulative over a roll in [0,1).
const (
	weatherUpOneThreshold   = 0.40
	weatherDownOneThreshold = 0.60
	weatherUpTwoThreshold   = 0.70
	weatherDownTwoThreshold = 0.80
)

// AdvanceWeather applies one step of the bounded weather walk using roll,
// which must lie in [0,1). The result is clamped to [WeatherMin, WeatherMax].
func AdvanceWeather(w WeatherLevel, roll float64) WeatherLevel {
	next := w
	switch {
	case roll < weatherUpOneThreshold:
		next = w + 1
	case roll < weatherDownOneThreshold:
		next = w - 1
	case roll < weatherUpTwoThreshold:
		next = w + 2
	case roll < weatherDownTwoThreshold:
		next = w - 2
	}
	if next < WeatherMin {
		next = WeatherMin
	}
	if next > WeatherMax {
		next = WeatherMax
	}
	return next
}

// Clock bundles the pure transition functions with a roll source so callers
// advance the world state without owning randomness. Tests inject a
// deterministic roll function.
type Clock struct {
	mu   sync.Mutex
	roll func() float64
}

// NewClock returns a Clock backed by its own seeded PRNG.
func NewClock() *Clock {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Clock{roll: rng.Float64}
}

// NewClockWithRoll returns a Clock using the provided roll source.
func NewClockWithRoll(roll func() float64) *Clock {
	return &Clock{roll: roll}
}

// Tick advances both the time of day and the weather by one turn.
func (c *Clock) Tick(t TimeOfDay, w WeatherLevel) (TimeOfDay, WeatherLevel, error) {
	nextTime, err := AdvanceTime(t)
	if err != nil {
		return "", 0, err
	}
	c.mu.Lock()
	roll := c.roll()
	c.mu.Unlock()
	return nextTime, AdvanceWeather(w, roll), nil
}
