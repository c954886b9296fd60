package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	day  = 24 * time.Hour
	week = 7 * day
)

var durationUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  day,
	"w":  week,
}

// ParseDuration accepts Go duration strings plus day and week units
// (1d = 24h, 1w = 7d), e.g. "168h", "7d", "1w2d", "1.5d", "-2w".
func ParseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("duration is required")
	}
	if s == "0" {
		return 0, nil
	}

	sign := time.Duration(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}

	var total float64
	for s != "" {
		n := numberPrefix(s)
		if n == 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		value, err := strconv.ParseFloat(s[:n], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		s = s[n:]

		u := unitPrefix(s)
		unit, ok := durationUnits[s[:u]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", raw, s[:u])
		}
		s = s[u:]
		total += value * float64(unit)
	}
	return sign * time.Duration(total), nil
}

// numberPrefix returns the length of the leading decimal number in s.
func numberPrefix(s string) int {
	i, dot := 0, false
	for i < len(s) {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
		case c == '.' && !dot:
			dot = true
		default:
			return i
		}
		i++
	}
	return i
}

// unitPrefix returns the length of the unit that follows a number.
func unitPrefix(s string) int {
	for i, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			return i
		}
	}
	return len(s)
}
