package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseStringTime parses a configuration duration. Anything time.ParseDuration
// accepts works ("250ms", "2s", "10m", "1h30m"); a trailing "d" counts days.
// An empty string is a zero duration.
func ParseStringTime(timeString string) (time.Duration, error) {
	timeString = strings.ToLower(strings.TrimSpace(timeString))
	if timeString == "" {
		return 0, nil
	}
	if days, found := strings.CutSuffix(timeString, "d"); found {
		number, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
		}
		return time.Duration(number) * time.Hour * 24, nil
	}
	d, err := time.ParseDuration(timeString)
	if err != nil {
		return 0, fmt.Errorf("invalid time format %q: %w", timeString, err)
	}
	return d, nil
}

// MustParseStringTime is ParseStringTime for values already validated.
func MustParseStringTime(timeString string) time.Duration {
	d, err := ParseStringTime(timeString)
	if err != nil {
		panic(err)
	}
	return d
}
