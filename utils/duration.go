package utils

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var timedeltaPattern = regexp.MustCompile(`^(-)?(?:(\d+)w)?(?:(\d+)d)?(?:(\d+)h)?(?:(\d+)m)?(?:(\d+)s)?(?:(\d+)ms)?(?:(\d+)us)?$`)

// timedeltaUnits lines up with the capture groups after the sign
var timedeltaUnits = []time.Duration{
	7 * 24 * time.Hour,
	24 * time.Hour,
	time.Hour,
	time.Minute,
	time.Second,
	time.Millisecond,
	time.Microsecond,
}

// ParseTimedelta parses signed relative durations such as "1w2d", "-12h" or
// "30m15s". At least one component is required; a leading "-" negates.
func ParseTimedelta(s string) (time.Duration, error) {
	m := timedeltaPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var total time.Duration
	found := false
	for i, unit := range timedeltaUnits {
		raw := m[i+2]
		if raw == "" {
			continue
		}
		found = true
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		if n > int64((1<<63-1)/unit) {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		part := time.Duration(n) * unit
		if total > (1<<63-1)-part {
			return 0, fmt.Errorf("duration %q out of range", s)
		}
		total += part
	}
	if !found {
		return 0, fmt.Errorf("invalid duration %q: no components", s)
	}

	if m[1] == "-" {
		total = -total
	}
	return total, nil
}
