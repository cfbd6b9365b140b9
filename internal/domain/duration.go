// Package domain duration.go coerces client supplied video durations.
package domain

import (
	"math"
	"strconv"
	"strings"
)

// ParseDuration converts the duration path segment of an upload into seconds.
// Anything that is not a finite, non-negative number becomes 0 rather than an
// error: the value is informational and uploads are never rejected for it.
func ParseDuration(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
