package duty

import (
	"strconv"
	"strings"
	"time"
)

// MatchesCron reports whether t matches a 5-field cron expression
// (minute hour day-of-month month day-of-week). Fields support "*", exact
// integers, and "*/N" steps. Malformed expressions never match.
func MatchesCron(expr string, t time.Time) bool {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return false
	}
	values := []int{
		t.Minute(),
		t.Hour(),
		t.Day(),
		int(t.Month()),
		int(t.Weekday()),
	}
	for i, field := range fields {
		if !cronFieldMatches(field, values[i]) {
			return false
		}
	}
	return true
}

func cronFieldMatches(field string, value int) bool {
	if field == "*" {
		return true
	}
	if step, ok := strings.CutPrefix(field, "*/"); ok {
		n, err := strconv.Atoi(step)
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}
	n, err := strconv.Atoi(field)
	if err != nil {
		return false
	}
	return value == n
}
