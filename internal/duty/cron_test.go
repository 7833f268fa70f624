package duty

import (
	"testing"
	"time"
)

func TestMatchesCron(t *testing.T) {
	at := time.Date(2026, 8, 24, 10, 5, 0, 0, time.UTC) // a Monday

	cases := []struct {
		expr string
		when time.Time
		want bool
	}{
		{"*/5 * * * *", at, true},
		{"*/5 * * * *", at.Add(2 * time.Minute), false},
		{"* * * * *", at, true},
		{"5 10 * * *", at, true},
		{"5 11 * * *", at, false},
		{"5 10 24 8 *", at, true},
		{"5 10 25 8 *", at, false},
		{"* * * * 1", at, true},
		{"* * * * 0", at, false},
		{"*/15 */2 * * *", time.Date(2026, 8, 24, 14, 30, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := MatchesCron(tc.expr, tc.when); got != tc.want {
			t.Errorf("MatchesCron(%q, %s) = %v, want %v", tc.expr, tc.when, got, tc.want)
		}
	}
}

func TestMatchesCronMalformed(t *testing.T) {
	now := time.Now()
	for _, expr := range []string{
		"",
		"* * * *",
		"* * * * * *",
		"abc * * * *",
		"*/0 * * * *",
		"*/x * * * *",
		"1-5 * * * *", // ranges unsupported
	} {
		if MatchesCron(expr, now) {
			t.Errorf("MatchesCron(%q) should not match", expr)
		}
	}
}
