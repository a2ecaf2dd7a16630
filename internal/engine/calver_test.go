package engine

import (
	"testing"
	"time"
)

func TestNextCalverName(t *testing.T) {
	cases := []struct {
		at       time.Time
		previous string
		want     string
	}{
		{time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), "", "2024.1.1"},
		{time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), "2024.1.1", "2024.1.2"},
		{time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), "2024.1.2", "2024.2.1"},
		// ISO week years differ from calendar years at the boundary:
		// Dec 29 2025 belongs to week 1 of 2026.
		{time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC), "2025.52.3", "2026.1.1"},
		{time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), "2026.1.1", "2026.1.2"},
		// Garbage previous names fall back to a fresh minor.
		{time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "not-a-name", "2024.22.1"},
	}
	for _, tc := range cases {
		got := nextCalverName(tc.at, tc.previous)
		if got != tc.want {
			t.Errorf("nextCalverName(%s, %q) = %q, want %q", tc.at.Format(time.RFC3339), tc.previous, got, tc.want)
		}
	}
}
