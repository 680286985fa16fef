package reset

import (
	"testing"
	"time"
)

func TestAddMonthsSafe(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		months int
		want   time.Time
	}{
		{
			name:   "plain month",
			start:  time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC),
		},
		{
			name:   "Jan 31 clips to Feb 28",
			start:  time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "Jan 31 clips to Feb 29 in a leap year",
			start:  time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "Oct 31 clips to Nov 30",
			start:  time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2025, 11, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:   "crosses year boundary",
			start:  time.Date(2025, 12, 10, 0, 0, 0, 0, time.UTC),
			months: 1,
			want:   time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := addMonthsSafe(tt.start, tt.months)
			if !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}
