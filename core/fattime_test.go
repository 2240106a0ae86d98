package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFATRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		in   time.Time
	}{
		{"epoch start", time.Date(1980, 1, 1, 0, 0, 0, 0, time.Local)},
		{"typical", time.Date(2024, 6, 15, 13, 37, 42, 0, time.Local)},
		{"odd second rounds down", time.Date(2024, 6, 15, 13, 37, 43, 0, time.Local)},
		{"end of range", time.Date(2107, 12, 31, 23, 59, 58, 0, time.Local)},
		{"midnight", time.Date(1999, 2, 28, 0, 0, 0, 0, time.Local)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FATToMTime(MTimeToFAT(tc.in))
			assert.Equal(t, tc.in.Year(), got.Year())
			assert.Equal(t, tc.in.Month(), got.Month())
			assert.Equal(t, tc.in.Day(), got.Day())
			assert.Equal(t, tc.in.Hour(), got.Hour())
			assert.Equal(t, tc.in.Minute(), got.Minute())
			// 2-second resolution
			assert.Equal(t, tc.in.Second()/2*2, got.Second())
		})
	}
}

func TestFATPre1980EncodesZero(t *testing.T) {
	fat := MTimeToFAT(time.Date(1979, 12, 31, 23, 59, 59, 0, time.Local))
	require.Equal(t, uint32(0), fat)
	assert.True(t, FATToMTime(fat).IsZero())
}

func TestFATYearClamp(t *testing.T) {
	got := FATToMTime(MTimeToFAT(time.Date(2200, 1, 1, 0, 0, 0, 0, time.Local)))
	assert.Equal(t, 2107, got.Year())
}
