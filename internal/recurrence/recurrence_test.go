package recurrence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestNextOccurrence_WeekdaysFromSaturday(t *testing.T) {
	// Saturday 2024-06-15 10:00 in São Paulo (UTC-3).
	after := mustTime(t, "2024-06-15T13:00:00Z")

	got, err := NextOccurrence(Weekdays, "19:00", "America/Sao_Paulo", after)
	require.NoError(t, err)

	// Monday 2024-06-17 19:00 -03:00.
	assert.Equal(t, mustTime(t, "2024-06-17T22:00:00Z"), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNextOccurrence_Patterns(t *testing.T) {
	tests := []struct {
		name    string
		pattern Pattern
		local   string
		tz      string
		after   string
		want    string
	}{
		{"daily later today", Daily, "08:00", "UTC", "2024-06-12T06:00:00Z", "2024-06-12T08:00:00Z"},
		{"daily already passed", Daily, "08:00", "UTC", "2024-06-12T09:00:00Z", "2024-06-13T08:00:00Z"},
		{"weekdays friday evening", Weekdays, "08:00", "UTC", "2024-06-14T20:00:00Z", "2024-06-17T08:00:00Z"},
		{"weekends from wednesday", Weekends, "10:30", "UTC", "2024-06-12T00:00:00Z", "2024-06-15T10:30:00Z"},
		{"weekends saturday to sunday", Weekends, "10:30", "UTC", "2024-06-15T11:00:00Z", "2024-06-16T10:30:00Z"},
		{"weekends sunday to next saturday", Weekends, "10:30", "UTC", "2024-06-16T11:00:00Z", "2024-06-22T10:30:00Z"},
		{"local date differs from utc date", Daily, "23:30", "Asia/Tokyo", "2024-06-12T15:00:00Z", "2024-06-13T14:30:00Z"},
		{"weekday evaluated in local zone", Weekdays, "07:00", "Pacific/Auckland", "2024-06-14T20:00:00Z", "2024-06-16T19:00:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrence(tt.pattern, tt.local, tt.tz, mustTime(t, tt.after))
			require.NoError(t, err)
			assert.Equal(t, mustTime(t, tt.want), got)
		})
	}
}

func TestNextOccurrence_StrictlyAfterMatchingInstant(t *testing.T) {
	after := mustTime(t, "2024-06-12T08:00:00Z")

	got, err := NextOccurrence(Daily, "08:00", "UTC", after)
	require.NoError(t, err)

	assert.True(t, got.After(after))
	assert.Equal(t, mustTime(t, "2024-06-13T08:00:00Z"), got)
}

func TestNextOccurrence_Deterministic(t *testing.T) {
	after := mustTime(t, "2024-03-09T12:34:56Z")
	first, err := NextOccurrence(Weekdays, "02:30", "America/New_York", after)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := NextOccurrence(Weekdays, "02:30", "America/New_York", after)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestNextOccurrence_NeverBeforeAfter(t *testing.T) {
	start := mustTime(t, "2024-01-01T00:00:00Z")
	for _, p := range Patterns {
		after := start
		for i := 0; i < 400; i++ {
			got, err := NextOccurrence(p, "01:30", "America/New_York", after)
			require.NoError(t, err)
			require.True(t, got.After(after), "pattern %s: %s not after %s", p, got, after)
			after = got
		}
	}
}

func TestNextOccurrence_SpringForwardGap(t *testing.T) {
	// New York skips 02:00-03:00 local on 2024-03-10 (07:00Z).
	after := mustTime(t, "2024-03-10T05:00:00Z")

	got, err := NextOccurrence(Daily, "02:30", "America/New_York", after)
	require.NoError(t, err)

	// Shifted by the gap: 03:30 EDT.
	assert.Equal(t, mustTime(t, "2024-03-10T07:30:00Z"), got)

	next, err := NextOccurrence(Daily, "02:30", "America/New_York", got)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-03-11T06:30:00Z"), next)
}

func TestNextOccurrence_FallBackOverlapFiresOnce(t *testing.T) {
	// New York repeats 01:00-02:00 local on 2024-11-03.
	after := mustTime(t, "2024-11-03T03:00:00Z")

	first, err := NextOccurrence(Daily, "01:30", "America/New_York", after)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-11-03T05:30:00Z"), first, "earlier (EDT) instant")

	second, err := NextOccurrence(Daily, "01:30", "America/New_York", first)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2024-11-04T06:30:00Z"), second, "repeat at 06:30Z must not fire")
}

func TestNextOccurrence_HalfHourTransition(t *testing.T) {
	// Lord Howe moves 02:00 -> 02:30 on 2024-10-06.
	after := mustTime(t, "2024-10-05T12:00:00Z")

	got, err := NextOccurrence(Daily, "02:15", "Australia/Lord_Howe", after)
	require.NoError(t, err)

	local := got.In(mustLocation(t, "Australia/Lord_Howe"))
	assert.Equal(t, 2, local.Hour())
	assert.Equal(t, 45, local.Minute())
}

func TestNextOccurrence_SkippedDateKeepsWeekday(t *testing.T) {
	// Apia jumped from 2011-12-29 24:00 (-10) to 2011-12-31 00:00 (+14); Friday the 30th never happened.
	after := mustTime(t, "2011-12-29T22:00:00Z") // Thursday 12:00 local

	got, err := NextOccurrence(Weekdays, "10:00", "Pacific/Apia", after)
	require.NoError(t, err)
	assert.Equal(t, time.Monday, got.In(mustLocation(t, "Pacific/Apia")).Weekday())
	assert.Equal(t, mustTime(t, "2012-01-01T20:00:00Z"), got)

	daily, err := NextOccurrence(Daily, "10:00", "Pacific/Apia", after)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2011-12-30T20:00:00Z"), daily, "Saturday 10:00 +14")

	again, err := NextOccurrence(Daily, "10:00", "Pacific/Apia", daily)
	require.NoError(t, err)
	assert.Equal(t, mustTime(t, "2011-12-31T20:00:00Z"), again, "Saturday fires once")
}

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNextOccurrence_Errors(t *testing.T) {
	after := mustTime(t, "2024-06-12T00:00:00Z")
	tests := []struct {
		name    string
		pattern Pattern
		local   string
		tz      string
		wantErr error
		field   string
	}{
		{"unknown zone", Daily, "08:00", "Mars/Olympus", ErrInvalidTimezone, "timezone"},
		{"empty zone", Daily, "08:00", "", ErrInvalidTimezone, "timezone"},
		{"local zone", Daily, "08:00", "Local", ErrInvalidTimezone, "timezone"},
		{"hour out of range", Daily, "24:00", "UTC", ErrInvalidTime, "schedule_time"},
		{"minute out of range", Daily, "12:60", "UTC", ErrInvalidTime, "schedule_time"},
		{"single digit hour", Daily, "8:00", "UTC", ErrInvalidTime, "schedule_time"},
		{"seconds", Daily, "08:00:00", "UTC", ErrInvalidTime, "schedule_time"},
		{"letters", Daily, "ab:cd", "UTC", ErrInvalidTime, "schedule_time"},
		{"unknown pattern", Pattern("monthly"), "08:00", "UTC", ErrInvalidScheduleType, "schedule_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NextOccurrence(tt.pattern, tt.local, tt.tz, after)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestRule_Upcoming(t *testing.T) {
	rule, err := Parse(Weekends, "09:00", "Europe/Berlin")
	require.NoError(t, err)

	got := rule.Upcoming(mustTime(t, "2024-06-12T00:00:00Z"), 3)
	require.Len(t, got, 3)
	assert.Equal(t, mustTime(t, "2024-06-15T07:00:00Z"), got[0])
	assert.Equal(t, mustTime(t, "2024-06-16T07:00:00Z"), got[1])
	assert.Equal(t, mustTime(t, "2024-06-22T07:00:00Z"), got[2])
}

func TestPattern_Matches(t *testing.T) {
	assert.True(t, Weekdays.Matches(time.Monday))
	assert.True(t, Weekdays.Matches(time.Friday))
	assert.False(t, Weekdays.Matches(time.Saturday))
	assert.True(t, Weekends.Matches(time.Sunday))
	assert.False(t, Weekends.Matches(time.Wednesday))
	assert.False(t, Pattern("hourly").Matches(time.Monday))
}
