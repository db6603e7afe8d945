package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCronDue_EveryMinute(t *testing.T) {
	minuteStart := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	due, err := cronDue("* * * * *", "", prevMinuteStart, minuteStart)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestCronDue_SpecificMinuteNotDue(t *testing.T) {
	minuteStart := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	due, err := cronDue("0 0 * * *", "", prevMinuteStart, minuteStart)
	require.NoError(t, err)
	assert.False(t, due)
}

func TestCronDue_MidnightDue(t *testing.T) {
	minuteStart := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	due, err := cronDue("0 0 * * *", "", prevMinuteStart, minuteStart)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestCronDue_InvalidExpression(t *testing.T) {
	minuteStart := time.Date(2026, 1, 1, 12, 5, 0, 0, time.UTC)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	_, err := cronDue("not a cron expr", "", prevMinuteStart, minuteStart)
	assert.Error(t, err)
}

func TestCronDue_TimezoneShiftsMidnight(t *testing.T) {
	// 00:00 in America/New_York is 05:00 UTC on the same calendar day
	// (standard time, no DST in January).
	minuteStart := time.Date(2026, 1, 2, 5, 0, 0, 0, time.UTC)
	prevMinuteStart := minuteStart.Add(-time.Minute)

	due, err := cronDue("0 0 * * *", "America/New_York", prevMinuteStart, minuteStart)
	require.NoError(t, err)
	assert.True(t, due)

	dueUTC, err := cronDue("0 0 * * *", "", prevMinuteStart, minuteStart)
	require.NoError(t, err)
	assert.False(t, dueUTC)
}
