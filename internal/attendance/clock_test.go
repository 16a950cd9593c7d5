package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	c, err := ParseClock("08:05")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 8, Minute: 5}, c)
	assert.Equal(t, 485, c.Minutes())

	c, err = ParseClock("23:59:30")
	require.NoError(t, err)
	assert.Equal(t, "23:59:30", c.String())
	assert.Equal(t, "23:59", c.HHMM())

	for _, bad := range []string{"", "8:00", "24:00", "12:60", "12:00:60", "aa:bb", "12:00:00:00", "+8:00", "-1:00", "08:+5", "08:00:-1"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestValidHHMM(t *testing.T) {
	assert.True(t, ValidHHMM("00:00"))
	assert.True(t, ValidHHMM("17:30"))
	assert.False(t, ValidHHMM("17:30:00"))
	assert.False(t, ValidHHMM("7:30"))
	assert.False(t, ValidHHMM("+8:00"))
	assert.False(t, ValidHHMM("08:-5"))
}

func TestClockOf(t *testing.T) {
	loc := time.FixedZone("UTC-3", -3*3600)
	ts := time.Date(2024, 3, 4, 11, 20, 45, 0, time.UTC).In(loc)
	assert.Equal(t, Clock{Hour: 8, Minute: 20, Second: 45}, ClockOf(ts))
}

func TestScheduleValidate(t *testing.T) {
	ok := Schedule{Name: "Morning", EntryTime: "08:00", ExitTime: "17:00", ToleranceMinutes: 15, WorkDays: []int{1, 2, 3}}
	require.NoError(t, ok.Validate())
	assert.True(t, ok.WorksOn(time.Tuesday))
	assert.False(t, ok.WorksOn(time.Sunday))

	bad := ok
	bad.EntryTime = "8am"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.ToleranceMinutes = -1
	assert.Error(t, bad.Validate())

	bad = ok
	bad.WorkDays = []int{7}
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Name = " "
	assert.Error(t, bad.Validate())
}

func TestWorkDaysCodec(t *testing.T) {
	assert.Equal(t, "1,3,5", encodeWorkDays([]int{5, 1, 3}))
	assert.Equal(t, []int{1, 3, 5}, decodeWorkDays("1,3,5"))
	assert.Equal(t, []int{}, decodeWorkDays(""))
}
