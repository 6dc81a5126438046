package schedule

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeeklyTemplate(t *testing.T) {
	combo := Combination{
		section("CSE101", "1", "1/30", session("MW", "01:00 PM", "02:30 PM")),
		section("MAT101", "2", "1/30", session("M", "08:30 AM", "10:00 AM"), SessionSpec{Days: "R", StartTime: "TBA", EndTime: "TBA"}),
	}

	week := WeeklyTemplate(combo)

	monday := week.Day(Monday)
	require.Len(t, monday, 2)
	assert.Equal(t, "MAT101", monday[0].CourseCode)
	assert.Equal(t, "CSE101", monday[1].CourseCode)
	assert.Len(t, week.Day(Wednesday), 1)
	assert.Len(t, week.Day(Thursday), 1)
	assert.Equal(t, "TBA", week.Day(Thursday)[0].Room)
	assert.Empty(t, week.Day(Friday))

	data, err := json.Marshal(week)
	require.NoError(t, err)
	var decoded map[string][]map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Len(t, decoded, 7)
	assert.Empty(t, decoded["Saturday"])
}
