package schedule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCapacity(t *testing.T) {
	tests := []struct {
		raw     string
		hasSeat bool
	}{
		{raw: "10/35", hasSeat: true},
		{raw: " 3 / 4 ", hasSeat: true},
		{raw: "35/35", hasSeat: false},
		{raw: "36/35", hasSeat: false},
		{raw: "0/0", hasSeat: false},
		{raw: "0/-1", hasSeat: false},
		{raw: "", hasSeat: false},
		{raw: "full", hasSeat: false},
		{raw: "a/b", hasSeat: false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.hasSeat, ParseCapacity(tt.raw).HasSeat())
		})
	}
}

func TestIsValid(t *testing.T) {
	open := section("CSE101", "1", "1/30", SessionSpec{Days: "MF", StartTime: "08:30 AM", EndTime: "10:00 AM", Faculty: "Dr. Jane SMITH"})

	mustFilters := func(spec FilterSpec) Filters {
		f, err := NewFilters(spec)
		require.NoError(t, err)
		return f
	}

	tests := []struct {
		name    string
		section Section
		filters Filters
		want    bool
	}{
		{name: "no filters capacity governs", section: open, want: true},
		{name: "full section excluded", section: section("CSE101", "2", "35/35"), want: false},
		{name: "zero capacity excluded regardless of filters", section: section("CSE101", "3", "0/0"), filters: mustFilters(FilterSpec{ExcludeFaculty: []string{"nobody"}}), want: false},
		{name: "excluded full day name", section: open, filters: mustFilters(FilterSpec{ExcludeDays: []string{"Friday"}}), want: false},
		{name: "excluded day symbol", section: open, filters: mustFilters(FilterSpec{ExcludeDays: []string{"M"}}), want: false},
		{name: "non meeting day allowed", section: open, filters: mustFilters(FilterSpec{ExcludeDays: []string{"Sunday", "Thu"}}), want: true},
		{name: "faculty substring case insensitive", section: open, filters: mustFilters(FilterSpec{ExcludeFaculty: []string{"  smith "}}), want: false},
		{name: "blank faculty ignored", section: open, filters: mustFilters(FilterSpec{ExcludeFaculty: []string{"", "   "}}), want: true},
		{name: "section level faculty", section: MustSection(SectionSpec{Course: "X1", Label: "1", Capacity: "1/2", Faculty: "Prof. Alam"}), filters: mustFilters(FilterSpec{ExcludeFaculty: []string{"alam"}}), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValid(tt.section, tt.filters))
		})
	}
}

func TestNewFilters_RejectsUnknownDay(t *testing.T) {
	_, err := NewFilters(FilterSpec{ExcludeDays: []string{"Funday"}})
	assert.ErrorIs(t, err, ErrInput)
}

func TestPrepare(t *testing.T) {
	t.Run("fail first ordering keeps ties in request order", func(t *testing.T) {
		courses, err := Prepare(threeCourseCatalog(), Filters{})
		require.NoError(t, err)

		codes := make([]string, len(courses))
		for i, c := range courses {
			codes[i] = c.Code
		}
		// CSE101 has 1 valid section, MAT101 3, ENG101 3 (0/0 dropped).
		assert.Equal(t, []string{"CSE101", "MAT101", "ENG101"}, codes)
		assert.Len(t, courses[2].Sections, 3)
	})

	t.Run("unsatisfiable names the course", func(t *testing.T) {
		catalog := threeCourseCatalog()
		catalog[0].Sections = catalog[0].Sections[1:] // only the full section remains

		_, err := Prepare(catalog, Filters{})
		require.ErrorIs(t, err, ErrUnsatisfiable)

		var se *Error
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "CSE101", se.Course())
	})

	t.Run("filters can make a course unsatisfiable", func(t *testing.T) {
		f, err := NewFilters(FilterSpec{ExcludeDays: []string{"M", "W"}})
		require.NoError(t, err)

		_, err = Prepare(threeCourseCatalog(), f)
		assert.ErrorIs(t, err, ErrUnsatisfiable)
	})
}

func TestSearchSpace(t *testing.T) {
	courses, err := Prepare(threeCourseCatalog(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, 9, SearchSpace(courses))
	assert.Equal(t, 0, SearchSpace(nil))
}
