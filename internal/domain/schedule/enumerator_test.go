package schedule

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestedCodes(courses []Course) []string {
	codes := make([]string, len(courses))
	for i, c := range courses {
		codes[i] = c.Code
	}
	return codes
}

func assertWellFormed(t *testing.T, courses []Course, combos []Combination) {
	t.Helper()
	codes := requestedCodes(courses)
	for _, c := range combos {
		require.NoError(t, c.Validate(codes), "combination %v", c.SectionIDs())
	}
}

func TestEnumerator_FullCapacitySectionNeverChosen(t *testing.T) {
	courses, err := Prepare(threeCourseCatalog(), Filters{})
	require.NoError(t, err)

	res := NewEnumerator().Enumerate(context.Background(), courses)

	require.Equal(t, OutcomeOK, res.Outcome)
	require.NotEmpty(t, res.Combinations)
	assertWellFormed(t, courses, res.Combinations)
	for _, c := range res.Combinations {
		assert.Contains(t, c.SectionIDs(), "CSE101-1")
		assert.NotContains(t, c.SectionIDs(), "CSE101-2")
		assert.NotContains(t, c.SectionIDs(), "ENG101-4")
	}
}

func TestEnumerator_ExcludedDayNeverChosen(t *testing.T) {
	f, err := NewFilters(FilterSpec{ExcludeDays: []string{"Friday"}})
	require.NoError(t, err)
	courses, err := Prepare(threeCourseCatalog(), f)
	require.NoError(t, err)

	res := NewEnumerator().Enumerate(context.Background(), courses)

	require.NotEmpty(t, res.Combinations)
	for _, c := range res.Combinations {
		for _, s := range c {
			for _, sess := range s.Sessions() {
				assert.False(t, sess.Days().Has(Friday), "section %s meets on Friday", s.ID())
			}
		}
	}
}

func TestEnumerator_ExactResultsAndOrder(t *testing.T) {
	courses, err := Prepare(threeCourseCatalog(), Filters{})
	require.NoError(t, err)

	res := NewEnumerator().Enumerate(context.Background(), courses)

	keys := make([]string, 0, res.Count())
	for _, c := range res.Combinations {
		keys = append(keys, fmt.Sprint(c.SectionIDs()))
	}
	// CSE101-1 meets MW 08:30-10:00, so MAT101-3 (MW 09:00) and ENG101-2
	// (MW 08:00-09:00) conflict with it.
	assert.Equal(t, []string{
		"[CSE101-1 MAT101-1 ENG101-1]",
		"[CSE101-1 MAT101-1 ENG101-3]",
		"[CSE101-1 MAT101-2 ENG101-1]",
		"[CSE101-1 MAT101-2 ENG101-3]",
	}, keys)
}

func TestEnumerator_Deterministic(t *testing.T) {
	courses := wideCatalog(5, 4)
	e := NewEnumerator(WithLimit(50))

	first := e.Enumerate(context.Background(), courses)
	for i := 0; i < 5; i++ {
		again := e.Enumerate(context.Background(), courses)
		require.Equal(t, len(first.Combinations), len(again.Combinations))
		for j := range first.Combinations {
			assert.Equal(t, first.Combinations[j].SectionIDs(), again.Combinations[j].SectionIDs())
		}
	}
}

func TestEnumerator_LimitCapsResults(t *testing.T) {
	courses := wideCatalog(4, 5) // 625 conflict-free combinations

	for _, limit := range []int{1, 7, 100} {
		t.Run(fmt.Sprintf("limit %d", limit), func(t *testing.T) {
			res := NewEnumerator(WithLimit(limit)).Enumerate(context.Background(), courses)
			assert.Equal(t, OutcomeOK, res.Outcome)
			assert.Len(t, res.Combinations, limit)
			assertWellFormed(t, courses, res.Combinations)
		})
	}

	res := NewEnumerator(WithLimit(1000)).Enumerate(context.Background(), courses)
	assert.Len(t, res.Combinations, 625)
}

func TestEnumerator_DefaultLimit(t *testing.T) {
	res := NewEnumerator(WithLimit(-3)).Enumerate(context.Background(), wideCatalog(4, 5))
	assert.Len(t, res.Combinations, DefaultLimit)
}

func TestEnumerator_CombinationsDoNotAlias(t *testing.T) {
	res := NewEnumerator().Enumerate(context.Background(), wideCatalog(3, 3))
	seen := make(map[string]struct{})
	for _, c := range res.Combinations {
		seen[c.Key()] = struct{}{}
	}
	assert.Len(t, seen, len(res.Combinations))
}

// countdownCtx reports a deadline after a fixed number of Err calls so the
// search is interrupted at a predictable frame.
type countdownCtx struct {
	context.Context
	remaining int
}

func (c *countdownCtx) Err() error {
	c.remaining--
	if c.remaining < 0 {
		return context.DeadlineExceeded
	}
	return nil
}

func TestEnumerator_DeadlineReturnsPartial(t *testing.T) {
	courses := wideCatalog(4, 5)
	ctx := &countdownCtx{Context: context.Background(), remaining: 40}

	res := NewEnumerator(WithLimit(500)).Enumerate(ctx, courses)

	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.True(t, IsDeadline(res.Interrupted))
	assert.NotEmpty(t, res.Combinations)
	assert.Less(t, len(res.Combinations), 500)
	assertWellFormed(t, courses, res.Combinations)
}

func TestEnumerator_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewEnumerator().Enumerate(ctx, wideCatalog(2, 2))
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Empty(t, res.Combinations)
	assert.False(t, IsDeadline(res.Interrupted))
}

func TestEnumerator_NoCoursesNoResults(t *testing.T) {
	res := NewEnumerator().Enumerate(context.Background(), nil)
	assert.Equal(t, OutcomeOK, res.Outcome)
	assert.Empty(t, res.Combinations)
}

func TestStep_SharedByBothModes(t *testing.T) {
	courses, err := Prepare(threeCourseCatalog(), Filters{})
	require.NoError(t, err)

	var children []Frame
	Step(Frame{Remaining: courses}, func(next Frame) bool {
		children = append(children, Frame{Remaining: next.Remaining, Partial: next.Partial.Clone()})
		return true
	})
	require.Len(t, children, 1)
	assert.Equal(t, []string{"CSE101-1"}, children[0].Partial.SectionIDs())
	assert.Len(t, children[0].Remaining, 2)

	var grandchildren []string
	Step(children[0], func(next Frame) bool {
		grandchildren = append(grandchildren, next.Partial[len(next.Partial)-1].ID())
		return true
	})
	assert.Equal(t, []string{"MAT101-1", "MAT101-2"}, grandchildren)
}

// wideCatalog builds n courses with k sections each, every section meeting at
// a distinct hour so no pair conflicts.
func wideCatalog(n, k int) []Course {
	courses := make([]Course, 0, n)
	hour := 7
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("C%03d", i)
		c := Course{Code: code}
		for j := 0; j < k; j++ {
			start := fmt.Sprintf("%02d:00", hour)
			end := fmt.Sprintf("%02d:50", hour)
			hour++
			c.Sections = append(c.Sections, section(code, fmt.Sprint(j+1), "1/50", session("SMTWRFA", start, end)))
		}
		courses = append(courses, c)
	}
	return courses
}
