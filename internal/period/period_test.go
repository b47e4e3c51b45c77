package period

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKeywords(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	// Wednesday 2025-03-12 10:30 IST
	now := time.Date(2025, 3, 12, 10, 30, 0, 0, loc)

	cases := []struct {
		spec       Spec
		start, end string // end is the last included day
	}{
		{Spec{Kind: "today"}, "2025-03-12", "2025-03-12"},
		{Spec{Kind: "yesterday"}, "2025-03-11", "2025-03-11"},
		{Spec{Kind: "this_week"}, "2025-03-10", "2025-03-12"},
		{Spec{Kind: "last_week"}, "2025-03-03", "2025-03-09"},
		{Spec{Kind: "this_month"}, "2025-03-01", "2025-03-12"},
		{Spec{Kind: "last_month"}, "2025-02-01", "2025-02-28"},
		{Spec{Kind: "this_year"}, "2025-01-01", "2025-03-12"},
		{Spec{Kind: "last_30_days"}, "2025-02-11", "2025-03-12"},
		{Spec{Kind: "rolling", Days: 7}, "2025-03-06", "2025-03-12"},
		{Spec{Kind: " Custom ", Start: "2025-01-05", End: "2025-01-05"}, "2025-01-05", "2025-01-05"},
	}

	for _, tc := range cases {
		r, err := Parse(tc.spec, now, loc)
		require.NoError(t, err, tc.spec.Kind)
		assert.Equal(t, tc.start, r.Start.Format(dateLayout), tc.spec.Kind)
		assert.Equal(t, tc.end, r.LastDay().Format(dateLayout), tc.spec.Kind)
		assert.Equal(t, loc, r.Start.Location())
	}
}

func TestParseSundayWeek(t *testing.T) {
	now := time.Date(2025, 3, 16, 23, 0, 0, 0, time.UTC) // Sunday
	r, err := Parse(Spec{Kind: "this_week"}, now, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-10", r.Start.Format(dateLayout))
	assert.Len(t, r.Days(), 7)
}

func TestParseRejectsInvalid(t *testing.T) {
	now := time.Now()
	for _, spec := range []Spec{
		{Kind: "fortnight"},
		{Kind: ""},
		{Kind: "rolling"},
		{Kind: "rolling", Days: 366},
		{Kind: "custom", Start: "2025-02-01"},
		{Kind: "custom", Start: "2025-02-10", End: "2025-02-01"},
		{Kind: "custom", Start: "02/01/2025", End: "2025-02-03"},
	} {
		_, err := Parse(spec, now, time.UTC)
		assert.ErrorIs(t, err, ErrInvalidPeriod, "%+v", spec)
	}
}

func TestRangeContains(t *testing.T) {
	r, err := Parse(Spec{Kind: "custom", Start: "2025-01-01", End: "2025-01-02"}, time.Now(), time.UTC)
	require.NoError(t, err)

	assert.True(t, r.Contains(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.Contains(time.Date(2025, 1, 2, 23, 59, 0, 0, time.UTC)))
	assert.False(t, r.Contains(time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)))
	assert.Len(t, r.Days(), 2)
}
