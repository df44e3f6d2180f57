package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var volatilityTable = ThresholdTable{Low: 0.02, Medium: 0.05, High: 0.10, Critical: 0.20}

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		value float64
		want  Severity
		ok    bool
	}{
		{0.01, 0, false},
		{0.02, SeverityLow, true},
		{0.049, SeverityLow, true},
		{0.07, SeverityMedium, true},
		{0.10, SeverityHigh, true},
		{0.25, SeverityCritical, true},
	}
	for _, tc := range cases {
		got, ok := volatilityTable.Classify(tc.value)
		assert.Equal(t, tc.ok, ok, "value %v", tc.value)
		assert.Equal(t, tc.want, got, "value %v", tc.value)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	tables := []ThresholdTable{
		volatilityTable,
		{Low: 5, Medium: 1, High: 3, Critical: 2},
		{Low: 0, Medium: 0, High: 0, Critical: 0},
	}
	for _, table := range tables {
		prev := Severity(0)
		for v := -1.0; v <= 10; v += 0.01 {
			got, _ := table.Classify(v)
			require.GreaterOrEqual(t, int(got), int(prev), "table %+v value %v", table, v)
			prev = got
		}
	}
}

func TestClassifyMisconfiguredTablePicksMostSevere(t *testing.T) {
	table := ThresholdTable{Low: 0.5, Medium: 0.1, High: 0.3, Critical: 0.9}
	got, ok := table.Classify(0.4)
	require.True(t, ok)
	assert.Equal(t, SeverityHigh, got)
	assert.Error(t, table.CheckAscending())
	assert.NoError(t, volatilityTable.CheckAscending())
}

func TestClassifyBelow(t *testing.T) {
	holding := ThresholdTable{Low: 60, Medium: 30, High: 10, Critical: 2}
	require.NoError(t, holding.CheckDescending())

	got, ok := holding.ClassifyBelow(1)
	require.True(t, ok)
	assert.Equal(t, SeverityCritical, got)

	got, ok = holding.ClassifyBelow(45)
	require.True(t, ok)
	assert.Equal(t, SeverityLow, got)

	_, ok = holding.ClassifyBelow(90)
	assert.False(t, ok)
}
