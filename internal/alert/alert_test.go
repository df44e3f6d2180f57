package alert

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlert(resolvable bool) *Alert {
	return New(Params{
		Type:        TypeVolatilitySpike,
		Severity:    SeverityMedium,
		Title:       "BTCUSDT volatility",
		Description: "dispersion 0.07 >= 0.05",
		SubjectPair: "BTCUSDT",
		HasValues:   true,
		Threshold:   0.05,
		Current:     0.07,
		Resolvable:  resolvable,
	})
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		a := newTestAlert(true)
		require.NotEmpty(t, a.ID)
		require.False(t, seen[a.ID], "id reused: %s", a.ID)
		seen[a.ID] = true
		assert.Equal(t, StatusActive, a.Status)
		assert.False(t, a.CreatedAt.IsZero())
	}
}

func TestLifecycleAcknowledgeThenResolve(t *testing.T) {
	a := newTestAlert(true)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.True(t, a.Acknowledge(now))
	assert.Equal(t, StatusAcknowledged, a.Status)
	require.NotNil(t, a.AcknowledgedAt)
	assert.False(t, a.Acknowledge(now), "second acknowledge must be rejected")

	require.True(t, a.Resolve(now.Add(time.Minute)))
	assert.Equal(t, StatusResolved, a.Status)
	require.NotNil(t, a.ResolvedAt)
	assert.True(t, a.Terminal())
}

func TestResolveNonResolvableIsNoop(t *testing.T) {
	a := newTestAlert(false)
	assert.False(t, a.Resolve(time.Now()))
	assert.Equal(t, StatusActive, a.Status)
	assert.Nil(t, a.ResolvedAt)
}

func TestResolvedUnreachableFromSuppressed(t *testing.T) {
	a := newTestAlert(true)
	require.True(t, a.Suppress())
	assert.False(t, a.Resolve(time.Now()))
	assert.False(t, a.Acknowledge(time.Now()))
	assert.Equal(t, StatusSuppressed, a.Status)
	assert.Nil(t, a.ResolvedAt)

	require.True(t, a.Unsuppress())
	assert.Equal(t, StatusActive, a.Status)
}

func TestNoTransitionOutOfResolved(t *testing.T) {
	a := newTestAlert(true)
	require.True(t, a.Resolve(time.Now()))
	assert.False(t, a.Suppress())
	assert.False(t, a.Unsuppress())
	assert.False(t, a.Acknowledge(time.Now()))
	assert.Equal(t, StatusResolved, a.Status)
}

func TestSuppressOnlyFromActive(t *testing.T) {
	a := newTestAlert(true)
	require.True(t, a.Acknowledge(time.Now()))
	assert.False(t, a.Suppress())
}

func TestCloneIsDeep(t *testing.T) {
	a := newTestAlert(true)
	a.Metadata.SetFloat("dispersion", 0.07)
	c := a.Clone()
	c.Metadata.SetFloat("dispersion", 1)
	*c.CurrentValue = 99

	v, _ := a.Metadata.Float("dispersion")
	assert.Equal(t, 0.07, v)
	assert.Equal(t, 0.07, *a.CurrentValue)
}

func TestAttributesJSONRoundTripKeepsKinds(t *testing.T) {
	var attrs Attributes
	attrs.SetFloat("percentage_change", 10)
	attrs.SetText("direction", "increase")
	attrs.SetList("suggested_actions", []string{"a", "b"})

	raw, err := json.Marshal(attrs)
	require.NoError(t, err)

	var decoded Attributes
	require.NoError(t, json.Unmarshal(raw, &decoded))

	pct, ok := decoded.Float("percentage_change")
	require.True(t, ok)
	assert.Equal(t, 10.0, pct)
	dir, _ := decoded.Text("direction")
	assert.Equal(t, "increase", dir)
	actions, _ := decoded.List("suggested_actions")
	assert.Equal(t, []string{"a", "b"}, actions)
	assert.Equal(t, []string{"direction", "percentage_change", "suggested_actions"}, decoded.Keys())
}

func TestSeverityTextRoundTrip(t *testing.T) {
	for _, s := range Severities {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var back Severity
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, s, back)
	}
	_, err := ParseSeverity("urgent")
	assert.Error(t, err)
}
