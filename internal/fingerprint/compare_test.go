package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareIdentical(t *testing.T) {
	a := Build(desktopSignals())
	b := Build(desktopSignals())

	res := Compare(a, b)
	assert.Equal(t, 1.0, res.Similarity)
	assert.True(t, res.SameDevice())
	assert.False(t, res.NearDuplicate())
	assert.Empty(t, res.Diverged)
}

func TestCompareSoftComponentChange(t *testing.T) {
	a := Build(desktopSignals())

	s := desktopSignals()
	s.Platform = "Linux x86_64"
	b := Build(s)

	// Platform carries weight 2 of 45.
	res := Compare(a, b)
	assert.InDelta(t, 43.0/45.0, res.Similarity, 1e-9)
	assert.True(t, res.SameDevice())
	assert.Contains(t, res.Diverged, CompPlatform)
	// 43/45 is above the near-duplicate window ceiling.
	assert.False(t, res.NearDuplicate())
}

func TestCompareNearDuplicateWindow(t *testing.T) {
	a := Build(desktopSignals())

	// Timezone (5) + platform (2) diverge: 38/45 ~ 0.844, inside (0.70, 0.90).
	s := desktopSignals()
	s.Timezone = "Europe/Berlin"
	s.Platform = "Linux x86_64"
	b := Build(s)

	res := Compare(a, b)
	assert.InDelta(t, 38.0/45.0, res.Similarity, 1e-9)
	assert.False(t, res.SameDevice())
	assert.True(t, res.NearDuplicate())
}

func TestCompareNearDuplicateRequiresDistinctIDs(t *testing.T) {
	a := Build(desktopSignals())

	s := desktopSignals()
	s.Timezone = "Europe/Berlin"
	s.Platform = "Linux x86_64"
	b := Build(s)
	b.ID = a.ID // same stored identity

	res := Compare(a, b)
	assert.False(t, res.NearDuplicate())
}

func TestCompareFarApart(t *testing.T) {
	a := Build(desktopSignals())

	s := desktopSignals()
	s.Canvas = "other-canvas"
	s.WebGL = "other-webgl"
	s.Audio = "other-audio"
	s.Fonts = []string{"Helvetica", "Times", "Courier"}
	b := Build(s)

	// Four environment probes diverge: 25/45 ~ 0.556, below the window.
	res := Compare(a, b)
	assert.InDelta(t, 25.0/45.0, res.Similarity, 1e-9)
	assert.False(t, res.SameDevice())
	assert.False(t, res.NearDuplicate())
}

func TestCompareMissingComponentsDiverge(t *testing.T) {
	a := Build(desktopSignals())
	b := FromStored("other-id", []string{"screen_width=1920"})

	res := Compare(a, b)
	require.Less(t, res.Similarity, 0.2)
	assert.Contains(t, res.Diverged, CompTimezone)
}
