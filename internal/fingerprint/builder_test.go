package fingerprint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func desktopSignals() SignalSet {
	return SignalSet{
		UserAgent:           "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
		Platform:            "Win32",
		Language:            "en-US",
		Languages:           []string{"en-US", "en"},
		ScreenWidth:         1920,
		ScreenHeight:        1080,
		ColorDepth:          24,
		PixelRatio:          1.25,
		Timezone:            "America/New_York",
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		TouchSupport:        false,
		CookiesEnabled:      true,
		DoNotTrack:          "1",
		Webdriver:           false,
		PluginCount:         5,
		Canvas:              "data:image/png;base64,iVBORw0KGgoAAAANSUhEUg",
		WebGL:               "ANGLE (NVIDIA, NVIDIA GeForce RTX 3060)",
		Audio:               "124.04347527516074",
		Fonts:               []string{"Arial", "Calibri", "Segoe UI", "Tahoma"},
	}
}

func TestBuildDeterministic(t *testing.T) {
	a := Build(desktopSignals())
	b := Build(desktopSignals())

	require.Equal(t, a.ID, b.ID)
	require.Len(t, a.ID, 64)
	assert.Equal(t, "v1", a.Version)
	assert.Equal(t, a.Components, b.Components)
}

func TestBuildSensitiveToAnyComponent(t *testing.T) {
	base := Build(desktopSignals())

	changed := desktopSignals()
	changed.Timezone = "Europe/Berlin"
	assert.NotEqual(t, base.ID, Build(changed).ID)

	changed = desktopSignals()
	changed.CookiesEnabled = false
	assert.NotEqual(t, base.ID, Build(changed).ID)
}

func TestBuildComponentOrder(t *testing.T) {
	fp := Build(desktopSignals())

	require.Len(t, fp.Components, len(componentOrder))
	assert.Equal(t, CompVersion, fp.Components[0].Tag)
	assert.Equal(t, "v1", fp.Components[0].Value)
	assert.Equal(t, CompFonts, fp.Components[len(fp.Components)-1].Tag)
}

func TestBuildTruncatesBlobs(t *testing.T) {
	s := desktopSignals()
	s.Canvas = strings.Repeat("a", 500)
	s.UserAgent = strings.Repeat("b", 500)

	fp := Build(s)
	canvas, ok := fp.Component(CompCanvas)
	require.True(t, ok)
	assert.Len(t, canvas, 100)

	ua, ok := fp.Component(CompUserAgent)
	require.True(t, ok)
	assert.Len(t, ua, 100)

	// Truncation happens before hashing: suffix changes past the cut do not
	// change identity.
	s2 := s
	s2.Canvas = s.Canvas[:100] + "different-tail"
	assert.Equal(t, fp.ID, Build(s2).ID)
}

func TestBuildPlaceholders(t *testing.T) {
	fp := Build(SignalSet{})

	for tag, want := range map[ComponentTag]string{
		CompCanvas:    PlaceholderNoCanvas,
		CompWebGL:     PlaceholderNoWebGL,
		CompAudio:     PlaceholderNoAudio,
		CompFonts:     PlaceholderNoFonts,
		CompTimezone:  PlaceholderNoTimezone,
		CompUserAgent: PlaceholderUnknown,
		CompLanguages: "no-languages",
	} {
		got, ok := fp.Component(tag)
		require.True(t, ok, "missing component %s", tag)
		assert.Equal(t, want, got, "component %s", tag)
	}
}

func TestBuildStripsDelimiter(t *testing.T) {
	s := desktopSignals()
	s.Platform = "Win|32"

	fp := Build(s)
	platform, ok := fp.Component(CompPlatform)
	require.True(t, ok)
	assert.Equal(t, "Win32", platform)
}

func TestFromStoredRoundTrip(t *testing.T) {
	fp := Build(desktopSignals())

	restored := FromStored(fp.ID, fp.Strings())
	require.Equal(t, fp.ID, restored.ID)
	require.Equal(t, fp.Components, restored.Components)

	res := Compare(fp, restored)
	assert.Equal(t, 1.0, res.Similarity)
}
