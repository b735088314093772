package fingerprint

import (
	"strconv"
	"strings"
)

// Placeholder values substituted when a probe is unavailable or failed.
// Canonicalization must be total: a signal field is never empty.
const (
	PlaceholderNoCanvas   = "canvas-error"
	PlaceholderNoWebGL    = "no-webgl"
	PlaceholderNoAudio    = "audio-error"
	PlaceholderNoFonts    = "no-fonts"
	PlaceholderNoTimezone = "no-timezone"
	PlaceholderUnknown    = "unknown"
)

// SignalSet is the fixed, versioned bag of raw environment signals collected
// from the client. Optional probes carry placeholder defaults after
// Normalize so the canonical string is always well-formed.
type SignalSet struct {
	UserAgent           string   `json:"userAgent"`
	Platform            string   `json:"platform"`
	Language            string   `json:"language"`
	Languages           []string `json:"languages"`
	ScreenWidth         int      `json:"screenWidth"`
	ScreenHeight        int      `json:"screenHeight"`
	ColorDepth          int      `json:"colorDepth"`
	PixelRatio          float64  `json:"pixelRatio"`
	Timezone            string   `json:"timezone"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        int      `json:"deviceMemory"`
	TouchSupport        bool     `json:"touchSupport"`
	CookiesEnabled      bool     `json:"cookiesEnabled"`
	DoNotTrack          string   `json:"doNotTrack"`
	Webdriver           bool     `json:"webdriver"`
	PluginCount         int      `json:"pluginCount"`
	Canvas              string   `json:"canvas"`
	WebGL               string   `json:"webgl"`
	Audio               string   `json:"audio"`
	Fonts               []string `json:"fonts"`
}

// Normalize returns a copy with placeholder defaults substituted for missing
// probe outputs and the component delimiter stripped from free-form values.
func (s SignalSet) Normalize() SignalSet {
	n := s
	n.UserAgent = safeValue(s.UserAgent, PlaceholderUnknown)
	n.Platform = safeValue(s.Platform, PlaceholderUnknown)
	n.Language = safeValue(s.Language, PlaceholderUnknown)
	n.Timezone = safeValue(s.Timezone, PlaceholderNoTimezone)
	n.DoNotTrack = safeValue(s.DoNotTrack, "unspecified")
	n.Canvas = safeValue(s.Canvas, PlaceholderNoCanvas)
	n.WebGL = safeValue(s.WebGL, PlaceholderNoWebGL)
	n.Audio = safeValue(s.Audio, PlaceholderNoAudio)

	if len(s.Languages) > 0 {
		langs := make([]string, len(s.Languages))
		for i, l := range s.Languages {
			langs[i] = safeValue(l, PlaceholderUnknown)
		}
		n.Languages = langs
	} else {
		n.Languages = nil
	}
	if len(s.Fonts) > 0 {
		fonts := make([]string, len(s.Fonts))
		for i, f := range s.Fonts {
			fonts[i] = safeValue(f, PlaceholderUnknown)
		}
		n.Fonts = fonts
	} else {
		n.Fonts = nil
	}
	return n
}

// safeValue trims, bounds, and strips the canonical delimiter so component
// values can never break the joined-string format.
func safeValue(v, placeholder string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return placeholder
	}
	if len(v) > 1024 {
		v = v[:1024]
	}
	return strings.Map(func(r rune) rune {
		if r == '|' || r < 32 || r == 127 {
			return -1
		}
		return r
	}, v)
}

func formatInt(v int) string {
	return strconv.Itoa(v)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
