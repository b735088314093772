package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Version tags the canonical component ordering. It is part of the hash
// input: the ordering must never change under the same version, since the
// resulting hash is the device's identity key across sessions.
const Version = "v1"

// blobPrefixLen bounds high-entropy probe blobs (canvas data URIs and the
// like) before hashing, trading a small false-negative rate for stable,
// bounded storage.
const blobPrefixLen = 100

// ComponentTag identifies one canonical fingerprint component.
type ComponentTag string

const (
	CompVersion      ComponentTag = "version"
	CompUserAgent    ComponentTag = "user_agent"
	CompLanguage     ComponentTag = "language"
	CompLanguages    ComponentTag = "languages"
	CompScreenWidth  ComponentTag = "screen_width"
	CompScreenHeight ComponentTag = "screen_height"
	CompColorDepth   ComponentTag = "color_depth"
	CompPixelRatio   ComponentTag = "pixel_ratio"
	CompTimezone     ComponentTag = "timezone"
	CompPlatform     ComponentTag = "platform"
	CompConcurrency  ComponentTag = "hardware_concurrency"
	CompDeviceMemory ComponentTag = "device_memory"
	CompTouch        ComponentTag = "touch_support"
	CompCookies      ComponentTag = "cookies_enabled"
	CompDoNotTrack   ComponentTag = "do_not_track"
	CompWebdriver    ComponentTag = "webdriver"
	CompPluginCount  ComponentTag = "plugin_count"
	CompCanvas       ComponentTag = "canvas"
	CompWebGL        ComponentTag = "webgl"
	CompAudio        ComponentTag = "audio"
	CompFonts        ComponentTag = "fonts"

	// CompNearDuplicate is not a real component: the comparator emits it as
	// a divergence marker when two distinct fingerprints land inside the
	// partial-manipulation similarity window.
	CompNearDuplicate ComponentTag = "near_duplicate_fingerprint"
)

// componentOrder is the fixed v1 ordering of the canonical component list.
var componentOrder = []ComponentTag{
	CompVersion,
	CompUserAgent,
	CompLanguage,
	CompLanguages,
	CompScreenWidth,
	CompScreenHeight,
	CompColorDepth,
	CompPixelRatio,
	CompTimezone,
	CompPlatform,
	CompConcurrency,
	CompDeviceMemory,
	CompTouch,
	CompCookies,
	CompDoNotTrack,
	CompWebdriver,
	CompPluginCount,
	CompCanvas,
	CompWebGL,
	CompAudio,
	CompFonts,
}

// Component is one canonical tag/value pair.
type Component struct {
	Tag   ComponentTag
	Value string
}

// Fingerprint is the canonical, hashed representation of a device's
// observable environment.
type Fingerprint struct {
	ID         string
	Version    string
	Components []Component
}

// Build canonicalizes the signal set and computes the fingerprint ID:
// SHA-256 over the '|'-joined component values, hex-encoded. Pure function;
// identical signals always produce an identical ID.
func Build(s SignalSet) Fingerprint {
	n := s.Normalize()

	comps := make([]Component, 0, len(componentOrder))
	for _, tag := range componentOrder {
		comps = append(comps, Component{Tag: tag, Value: n.componentValue(tag)})
	}

	var sb strings.Builder
	for i, c := range comps {
		if i > 0 {
			sb.WriteByte('|')
		}
		sb.WriteString(c.Value)
	}
	sum := sha256.Sum256([]byte(sb.String()))

	return Fingerprint{
		ID:         hex.EncodeToString(sum[:]),
		Version:    Version,
		Components: comps,
	}
}

// FromStored reconstructs a Fingerprint from persisted "tag=value" component
// strings, for comparison against freshly built fingerprints.
func FromStored(id string, stored []string) Fingerprint {
	comps := make([]Component, 0, len(stored))
	for _, s := range stored {
		tag, value, found := strings.Cut(s, "=")
		if !found {
			continue
		}
		comps = append(comps, Component{Tag: ComponentTag(tag), Value: value})
	}
	return Fingerprint{ID: id, Version: Version, Components: comps}
}

// Component returns the value for a tag, if present.
func (f Fingerprint) Component(tag ComponentTag) (string, bool) {
	for _, c := range f.Components {
		if c.Tag == tag {
			return c.Value, true
		}
	}
	return "", false
}

// Strings renders the component list as "tag=value" pairs for persistence.
func (f Fingerprint) Strings() []string {
	out := make([]string, len(f.Components))
	for i, c := range f.Components {
		out[i] = string(c.Tag) + "=" + c.Value
	}
	return out
}

func (n SignalSet) componentValue(tag ComponentTag) string {
	switch tag {
	case CompVersion:
		return Version
	case CompUserAgent:
		return truncate(n.UserAgent, blobPrefixLen)
	case CompLanguage:
		return n.Language
	case CompLanguages:
		if len(n.Languages) == 0 {
			return "no-languages"
		}
		return strings.Join(n.Languages, ",")
	case CompScreenWidth:
		return formatInt(n.ScreenWidth)
	case CompScreenHeight:
		return formatInt(n.ScreenHeight)
	case CompColorDepth:
		return formatInt(n.ColorDepth)
	case CompPixelRatio:
		return formatFloat(n.PixelRatio)
	case CompTimezone:
		return n.Timezone
	case CompPlatform:
		return n.Platform
	case CompConcurrency:
		return formatInt(n.HardwareConcurrency)
	case CompDeviceMemory:
		return formatInt(n.DeviceMemory)
	case CompTouch:
		return formatBool(n.TouchSupport)
	case CompCookies:
		return formatBool(n.CookiesEnabled)
	case CompDoNotTrack:
		return n.DoNotTrack
	case CompWebdriver:
		return formatBool(n.Webdriver)
	case CompPluginCount:
		return formatInt(n.PluginCount)
	case CompCanvas:
		return truncate(n.Canvas, blobPrefixLen)
	case CompWebGL:
		return truncate(n.WebGL, blobPrefixLen)
	case CompAudio:
		return truncate(n.Audio, blobPrefixLen)
	case CompFonts:
		if len(n.Fonts) == 0 {
			return PlaceholderNoFonts
		}
		return strings.Join(n.Fonts, ",")
	}
	return PlaceholderUnknown
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
