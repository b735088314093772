package detect

import (
	"regexp"
	"sort"

	"github.com/sentra-io/devicetrust/internal/fingerprint"
	"github.com/sentra-io/devicetrust/internal/models"
)

// ActivityTag is a short symbolic label emitted by a detector.
type ActivityTag string

const (
	TagWebdriver      ActivityTag = "webdriver_detected"
	TagPhantom        ActivityTag = "phantom_detected"
	TagSelenium       ActivityTag = "selenium_detected"
	TagHeadless       ActivityTag = "headless_browser"
	TagAutomation     ActivityTag = "automation_tool"
	TagVPN            ActivityTag = "vpn_detected"
	TagProxy          ActivityTag = "proxy_detected"
	TagNearDuplicate  ActivityTag = "near_duplicate_fingerprint"
	TagInvalidScreen  ActivityTag = "invalid_screen"
	TagLimitedFonts   ActivityTag = "limited_fonts"
	TagNoLanguages    ActivityTag = "no_languages"
	TagVirtualMachine ActivityTag = "virtual_machine"
)

// AutomationTags are the labels that identify browser automation tooling and
// trigger the long block tier on their own.
var AutomationTags = []ActivityTag{TagWebdriver, TagPhantom, TagSelenium, TagAutomation}

// TagSet is an unordered, deduplicated set of detected tags.
type TagSet map[ActivityTag]struct{}

func NewTagSet(tags ...ActivityTag) TagSet {
	s := make(TagSet, len(tags))
	s.Add(tags...)
	return s
}

func (s TagSet) Add(tags ...ActivityTag) {
	for _, t := range tags {
		s[t] = struct{}{}
	}
}

func (s TagSet) Has(tag ActivityTag) bool {
	_, ok := s[tag]
	return ok
}

func (s TagSet) HasAny(tags ...ActivityTag) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// List returns the tags in lexical order so downstream logging and event
// payloads are deterministic.
func (s TagSet) List() []ActivityTag {
	out := make([]ActivityTag, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Input carries everything a detector may inspect.
type Input struct {
	Signals fingerprint.SignalSet
	IP      string
}

// Detector inspects one evaluation's inputs and emits zero or more tags.
// Detectors are best-effort heuristics: they must never fail, only stay
// silent when a signal is unavailable.
type Detector func(in Input) []ActivityTag

// Defaults returns the standard detector chain.
func Defaults(extraVPNRanges []string) []Detector {
	vpn := NewVPNDetector(extraVPNRanges)
	return []Detector{Automation, EnvironmentPlausibility, vpn.Detect}
}

// uaPatterns map user-agent substrings to their specific automation tag.
// Order matters: the most specific tools are matched first.
var uaPatterns = []struct {
	re  *regexp.Regexp
	tag ActivityTag
}{
	{regexp.MustCompile(`(?i)phantomjs`), TagPhantom},
	{regexp.MustCompile(`(?i)selenium`), TagSelenium},
	{regexp.MustCompile(`(?i)headless`), TagHeadless},
	{regexp.MustCompile(`(?i)webdriver`), TagWebdriver},
	{regexp.MustCompile(`(?i)puppeteer`), TagAutomation},
	{regexp.MustCompile(`(?i)playwright`), TagAutomation},
	{regexp.MustCompile(`(?i)cypress`), TagAutomation},
	{regexp.MustCompile(`(?i)nightwatch`), TagAutomation},
	{regexp.MustCompile(`(?i)electron`), TagAutomation},
	{regexp.MustCompile(`(?i)zombie`), TagAutomation},
}

// Automation flags webdriver exposure and automation tooling visible in the
// user agent or language vector.
func Automation(in Input) []ActivityTag {
	var tags []ActivityTag
	if in.Signals.Webdriver {
		tags = append(tags, TagWebdriver)
	}
	for _, p := range uaPatterns {
		if p.re.MatchString(in.Signals.UserAgent) {
			tags = append(tags, p.tag)
		}
	}
	if len(in.Signals.Languages) == 0 && in.Signals.Language == "" {
		tags = append(tags, TagNoLanguages)
	}
	return tags
}

// EnvironmentPlausibility flags screen geometry and font vectors that real
// consumer devices rarely produce. Low-confidence signals only.
func EnvironmentPlausibility(in Input) []ActivityTag {
	var tags []ActivityTag
	s := in.Signals

	if s.ScreenWidth <= 0 || s.ScreenHeight <= 0 || s.ColorDepth <= 0 {
		tags = append(tags, TagInvalidScreen)
	}

	vmScreen := (s.ScreenWidth == 1024 && s.ScreenHeight == 768) ||
		(s.ScreenWidth == 800 && s.ScreenHeight == 600)
	if vmScreen && s.HardwareConcurrency <= 1 {
		tags = append(tags, TagVirtualMachine)
	}

	if len(s.Fonts) > 0 && len(s.Fonts) < 3 {
		tags = append(tags, TagLimitedFonts)
	}
	return tags
}

// EventFor maps a tag to the event type and severity recorded for it.
func EventFor(tag ActivityTag) (models.EventType, models.RiskLevel) {
	switch tag {
	case TagWebdriver, TagPhantom, TagSelenium, TagHeadless, TagAutomation:
		return models.EventAutomationDetected, models.RiskHigh
	case TagVPN:
		return models.EventVPNDetected, models.RiskMedium
	case TagProxy:
		return models.EventProxyDetected, models.RiskMedium
	case TagNearDuplicate:
		return models.EventFingerprintMismatch, models.RiskHigh
	default:
		return models.EventSuspiciousBehavior, models.RiskLow
	}
}
