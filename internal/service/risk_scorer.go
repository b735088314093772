package service

import (
	"github.com/sentra-io/devicetrust/internal/detect"
	"github.com/sentra-io/devicetrust/internal/models"
)

// Tag point contributions. Unlisted tags score unknownTagPoints rather than
// zero so novel detectors degrade toward "more suspicious" instead of
// silently no-op'ing.
var tagPoints = map[detect.ActivityTag]int{
	detect.TagWebdriver:     3,
	detect.TagPhantom:       3,
	detect.TagSelenium:      3,
	detect.TagHeadless:      2,
	detect.TagAutomation:    2,
	detect.TagVPN:           2,
	detect.TagNearDuplicate: 2,
	detect.TagInvalidScreen: 1,
	detect.TagLimitedFonts:  1,
	detect.TagNoLanguages:   1,
}

const unknownTagPoints = 1

// Risk classification thresholds over the summed points.
const (
	criticalThreshold = 8
	highThreshold     = 5
	mediumThreshold   = 3
)

// History carries the stored counters that feed the score alongside the
// freshly detected tags.
type History struct {
	FailedAttempts  int
	StoredRiskLevel models.RiskLevel
}

// RiskScorer maps detected tags plus history into the four-tier risk
// classification. The function is monotone and additive: adding a tag can
// never lower the resulting level.
type RiskScorer struct{}

func (RiskScorer) Score(tags detect.TagSet, hist History) models.RiskLevel {
	total := 0
	for tag := range tags {
		if pts, ok := tagPoints[tag]; ok {
			total += pts
		} else {
			total += unknownTagPoints
		}
	}

	if hist.FailedAttempts > 10 {
		total += 2
	}
	switch hist.StoredRiskLevel {
	case models.RiskHigh:
		total++
	case models.RiskCritical:
		total += 2
	}

	switch {
	case total >= criticalThreshold:
		return models.RiskCritical
	case total >= highThreshold:
		return models.RiskHigh
	case total >= mediumThreshold:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
