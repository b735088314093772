package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sentra-io/devicetrust/internal/detect"
	"github.com/sentra-io/devicetrust/internal/models"
)

func TestScoreNoSignals(t *testing.T) {
	var scorer RiskScorer
	assert.Equal(t, models.RiskLow, scorer.Score(detect.NewTagSet(), History{}))
}

func TestScoreThresholds(t *testing.T) {
	var scorer RiskScorer

	// 3 points: medium.
	level := scorer.Score(detect.NewTagSet(detect.TagWebdriver), History{})
	assert.Equal(t, models.RiskMedium, level)

	// 5 points: high.
	level = scorer.Score(detect.NewTagSet(detect.TagWebdriver, detect.TagVPN), History{})
	assert.Equal(t, models.RiskHigh, level)

	// 8 points: critical.
	level = scorer.Score(detect.NewTagSet(detect.TagWebdriver, detect.TagSelenium, detect.TagVPN), History{})
	assert.Equal(t, models.RiskCritical, level)

	// 2 points stays low.
	level = scorer.Score(detect.NewTagSet(detect.TagInvalidScreen, detect.TagLimitedFonts), History{})
	assert.Equal(t, models.RiskLow, level)
}

func TestScoreUnknownTagCountsOne(t *testing.T) {
	var scorer RiskScorer

	tags := detect.NewTagSet("some_future_tag", detect.TagVPN)
	// 1 + 2 = 3: medium.
	assert.Equal(t, models.RiskMedium, scorer.Score(tags, History{}))
}

func TestScoreHistoryContribution(t *testing.T) {
	var scorer RiskScorer

	// Failure history alone (2 points) stays low.
	level := scorer.Score(detect.NewTagSet(), History{FailedAttempts: 11})
	assert.Equal(t, models.RiskLow, level)

	// Exactly 10 failures does not contribute yet.
	level = scorer.Score(detect.NewTagSet(detect.TagNoLanguages), History{FailedAttempts: 10})
	assert.Equal(t, models.RiskLow, level)

	// Sticky risk: a critical record contributes 2, a high one 1.
	level = scorer.Score(detect.NewTagSet(detect.TagNoLanguages), History{StoredRiskLevel: models.RiskCritical})
	assert.Equal(t, models.RiskMedium, level)

	level = scorer.Score(detect.NewTagSet(detect.TagWebdriver, detect.TagNoLanguages), History{
		FailedAttempts:  11,
		StoredRiskLevel: models.RiskHigh,
	})
	// 3 + 1 + 2 + 1 = 7: high.
	assert.Equal(t, models.RiskHigh, level)
}

func TestScoreMonotone(t *testing.T) {
	var scorer RiskScorer

	base := detect.NewTagSet(detect.TagVPN)
	more := detect.NewTagSet(detect.TagVPN, detect.TagWebdriver, detect.TagHeadless)

	baseLevel := scorer.Score(base, History{})
	moreLevel := scorer.Score(more, History{})
	assert.GreaterOrEqual(t, moreLevel.Rank(), baseLevel.Rank())
}
