package fingerprint

// Similarity thresholds. MatchThreshold is the "same device" decision
// boundary. Two distinct fingerprints whose similarity falls strictly inside
// (nearDuplicateLow, nearDuplicateHigh) look like a partially manipulated
// copy of each other and are flagged as near-duplicates.
const (
	MatchThreshold    = 0.85
	nearDuplicateLow  = 0.70
	nearDuplicateHigh = 0.90
)

// compareWeights groups components into three buckets by how hard each is to
// spoof without changing real hardware or software. Summation follows this
// fixed order, so the result is bit-for-bit deterministic.
var compareWeights = []struct {
	Tag    ComponentTag
	Weight int
}{
	// Immutable-ish hardware characteristics.
	{CompScreenWidth, 4},
	{CompScreenHeight, 4},
	{CompColorDepth, 4},
	{CompPixelRatio, 4},
	// Environment probes.
	{CompTimezone, 5},
	{CompWebGL, 5},
	{CompCanvas, 5},
	{CompAudio, 5},
	{CompFonts, 5},
	// Soft, trivially spoofable fields.
	{CompConcurrency, 2},
	{CompPlatform, 2},
}

// ComparisonResult reports the weighted similarity between two fingerprints
// and which components diverged.
type ComparisonResult struct {
	Similarity float64
	Diverged   []ComponentTag
}

// SameDevice reports whether the similarity clears the match boundary.
func (r ComparisonResult) SameDevice() bool {
	return r.Similarity >= MatchThreshold
}

// NearDuplicate reports whether the near-duplicate marker was emitted.
func (r ComparisonResult) NearDuplicate() bool {
	for _, t := range r.Diverged {
		if t == CompNearDuplicate {
			return true
		}
	}
	return false
}

// Compare computes the weighted similarity between two fingerprints.
// similarity = matched_weight / total_weight over the bucketed components.
// When the fingerprints have different IDs and the similarity lands strictly
// inside the near-duplicate window, CompNearDuplicate is appended to the
// diverged list in addition to the per-component mismatches.
func Compare(a, b Fingerprint) ComparisonResult {
	var matched, total int
	var diverged []ComponentTag

	for _, cw := range compareWeights {
		total += cw.Weight
		av, aok := a.Component(cw.Tag)
		bv, bok := b.Component(cw.Tag)
		if aok && bok && av == bv {
			matched += cw.Weight
			continue
		}
		diverged = append(diverged, cw.Tag)
	}

	similarity := float64(matched) / float64(total)

	if a.ID != b.ID && similarity > nearDuplicateLow && similarity < nearDuplicateHigh {
		diverged = append(diverged, CompNearDuplicate)
	}

	return ComparisonResult{Similarity: similarity, Diverged: diverged}
}
