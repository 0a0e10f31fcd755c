package points

import (
	"math"

	"github.com/open-builders/points-backend/internal/domain/profile"
)

const (
	trustFromVerification = 50
	trustFromCompleteness = 50
	// Verified identity, five personal fields and MaxLinkedAccounts.
	completionSlots = 1 + 5 + MaxLinkedAccounts
)

// WeightedHumanScore folds a session score into a running average weighted by
// questions answered, rounded to the nearest integer.
func WeightedHumanScore(oldAvg, oldCount, sessionScore, sessionCount int) int {
	if sessionCount <= 0 {
		return clampScore(oldAvg)
	}
	if oldCount < 0 {
		oldCount = 0
	}
	sum := float64(oldAvg*oldCount + sessionScore*sessionCount)
	return clampScore(int(math.Round(sum / float64(oldCount+sessionCount))))
}

// ReplaceHumanScore swaps one session's contribution inside a running average
// without touching the other sessions' weight. totalCount includes the session.
func ReplaceHumanScore(avg, totalCount, oldScore, newScore, sessionCount int) int {
	if totalCount <= 0 || sessionCount <= 0 {
		return clampScore(avg)
	}
	sum := float64(avg*totalCount - oldScore*sessionCount + newScore*sessionCount)
	return clampScore(int(math.Round(sum / float64(totalCount))))
}

// ComputeTrustScore derives trust from verification and completeness, minus
// the accumulated penalty.
func ComputeTrustScore(p profile.Profile) int {
	c := CountCompletion(p)
	score := 0
	slots := 0
	if c.HasVerifiedIdentity {
		score += trustFromVerification
		slots++
	}
	slots += c.FilledFieldCount
	linked := c.LinkedAccountCount
	if linked > MaxLinkedAccounts {
		linked = MaxLinkedAccounts
	}
	slots += linked
	score += slots * trustFromCompleteness / completionSlots
	return clampScore(score - p.TrustPenalty)
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
