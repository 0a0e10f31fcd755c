// Package points holds the pure point, score and rate-limit formulas. Nothing
// in this package performs I/O or reads the clock; every function returns the
// same output for the same input.
package points

import (
	"strings"

	"github.com/open-builders/points-backend/internal/domain/profile"
)

const (
	// Base is granted to every profile.
	Base = 1000
	// Bonus is the one-time founding member grant.
	Bonus = 10000

	VerifiedIdentityPoints = 500
	FieldPoints            = 100
	LinkedAccountPoints    = 250
	MaxLinkedAccounts      = 4
)

// ComputeBasePoints returns Base, plus Bonus when the bonus applies.
func ComputeBasePoints(bonusApplies bool) int {
	if bonusApplies {
		return Base + Bonus
	}
	return Base
}

// CountCompletion reports which optional profile fields are filled in.
// Each field counts at most once regardless of how much it holds.
func CountCompletion(p profile.Profile) profile.CompletionCounts {
	info := p.PersonalInfo
	counts := profile.CompletionCounts{HasVerifiedIdentity: info.IdentityVerified}

	for _, field := range []string{info.Bio, info.Location, info.Occupation, info.Website} {
		if filled(field) {
			counts.FilledFieldCount++
		}
	}
	for _, interest := range info.Interests {
		if filled(interest) {
			counts.FilledFieldCount++
			break
		}
	}

	acc := p.LinkedAccounts
	for _, handle := range []string{acc.Twitter, acc.GitHub, acc.Telegram, acc.TONWallet} {
		if filled(handle) {
			counts.LinkedAccountCount++
		}
	}
	return counts
}

// CompletionPointsFromCounts is the single completion formula, shared with the
// remote update_completion_points operation.
func CompletionPointsFromCounts(c profile.CompletionCounts) int {
	total := 0
	if c.HasVerifiedIdentity {
		total += VerifiedIdentityPoints
	}
	if c.FilledFieldCount > 0 {
		total += c.FilledFieldCount * FieldPoints
	}
	linked := c.LinkedAccountCount
	if linked > MaxLinkedAccounts {
		linked = MaxLinkedAccounts
	}
	if linked > 0 {
		total += linked * LinkedAccountPoints
	}
	return total
}

// ComputeProfileCompletionPoints derives completion points from the profile fields.
func ComputeProfileCompletionPoints(p profile.Profile) int {
	return CompletionPointsFromCounts(CountCompletion(p))
}

// SessionPoints sums the stored per-session contributions.
func SessionPoints(sessions []profile.SessionRecord) int {
	total := 0
	for _, s := range sessions {
		total += s.PointsEarned
	}
	return total
}

// ComputeTotalPoints is the only definition of a profile's point total:
// base + completion + sum of session points.
func ComputeTotalPoints(p profile.Profile) int {
	return ComputeBasePoints(p.BonusGranted) + ComputeProfileCompletionPoints(p) + SessionPoints(p.Sessions)
}

// Decorate fills the derived fields of p in place.
func Decorate(p *profile.Profile) {
	p.BasePoints = ComputeBasePoints(p.BonusGranted)
	p.CompletionPoints = ComputeProfileCompletionPoints(*p)
	p.TrustScore = ComputeTrustScore(*p)
}

func filled(s string) bool {
	return strings.TrimSpace(s) != ""
}
