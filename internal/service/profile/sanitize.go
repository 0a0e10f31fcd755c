package profile

import (
	"strings"
	"unicode/utf8"

	"github.com/xssnick/tonutils-go/address"

	apperrors "github.com/open-builders/points-backend/internal/common/errors"
	domain "github.com/open-builders/points-backend/internal/domain/profile"
)

const (
	maxDisplayName = 64
	maxBio         = 500
	maxShortField  = 100
	maxWebsite     = 200
	maxInterests   = 10
	maxInterestLen = 50
	maxAccountLen  = 64
)

// sanitize returns a copy of p with editable fields trimmed and capped.
// Identity verification is not client-editable; verified replaces whatever
// the client sent. Only a malformed TON wallet is rejected outright.
func sanitize(p *domain.Profile, verified bool) (*domain.Profile, error) {
	c := p.Clone()
	c.DisplayName = clip(c.DisplayName, maxDisplayName)

	info := &c.PersonalInfo
	info.IdentityVerified = verified
	info.Bio = clip(info.Bio, maxBio)
	info.Location = clip(info.Location, maxShortField)
	info.Occupation = clip(info.Occupation, maxShortField)
	info.Website = clip(info.Website, maxWebsite)

	interests := make([]string, 0, len(info.Interests))
	for _, in := range info.Interests {
		if in = clip(in, maxInterestLen); in != "" {
			interests = append(interests, in)
		}
		if len(interests) == maxInterests {
			break
		}
	}
	info.Interests = interests

	acc := &c.LinkedAccounts
	acc.Twitter = clip(strings.TrimPrefix(strings.TrimSpace(acc.Twitter), "@"), maxAccountLen)
	acc.GitHub = clip(strings.TrimPrefix(strings.TrimSpace(acc.GitHub), "@"), maxAccountLen)
	acc.Telegram = clip(strings.TrimPrefix(strings.TrimSpace(acc.Telegram), "@"), maxAccountLen)
	acc.TONWallet = strings.TrimSpace(acc.TONWallet)
	if acc.TONWallet != "" {
		if err := validateWallet(acc.TONWallet); err != nil {
			return nil, apperrors.NewValidationError("linked_accounts.ton_wallet", err.Error())
		}
	}
	return c, nil
}

// validateWallet accepts user-friendly (base64) and raw (workchain:hex) forms.
func validateWallet(s string) error {
	if strings.Contains(s, ":") {
		_, err := address.ParseRawAddr(s)
		return err
	}
	_, err := address.ParseAddr(s)
	return err
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
