package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/open-builders/points-backend/internal/domain/profile"
)

func TestSanitizeTrimsAndCaps(t *testing.T) {
	in := &domain.Profile{
		UserID:      1,
		Handle:      "alice",
		DisplayName: strings.Repeat("n", 80),
		PersonalInfo: domain.PersonalInfo{
			Bio:       "  " + strings.Repeat("é", 600),
			Interests: []string{" go ", "", "   ", "a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
		},
		LinkedAccounts: domain.LinkedAccounts{Twitter: " @alice_x "},
	}

	out, err := sanitize(in, false)
	require.NoError(t, err)
	assert.Len(t, []rune(out.DisplayName), maxDisplayName)
	assert.Len(t, []rune(out.PersonalInfo.Bio), maxBio)
	assert.Len(t, out.PersonalInfo.Interests, maxInterests)
	assert.Equal(t, "go", out.PersonalInfo.Interests[0])
	assert.Equal(t, "alice_x", out.LinkedAccounts.Twitter)

	// Input is not modified.
	assert.False(t, out.PersonalInfo.IdentityVerified)
	assert.Equal(t, " @alice_x ", in.LinkedAccounts.Twitter)
}

func TestSanitizeWallet(t *testing.T) {
	raw := "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"
	_, err := sanitize(&domain.Profile{LinkedAccounts: domain.LinkedAccounts{TONWallet: raw}}, false)
	assert.NoError(t, err)

	_, err = sanitize(&domain.Profile{LinkedAccounts: domain.LinkedAccounts{TONWallet: "0:zz"}}, false)
	assert.Error(t, err)

	_, err = sanitize(&domain.Profile{LinkedAccounts: domain.LinkedAccounts{TONWallet: "hello"}}, false)
	assert.Error(t, err)
}

func TestSanitizeKeepsStoredVerification(t *testing.T) {
	claimed := &domain.Profile{PersonalInfo: domain.PersonalInfo{IdentityVerified: true}}
	out, err := sanitize(claimed, false)
	require.NoError(t, err)
	assert.False(t, out.PersonalInfo.IdentityVerified)

	out, err = sanitize(&domain.Profile{}, true)
	require.NoError(t, err)
	assert.True(t, out.PersonalInfo.IdentityVerified)
}
