package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseCountry(t *testing.T) {
	c, ok := ParseCountry(" ke ")
	assert.True(t, ok)
	assert.Equal(t, CountryKE, c)

	_, ok = ParseCountry("US")
	assert.False(t, ok)
}

func TestCountryOwnsPhone(t *testing.T) {
	assert.True(t, CountryKE.OwnsPhone("254712345678"))
	assert.True(t, CountryZA.OwnsPhone("27821234567"))
	assert.False(t, CountryNG.OwnsPhone("254712345678"))
	assert.False(t, Country("US").OwnsPhone("15551234567"))
}

func TestTierAllows(t *testing.T) {
	assert.True(t, TierBusiness.Allows(TierPro))
	assert.True(t, TierPro.Allows(TierPro))
	assert.False(t, TierFree.Allows(TierPro))
	assert.True(t, Tier("").Allows(TierFree))
}

func TestSessionActive(t *testing.T) {
	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Hour)}
	assert.True(t, s.Active(now))

	s.Revoked = true
	assert.False(t, s.Active(now))

	s = &Session{ExpiresAt: now}
	assert.False(t, s.Active(now))
}

func TestVerificationCodeUsable(t *testing.T) {
	now := time.Now()
	c := &VerificationCode{ExpiresAt: now.Add(time.Minute)}
	assert.True(t, c.Usable(now))
	c.Used = true
	assert.False(t, c.Usable(now))
}
