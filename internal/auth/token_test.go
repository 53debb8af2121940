package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stroycontrol/defect-service/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 15)
	issued := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return issued }

	token, exp, err := tm.GenerateToken("user-1", domain.UserRoleManager)
	require.NoError(t, err)
	assert.Equal(t, issued.Add(15*time.Minute), exp)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, domain.UserRoleManager, claims.Role)
}

func TestParseTokenRejects(t *testing.T) {
	tm := NewTokenManager("secret", 15)
	issued := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tm.now = func() time.Time { return issued }
	token, _, err := tm.GenerateToken("user-1", domain.UserRoleEngineer)
	require.NoError(t, err)

	t.Run("expired", func(t *testing.T) {
		late := NewTokenManager("secret", 15)
		late.now = func() time.Time { return issued.Add(time.Hour) }
		_, err := late.ParseToken(token)
		assert.Error(t, err)
	})
	t.Run("wrong secret", func(t *testing.T) {
		other := NewTokenManager("other", 15)
		other.now = tm.now
		_, err := other.ParseToken(token)
		assert.Error(t, err)
	})
	t.Run("garbage", func(t *testing.T) {
		_, err := tm.ParseToken("not.a.token")
		assert.Error(t, err)
	})
}

func TestNewTokenManagerDefaultsTTL(t *testing.T) {
	assert.Equal(t, time.Hour, NewTokenManager("s", 0).ttl)
}
