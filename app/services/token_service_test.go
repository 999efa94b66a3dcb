package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestTokenService(t *testing.T, accessTTL, refreshTTL time.Duration) TokenService {
	t.Helper()

	svc, err := NewTokenService(
		accessTTL,
		refreshTTL,
		"matching-engine",
		"matching-engine-api",
		false,
		"", "",
		"test-secret-key-at-least-32-characters",
	)
	require.NoError(t, err)
	return svc
}

func TestTokenService_GenerateAndValidate(t *testing.T) {
	svc := createTestTokenService(t, time.Hour, 24*time.Hour)

	accessToken, refreshToken, err := svc.GenerateReviewerTokens(42, "tenant-1")
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)
	assert.NotEmpty(t, refreshToken)
	assert.NotEqual(t, accessToken, refreshToken)

	t.Run("AccessTokenClaims", func(t *testing.T) {
		claims, err := svc.ValidateReviewerToken(accessToken)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.ReviewerID)
		assert.Equal(t, "tenant-1", claims.TenantID)
		assert.Equal(t, "access", claims.TokenType)
		assert.NotEmpty(t, claims.TokenID)
		assert.True(t, claims.ExpiresAt.After(claims.IssuedAt))
	})

	t.Run("RefreshTokenClaims", func(t *testing.T) {
		claims, err := svc.ValidateReviewerToken(refreshToken)
		require.NoError(t, err)
		assert.Equal(t, "refresh", claims.TokenType)
	})

	t.Run("UniqueTokenIDs", func(t *testing.T) {
		secondAccess, _, err := svc.GenerateReviewerTokens(42, "tenant-1")
		require.NoError(t, err)

		first, err := svc.ValidateReviewerToken(accessToken)
		require.NoError(t, err)
		second, err := svc.ValidateReviewerToken(secondAccess)
		require.NoError(t, err)
		assert.NotEqual(t, first.TokenID, second.TokenID)
	})
}

func TestTokenService_Validate(t *testing.T) {
	svc := createTestTokenService(t, time.Hour, 24*time.Hour)

	t.Run("GarbageToken", func(t *testing.T) {
		_, err := svc.ValidateReviewerToken("not-a-jwt")
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("WrongSecret", func(t *testing.T) {
		other := createTestTokenService(t, time.Hour, 24*time.Hour)
		accessToken, _, err := other.GenerateReviewerTokens(1, "tenant-1")
		require.NoError(t, err)

		tampered, err := NewTokenService(
			time.Hour, 24*time.Hour,
			"matching-engine", "matching-engine-api",
			false, "", "",
			"another-secret-key-also-32-characters-x",
		)
		require.NoError(t, err)

		_, err = tampered.ValidateReviewerToken(accessToken)
		assert.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("ExpiredToken", func(t *testing.T) {
		expired := createTestTokenService(t, -time.Minute, 24*time.Hour)
		accessToken, _, err := expired.GenerateReviewerTokens(1, "tenant-1")
		require.NoError(t, err)

		_, err = expired.ValidateReviewerToken(accessToken)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})
}

func TestTokenService_Refresh(t *testing.T) {
	svc := createTestTokenService(t, time.Hour, 24*time.Hour)

	t.Run("RefreshIssuesNewPair", func(t *testing.T) {
		_, refreshToken, err := svc.GenerateReviewerTokens(42, "tenant-1")
		require.NoError(t, err)

		newAccess, newRefresh, err := svc.RefreshReviewerToken(refreshToken)
		require.NoError(t, err)

		claims, err := svc.ValidateReviewerToken(newAccess)
		require.NoError(t, err)
		assert.Equal(t, uint(42), claims.ReviewerID)
		assert.Equal(t, "tenant-1", claims.TenantID)
		assert.Equal(t, "access", claims.TokenType)

		refreshClaims, err := svc.ValidateReviewerToken(newRefresh)
		require.NoError(t, err)
		assert.Equal(t, "refresh", refreshClaims.TokenType)
	})

	t.Run("AccessTokenCannotRefresh", func(t *testing.T) {
		accessToken, _, err := svc.GenerateReviewerTokens(42, "tenant-1")
		require.NoError(t, err)

		_, _, err = svc.RefreshReviewerToken(accessToken)
		assert.Error(t, err)
	})
}

func TestNewTokenService_Config(t *testing.T) {
	t.Run("SecretRequiredWithoutRSA", func(t *testing.T) {
		_, err := NewTokenService(time.Hour, 24*time.Hour, "iss", "aud", false, "", "", "")
		assert.Error(t, err)
	})

	t.Run("RSARequiresBothKeys", func(t *testing.T) {
		_, err := NewTokenService(time.Hour, 24*time.Hour, "iss", "aud", true, "", "", "")
		assert.Error(t, err)
	})
}
