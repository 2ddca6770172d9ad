package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(t *testing.T) *Issuer {
	t.Helper()

	issuer, err := NewIssuer(Config{
		AccessSecret:  []byte("access-secret-for-tests-0123456789"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("refresh-secret-for-tests-987654321"),
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "erp-auth",
	})
	require.NoError(t, err)
	return issuer
}

func TestNewIssuerValidation(t *testing.T) {
	_, err := NewIssuer(Config{
		RefreshSecret: []byte("x"),
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	assert.Error(t, err, "missing access secret")

	_, err = NewIssuer(Config{
		AccessSecret:  []byte("x"),
		RefreshSecret: []byte("y"),
		AccessTTL:     0,
		RefreshTTL:    time.Hour,
	})
	assert.Error(t, err, "zero access ttl")
}

func TestAccessTokenRoundTrip(t *testing.T) {
	issuer := testIssuer(t)

	tokenStr, err := issuer.IssueAccess("u1", "alice@example.com", "manager")
	require.NoError(t, err)
	require.NotEmpty(t, tokenStr)

	claims, err := issuer.ParseAccess(tokenStr)
	require.NoError(t, err)

	assert.Equal(t, "u1", claims.Subject)
	assert.Equal(t, "alice@example.com", claims.Email)
	assert.Equal(t, "manager", claims.Role)
	assert.Equal(t, "erp-auth", claims.Issuer)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	issuer := testIssuer(t)

	tokenStr, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)

	userID, err := issuer.ParseRefresh(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	issuer := testIssuer(t)

	access, err := issuer.IssueAccess("u1", "alice@example.com", "employee")
	require.NoError(t, err)
	refresh, err := issuer.IssueRefresh("u1")
	require.NoError(t, err)

	_, err = issuer.ParseRefresh(access)
	assert.Error(t, err, "access token must not refresh")

	_, err = issuer.ParseAccess(refresh)
	assert.Error(t, err, "refresh token must not grant access")
}

func TestParseRejectsForeignSignature(t *testing.T) {
	issuer := testIssuer(t)

	other, err := NewIssuer(Config{
		AccessSecret:  []byte("some-other-access-secret-value-00"),
		AccessTTL:     15 * time.Minute,
		RefreshSecret: []byte("some-other-refresh-secret-value-0"),
		RefreshTTL:    7 * 24 * time.Hour,
		Issuer:        "erp-auth",
	})
	require.NoError(t, err)

	tokenStr, err := other.IssueAccess("u1", "alice@example.com", "employee")
	require.NoError(t, err)

	_, err = issuer.ParseAccess(tokenStr)
	assert.Error(t, err)
}

func TestParseRejectsExpiredToken(t *testing.T) {
	now := time.Now()
	claims := AccessClaims{
		Email: "alice@example.com",
		Role:  "employee",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "erp-auth",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-30 * time.Minute)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("access-secret-for-tests-0123456789"))
	require.NoError(t, err)

	_, err = testIssuer(t).ParseAccess(tokenStr)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParseRejectsIssuerMismatch(t *testing.T) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "someone-else",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("access-secret-for-tests-0123456789"))
	require.NoError(t, err)

	_, err = testIssuer(t).ParseAccess(tokenStr)
	assert.Error(t, err)
}

func TestParseRejectsMissingSubject(t *testing.T) {
	now := time.Now()
	claims := AccessClaims{
		Email: "alice@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "erp-auth",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte("access-secret-for-tests-0123456789"))
	require.NoError(t, err)

	_, err = testIssuer(t).ParseAccess(tokenStr)
	assert.Error(t, err)
}

func TestParseRejectsUnsignedToken(t *testing.T) {
	now := time.Now()
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u1",
			Issuer:    "erp-auth",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	tokenStr, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = testIssuer(t).ParseAccess(tokenStr)
	assert.Error(t, err)
}
