// Package token issues and validates the access/refresh JWT pair. The two
// token kinds are signed with independent HS256 secrets, so one can never be
// presented where the other is expected.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Config holds the signing material and lifetimes for both token kinds.
type Config struct {
	AccessSecret  []byte
	AccessTTL     time.Duration
	RefreshSecret []byte
	RefreshTTL    time.Duration
	Issuer        string
}

// AccessClaims is the payload of an access token: identity plus the claims a
// resource server needs for coarse authorization without a database hit.
type AccessClaims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

type refreshClaims struct {
	jwt.RegisteredClaims
}

// Issuer mints and parses tokens. Safe for concurrent use.
type Issuer struct {
	config Config
}

func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("token secrets required")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	return &Issuer{config: cfg}, nil
}

// IssueAccess signs a short-lived access token for the user.
func (i *Issuer) IssueAccess(userID, email, role string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.AccessTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(i.config.AccessSecret)
}

// IssueRefresh signs a long-lived refresh token. It carries only the subject;
// everything else is re-read from the user store at refresh time.
func (i *Issuer) IssueRefresh(userID string) (string, error) {
	now := time.Now()
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.config.RefreshTTL)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString(i.config.RefreshSecret)
}

// ParseAccess validates signature, expiry, and issuer of an access token and
// returns its claims.
func (i *Issuer) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := i.parse(tokenStr, claims, i.config.AccessSecret); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("access token missing subject")
	}
	return claims, nil
}

// ParseRefresh validates a refresh token and returns the user ID it was
// issued for. An access token presented here fails on signature.
func (i *Issuer) ParseRefresh(tokenStr string) (string, error) {
	claims := &refreshClaims{}
	if err := i.parse(tokenStr, claims, i.config.RefreshSecret); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("refresh token missing subject")
	}
	return claims.Subject, nil
}

func (i *Issuer) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if i.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(i.config.Issuer))
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(
		tokenStr,
		claims,
		func(*jwt.Token) (interface{}, error) {
			return secret, nil
		},
	)
	if err != nil {
		return err
	}
	if !token.Valid {
		return jwt.ErrTokenInvalidClaims
	}

	return nil
}
