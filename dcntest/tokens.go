package dcntest

import (
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	audienceAccess  = "dcn:access"
	audienceRefresh = "dcn:refresh"

	defaultAccessTTL  = 5 * time.Minute
	defaultRefreshTTL = 120 * time.Hour
)

// accessClaims bind an access token to the refresh token it was issued with,
// so revoking the refresh token kills outstanding access tokens too.
type accessClaims struct {
	jwt.RegisteredClaims
	RefreshID string `json:"rid"`
}

type refreshClaims struct {
	jwt.RegisteredClaims
}

// tokenizer issues and validates the stub's ES256 token pairs.
type tokenizer struct {
	signKey    *ecdsa.PrivateKey
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func newTokenizer(signKey *ecdsa.PrivateKey) *tokenizer {
	return &tokenizer{
		signKey:    signKey,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
	}
}

func (t *tokenizer) issueAccess(address, jti, refreshID string) (string, error) {
	now := time.Now()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ID:        jti,
			Audience:  jwt.ClaimStrings{audienceAccess},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.accessTTL)),
		},
		RefreshID: refreshID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

func (t *tokenizer) issueRefresh(address, refreshID string) (string, error) {
	now := time.Now()
	claims := refreshClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ID:        refreshID,
			Audience:  jwt.ClaimStrings{audienceRefresh},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.refreshTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodES256, claims).SignedString(t.signKey)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, nil
}

func (t *tokenizer) parseAccess(tokenStr string) (*accessClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &accessClaims{}, t.keyFunc, jwt.WithAudience(audienceAccess))
	if err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	claims, ok := token.Claims.(*accessClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid access token claims")
	}
	return claims, nil
}

func (t *tokenizer) parseRefresh(tokenStr string) (*refreshClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &refreshClaims{}, t.keyFunc, jwt.WithAudience(audienceRefresh))
	if err != nil {
		return nil, fmt.Errorf("parse refresh token: %w", err)
	}
	claims, ok := token.Claims.(*refreshClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid refresh token claims")
	}
	return claims, nil
}

func (t *tokenizer) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodECDSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return &t.signKey.PublicKey, nil
}
