package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for tokens that fail signature, expiry or claim checks.
var ErrInvalidToken = errors.New("invalid token")

const tokenIssuer = "model-provider-connections"

// UserClaims carries the authenticated user for admin API requests.
type UserClaims struct {
	UserID uint64 `json:"user_id"` // Authenticated user ID.
	jwt.RegisteredClaims
}

// IssueUserToken signs an HS256 token for userID that expires after ttl.
func IssueUserToken(secret string, userID uint64, ttl time.Duration) (string, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return "", errors.New("jwt: empty secret")
	}
	if userID == 0 {
		return "", errors.New("jwt: user id is required")
	}
	now := time.Now().UTC()
	claims := UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("jwt: sign: %w", errSign)
	}
	return signed, nil
}

// ParseUserToken verifies tokenString and returns its claims.
func ParseUserToken(secret, tokenString string) (*UserClaims, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrInvalidToken
	}
	claims := &UserClaims{}
	token, errParse := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(*jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateRandomString returns n random bytes encoded as URL-safe base64.
func GenerateRandomString(n int) (string, error) {
	buf := make([]byte, n)
	if _, errRead := rand.Read(buf); errRead != nil {
		return "", fmt.Errorf("generate random string: %w", errRead)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
