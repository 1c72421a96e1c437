package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingSubject is returned for tokens that carry no user id.
var ErrMissingSubject = errors.New("token has no user id")

// Claims represents JWT claims issued by the account service
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// TokenVerifier checks HS256 bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier returns a verifier for tokens signed with secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// GenerateToken signs a token for userID. The account service owns issuance;
// this is used by tests and local tooling.
func (v *TokenVerifier) GenerateToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// ValidateToken validates and parses a JWT token and returns the user id.
// Tokens may carry the id in the userId claim or in sub.
func (v *TokenVerifier) ValidateToken(tokenString string) (string, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}

	if !token.Valid {
		return "", jwt.ErrSignatureInvalid
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return "", ErrMissingSubject
	}
	return userID, nil
}
