package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"handoff-engine/internal/core/domain"
)

const userIDKey = "userID"

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// TokenVerifier learns the caller id from a bearer token
type TokenVerifier interface {
	Verify(tokenString string) (userID string, err error)
}

// JWTVerifier verifies HS256 tokens and reads the user id from "sub"
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for secret
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and returns its subject
func (v *JWTVerifier) Verify(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	return sub, nil
}

// Generate issues a token for userID
func (v *JWTVerifier) Generate(userID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(expiresIn).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequireAuth rejects requests without a valid bearer token. Websocket
// upgrades may pass the token as ?token= instead.
func RequireAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if raw == "" {
			raw = c.Query("token")
		}
		if raw == "" {
			respondError(c, domain.NewError(domain.CodeUnauthorized, "authorization required"))
			return
		}

		userID, err := verifier.Verify(raw)
		if err != nil {
			respondError(c, domain.NewError(domain.CodeUnauthorized, "invalid or expired token"))
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// RequireAdmin lets only the listed user ids through; an empty list denies
// everyone. Must run after RequireAuth.
func RequireAdmin(admins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(admins))
	for _, id := range admins {
		allowed[id] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := allowed[callerID(c)]; !ok {
			slog.Warn("Admin route refused",
				"user_id", callerID(c),
				"path", c.FullPath(),
			)
			respondError(c, domain.NewError(domain.CodeForbidden, "administrator access required"))
			return
		}
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
