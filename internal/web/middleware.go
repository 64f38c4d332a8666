package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// UserClaims represents JWT claims for authenticated API callers.
type UserClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

func parseToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims.UserID, nil
	}
	return "", errors.New("invalid token claims")
}

// authenticated wraps mutating handlers with Bearer token validation.
func (s *Server) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "missing Authorization header")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			s.writeError(w, http.StatusUnauthorized, "INVALID_AUTH_HEADER", "invalid Authorization header")
			return
		}
		if _, err := parseToken(parts[1], s.jwtSecret); err != nil {
			s.writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			return
		}
		next(w, r)
	}
}
