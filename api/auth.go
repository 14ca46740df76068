package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chronicle/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identifies the caller of the management and ingest API
type Claims struct {
	jwt.RegisteredClaims
}

type contextKey string

const claimsContextKey contextKey = "claims"

// GenerateToken signs a bearer token for subject. A non-positive ttl uses the
// configured token lifetime.
func GenerateToken(cfg config.AuthConfig, subject string, ttl time.Duration) (string, error) {
	if len(cfg.JWTSecret) < config.MinJWTSecretLength {
		return "", fmt.Errorf("jwt secret must be at least %d characters", config.MinJWTSecretLength)
	}
	if subject == "" {
		return "", errors.New("token subject cannot be empty")
	}
	if ttl <= 0 {
		ttl = cfg.TokenTTL
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    cfg.Issuer,
			Subject:   subject,
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// validateToken checks the signature, expiry and issuer of a bearer token
func validateToken(tokenString string, cfg config.AuthConfig) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(cfg.JWTSecret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// claimsFromContext returns the authenticated caller, if any
func claimsFromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*Claims)
	return claims, ok
}

// actor names the caller for audit log lines
func actor(r *http.Request) string {
	if claims, ok := claimsFromContext(r.Context()); ok {
		return claims.Subject
	}
	return "anonymous"
}

// authMiddleware requires a valid bearer token when auth is enabled
func (a *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.config.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="chronicle"`)
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil, a.logger)
			return
		}

		claims, err := validateToken(tokenString, a.config.Auth)
		if err != nil {
			a.logger.Debugw("Rejected bearer token", "ip", getRealIP(r, a.config.API.TrustProxy), "error", err)
			w.Header().Set("WWW-Authenticate", `Bearer realm="chronicle", error="invalid_token"`)
			writeError(w, http.StatusUnauthorized, "Invalid or expired token", nil, a.logger)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsContextKey, claims)))
	})
}
