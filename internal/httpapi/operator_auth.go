package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for operator data
type contextKey string

const operatorContextKey contextKey = "operator"

// OperatorRole is the only role accepted on inspection endpoints.
const OperatorRole = "operator"

// OperatorClaims represents the claims in an operator JWT.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// IssueOperatorToken signs an HS256 operator token for subject, valid for ttl.
func IssueOperatorToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("httpapi: operator secret not configured")
	}
	now := time.Now()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: OperatorRole,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// withOperator is middleware that requires a valid operator JWT, taken from
// the Authorization header or, for websocket clients, the access_token query
// parameter. Without a configured secret the endpoints are open.
func (r *Router) withOperator(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.OperatorJWTSecret == "" {
			next.ServeHTTP(w, req)
			return
		}

		tokenString, err := bearerToken(req)
		if err != nil {
			http.Error(w, fmt.Sprintf(`{"error": %q}`, err.Error()), http.StatusUnauthorized)
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.OperatorJWTSecret), nil
		})
		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*OperatorClaims)
		if !ok || claims.Role != OperatorRole {
			http.Error(w, `{"error": "operator access required"}`, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(req.Context(), operatorContextKey, claims.Subject)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

func bearerToken(req *http.Request) (string, error) {
	authHeader := req.Header.Get("Authorization")
	if authHeader == "" {
		if t := req.URL.Query().Get("access_token"); t != "" {
			return t, nil
		}
		return "", errors.New("missing authorization header")
	}

	// Expect "Bearer <token>"
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", errors.New("invalid authorization format")
	}
	return parts[1], nil
}

// operatorFromContext returns the subject of the authenticated operator.
func operatorFromContext(ctx context.Context) string {
	s, _ := ctx.Value(operatorContextKey).(string)
	return s
}
