package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const clientContextKey contextKey = "client"

// Claims identify an API client.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"` // "patient" or "care_team"
}

// Client is the authenticated caller stored in the request context.
type Client struct {
	ID   string
	Role string
}

const RoleCareTeam = "care_team"

// IssueToken signs a client token with the shared secret.
func IssueToken(secret, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// bearerToken reads the token from the Authorization header, or from the
// token query parameter for browser WebSocket clients that cannot set headers.
func bearerToken(req *http.Request) string {
	if h := req.Header.Get("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	}
	return req.URL.Query().Get("token")
}

// withAuth requires a valid token when a JWT secret is configured. Without a
// secret every request passes as an anonymous client.
func (r *Router) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.JWTSecret == "" {
			next.ServeHTTP(w, req)
			return
		}

		tokenString := bearerToken(req)
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		claims, err := parseToken(r.cfg.JWTSecret, tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(req.Context(), clientContextKey, &Client{ID: claims.Subject, Role: claims.Role})
		next.ServeHTTP(w, req.WithContext(ctx))
	})
}

// requireCareTeam must run after withAuth.
func (r *Router) requireCareTeam(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if r.cfg.JWTSecret == "" {
			next.ServeHTTP(w, req)
			return
		}
		c := getClient(req.Context())
		if c == nil || c.Role != RoleCareTeam {
			writeError(w, http.StatusForbidden, "care team access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}

func getClient(ctx context.Context) *Client {
	c, _ := ctx.Value(clientContextKey).(*Client)
	return c
}
