package controlplane

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the bearer token payload this fabric expects: a subject
// identifying the caller plus the registered expiry/issued-at claims.
// golang-jwt/jwt/v5 is cited for bearer-token auth across several
// voice/AI gateway manifests in the example pack (no single repo carries
// a full usage file this fabric's auth.go could mirror line for line, so
// this is built directly from the library's documented API).
type Claims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

type authKey struct{}

// Authenticator validates bearer tokens against a shared signing secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator builds an Authenticator over an HMAC signing secret.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Subject returns the authenticated caller's subject from ctx, or "" if
// the request was unauthenticated.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(authKey{}).(string)
	return s
}

// Middleware requires a valid "Authorization: Bearer <token>" header,
// rejecting the request with 401 otherwise, and attaches the token's
// subject to the request context on success.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenString == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := a.parse(tokenString)
		if err != nil {
			http.Error(w, "invalid bearer token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), authKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid")
	}
	return claims, nil
}

// Issue mints a signed token for subject, valid until the caller-supplied
// expiry is reached. Used by tests to mint caller tokens without a
// separate identity service.
func (a *Authenticator) Issue(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
