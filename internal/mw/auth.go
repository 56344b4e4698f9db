package mw

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type subjectKeyType string

const subjectKey subjectKeyType = "sub"

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// Authenticator validates HS256 bearer tokens minted with a shared
// secret (see cmd/token). The subject claim identifies the caller.
type Authenticator struct {
	Secret []byte
	Leeway time.Duration // clock skew tolerated on exp/iat
}

func (a Authenticator) ValidateBearer(r *http.Request) (string, error) {
	authz := r.Header.Get("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		return "", errMissingToken
	}
	return a.validate(strings.TrimSpace(strings.TrimPrefix(authz, "Bearer ")))
}

func (a Authenticator) validate(tokStr string) (string, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.Leeway),
	)
	tok, err := parser.ParseWithClaims(tokStr, claims, func(*jwt.Token) (any, error) {
		return a.Secret, nil
	})
	if err != nil || !tok.Valid {
		return "", errInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", errInvalidToken
	}
	return sub, nil
}

func WithSubject(next http.Handler, sub string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), subjectKey, sub)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	return v, ok
}
