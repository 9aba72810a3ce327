// Package auth turns HS256 bearer tokens into the Identity the core trusts.
//
// The engine never authenticates anyone itself: it receives an opaque
// (account, role) pair from this layer and checks roles per operation.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/atmx/auction-engine/internal/model"
)

var (
	ErrMissingToken = errors.New("auth: missing bearer token")
	ErrInvalidRole  = errors.New("auth: invalid role claim")
)

// Claims are the JWT claims issued to a caller.
type Claims struct {
	AccountID string     `json:"account_id"`
	Role      model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates an issuer. ttl bounds the lifetime of generated tokens.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken issues a token for id.
func (i *Issuer) GenerateToken(id model.Identity) (string, error) {
	if !validRole(id.Role) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, id.Role)
	}
	now := i.now()
	claims := Claims{
		AccountID: id.AccountID,
		Role:      id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AccountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ParseToken verifies tokenStr and returns the identity it carries.
func (i *Issuer) ParseToken(tokenStr string) (model.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return model.Identity{}, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AccountID == "" {
		return model.Identity{}, jwt.ErrTokenInvalidClaims
	}
	if !validRole(claims.Role) {
		return model.Identity{}, fmt.Errorf("%w: %q", ErrInvalidRole, claims.Role)
	}
	return model.Identity{AccountID: claims.AccountID, Role: claims.Role}, nil
}

func validRole(r model.Role) bool {
	switch r {
	case model.RoleBidder, model.RoleSeller, model.RoleAdmin:
		return true
	}
	return false
}

type ctxKey struct{}

// WithIdentity returns a context carrying id.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the identity stored by Authenticate.
func IdentityFrom(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(model.Identity)
	return id, ok
}

func bearer(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// Authenticate rejects requests without a valid bearer token and stores the
// caller's identity in the request context.
func (i *Issuer) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok, err := bearer(r)
		if err != nil {
			unauthorized(w, err)
			return
		}
		id, err := i.ParseToken(tok)
		if err != nil {
			unauthorized(w, errors.New("invalid token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// RequireRole lets through only callers holding one of roles. It must run
// after Authenticate.
func RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFrom(r.Context())
			if !ok {
				unauthorized(w, ErrMissingToken)
				return
			}
			for _, role := range roles {
				if id.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "role "+string(id.Role)+" is not allowed", "WRONG_ROLE")
		})
	}
}

// Identify resolves an optional identity for WebSocket upgrades, from the
// bearer header or a ?token= query parameter. Anonymous callers get nil.
func (i *Issuer) Identify(r *http.Request) *model.Identity {
	tok, err := bearer(r)
	if err != nil {
		tok = r.URL.Query().Get("token")
	}
	if tok == "" {
		return nil
	}
	id, err := i.ParseToken(tok)
	if err != nil {
		return nil
	}
	return &id
}

func unauthorized(w http.ResponseWriter, err error) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, err.Error(), "UNAUTHENTICATED")
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": code})
}
