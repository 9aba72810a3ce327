package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/atmx/auction-engine/internal/model"
)

var bidder = model.Identity{AccountID: "alice", Role: model.RoleBidder}

func TestToken_RoundTrip(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	tok, err := iss.GenerateToken(bidder)
	require.NoError(t, err)

	id, err := iss.ParseToken(tok)
	require.NoError(t, err)
	require.Equal(t, bidder, id)
}

func TestToken_Rejections(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)

	_, err := iss.GenerateToken(model.Identity{AccountID: "x", Role: "ROOT"})
	require.ErrorIs(t, err, ErrInvalidRole)

	tok, err := iss.GenerateToken(bidder)
	require.NoError(t, err)

	_, err = NewIssuer("other", time.Hour).ParseToken(tok)
	require.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)

	expired := NewIssuer("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = expired.ParseToken(tok)
	require.ErrorIs(t, err, jwt.ErrTokenExpired)

	_, err = iss.ParseToken("not-a-token")
	require.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, err := iss.GenerateToken(bidder)
	require.NoError(t, err)

	var got model.Identity
	h := iss.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFrom(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + tok, http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"valid", "Bearer " + tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tt.want, rec.Code)
		})
	}
	require.Equal(t, bidder, got)
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(model.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = req.WithContext(WithIdentity(req.Context(), bidder))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Contains(t, rec.Body.String(), "WRONG_ROLE")

	req = req.WithContext(WithIdentity(req.Context(), model.Identity{AccountID: "root", Role: model.RoleAdmin}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentify(t *testing.T) {
	iss := NewIssuer("secret", time.Hour)
	tok, err := iss.GenerateToken(bidder)
	require.NoError(t, err)

	require.Nil(t, iss.Identify(httptest.NewRequest(http.MethodGet, "/ws", nil)))
	require.Nil(t, iss.Identify(httptest.NewRequest(http.MethodGet, "/ws?token=bad", nil)))

	id := iss.Identify(httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	require.NotNil(t, id)
	require.Equal(t, bidder, *id)
}
