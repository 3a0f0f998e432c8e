package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func hmacKeyfunc(*jwt.Token) (interface{}, error) {
	return secret, nil
}

func sign(t *testing.T, groups []string, expires time.Time) string {
	t.Helper()

	claims := ClaimsWithGroups{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(expires),
		},
		Groups: groups,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	future := time.Now().Add(time.Hour)
	tests := []struct {
		name    string
		header  string
		groups  []string
		wantErr error
	}{
		{name: "valid token", header: "Bearer " + sign(t, []string{"gis"}, future)},
		{name: "scheme is case insensitive", header: "bearer " + sign(t, nil, future)},
		{name: "missing header", header: "", wantErr: ErrMissingToken},
		{name: "basic auth", header: "Basic dXNlcjpwYXNz", wantErr: ErrMissingToken},
		{name: "garbage token", header: "Bearer abc.def.ghi", wantErr: ErrInvalidToken},
		{name: "expired token", header: "Bearer " + sign(t, nil, time.Now().Add(-time.Hour)), wantErr: ErrInvalidToken},
		{name: "allowed group", header: "Bearer " + sign(t, []string{"staff", "gis"}, future), groups: []string{"gis"}},
		{name: "forbidden group", header: "Bearer " + sign(t, []string{"staff"}, future), groups: []string{"gis"}, wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodGet, "/wms", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			claims, err := New(hmacKeyfunc, tt.groups, nil).Authenticate(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "alice", claims.Subject)
		})
	}
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	a := New(hmacKeyfunc, []string{"gis"}, nil)
	handler := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/wms", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, ErrMissingToken.Error(), body["message"])

	r := httptest.NewRequest(http.MethodGet, "/wms", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, []string{"other"}, time.Now().Add(time.Hour)))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	r = httptest.NewRequest(http.MethodGet, "/wms", nil)
	r.Header.Set("Authorization", "Bearer "+sign(t, []string{"gis"}, time.Now().Add(time.Hour)))
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, r)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestNewJWKSUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewJWKS(srv.URL, nil, nil)
	assert.Error(t, err)
}
