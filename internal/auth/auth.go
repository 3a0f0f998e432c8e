// Package auth guards the WMS endpoint with bearer tokens verified against a
// JWKS and an optional group allow list.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/utils"
)

type ClaimsWithGroups struct {
	jwt.RegisteredClaims
	Groups []string `json:"groups"`
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
	ErrForbidden    = errors.New("token does not grant access to this service")
)

type Authenticator struct {
	keyfunc       jwt.Keyfunc
	allowedGroups []string
	logger        *zap.Logger
	close         func()
}

// New verifies tokens with kf. When allowedGroups is not empty a token must
// carry at least one of them.
func New(kf jwt.Keyfunc, allowedGroups []string, logger *zap.Logger) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		keyfunc:       kf,
		allowedGroups: allowedGroups,
		logger:        logger,
		close:         func() {},
	}
}

// NewJWKS fetches the key set at jwksURL and keeps refreshing it in the
// background until Close is called.
func NewJWKS(jwksURL string, allowedGroups []string, logger *zap.Logger) (*Authenticator, error) {
	a := New(nil, allowedGroups, logger)
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			a.logger.Warn("could not refresh JWKS", zap.String("url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.keyfunc = jwks.Keyfunc
	a.close = jwks.EndBackground
	return a, nil
}

func (a *Authenticator) Close() {
	a.close()
}

// Authenticate validates the bearer token of r.
func (a *Authenticator) Authenticate(r *http.Request) (*ClaimsWithGroups, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}

	claims := &ClaimsWithGroups{}
	parsed, err := jwt.ParseWithClaims(strings.TrimSpace(token), claims, a.keyfunc)
	if err != nil || !parsed.Valid {
		a.logger.Debug("rejected token", zap.Error(err))
		return nil, ErrInvalidToken
	}

	if len(a.allowedGroups) == 0 {
		return claims, nil
	}
	for _, group := range claims.Groups {
		if utils.StringInSlice(group, a.allowedGroups) {
			return claims, nil
		}
	}
	return nil, ErrForbidden
}

// Middleware rejects unauthenticated requests with a JSON error.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Authenticate(r)
		switch {
		case errors.Is(err, ErrForbidden):
			WriteError(w, http.StatusForbidden, err.Error())
			return
		case err != nil:
			w.Header().Set("WWW-Authenticate", `Bearer realm="wms"`)
			WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}

		a.logger.Debug("authenticated request", zap.String("subject", claims.Subject), zap.Strings("groups", claims.Groups))
		next.ServeHTTP(w, r)
	})
}

func WriteError(w http.ResponseWriter, statusCode int, message string) {
	jsonResp, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		http.Error(w, message, statusCode)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(jsonResp)
}
