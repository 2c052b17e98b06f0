// SPDX-License-Identifier: Apache-2.0

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// sessionClaims is the payload of a JWT minted after a successful
// bearer-token exchange. It carries no identity beyond "possesses the
// configured control-plane secret" — the nanny process has no user
// model.
type sessionClaims struct {
	jwt.RegisteredClaims
}

// authenticator gates the mutating control endpoints behind a
// bearer-token-for-JWT exchange. The configured secret is bcrypt-hashed
// once at construction so the comparison at request time never touches
// the secret in the clear and runs in constant time.
type authenticator struct {
	secretHash []byte
	jwtSecret  []byte
	ttl        time.Duration
	enabled    bool
}

func newAuthenticator(secret, jwtSecret string, ttl time.Duration) (*authenticator, error) {
	if secret == "" {
		return &authenticator{enabled: false}, nil
	}
	if jwtSecret == "" {
		return nil, errors.New("api: jwt_secret is required when auth_secret is set")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &authenticator{secretHash: hash, jwtSecret: []byte(jwtSecret), ttl: ttl, enabled: true}, nil
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// exchangeHandler trades the configured control-plane secret for a
// short-lived session JWT.
func (a *authenticator) exchangeHandler(w http.ResponseWriter, r *http.Request) {
	if !a.enabled {
		writeError(w, http.StatusNotFound, "authentication is not configured")
		return
	}

	var req sessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if bcrypt.CompareHashAndPassword(a.secretHash, []byte(req.Token)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	now := time.Now()
	expiresAt := now.Add(a.ttl)
	claims := sessionClaims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "nanny",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.jwtSecret)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{SessionToken: signed, ExpiresAt: expiresAt})
}

// requireSession rejects requests without a valid session JWT. It is a
// no-op when authentication is disabled, matching the "read endpoints
// always open, mutating endpoints gated when configured" model.
func (a *authenticator) requireSession(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.enabled {
			next(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		claims := &sessionClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return a.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next(w, r)
	}
}
