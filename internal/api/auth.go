package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	errNoCredentials = errors.New("missing Authorization header")
	errBadScheme     = errors.New("authorization scheme must be Bearer")
	errEmptyToken    = errors.New("missing API key")
	errTokenMismatch = errors.New("invalid API key")
)

// bearerToken returns the token from an "Authorization: Bearer <token>"
// header, trimmed.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errNoCredentials
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errBadScheme
	}
	if token = strings.TrimSpace(token); token == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// checkKey compares a presented key against the configured one in
// constant time.
func checkKey(presented, configured string) error {
	if configured == "" || presented == "" {
		return errTokenMismatch
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) != 1 {
		return errTokenMismatch
	}
	return nil
}

// requireKey guards routes with the configured API key. With no key
// configured the routes are open; doctor flags that off loopback.
func (s *Server) requireKey(next http.Handler) http.Handler {
	if s.config.APIKey == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			err = checkKey(token, s.config.APIKey)
		}
		if err != nil {
			s.logger.Debug("api request rejected", "path", r.URL.Path, "error", err)
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}
