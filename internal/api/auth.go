package api

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

// requireArbiterKey gates a handler behind the arbiter API key carried in
// X-API-Key. When no key hash is configured the gate is open, which is the
// local development mode.
func (s *APIServer) requireArbiterKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(s.arbiterKey) == 0 {
			next(w, r)
			return
		}

		key := r.Header.Get("X-API-Key")
		if key == "" {
			http.Error(w, `{"error":"missing API key"}`, http.StatusUnauthorized)
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.arbiterKey, []byte(key)); err != nil {
			http.Error(w, `{"error":"invalid API key"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
