package dcn

import "sync"

// TokenStore is the single source of truth for the bearer credentials of one
// client. Tokens are opaque strings; the store performs no parsing and no
// expiry tracking. Expiry is server-enforced and surfaces as a 401 on the
// next call.
//
// Reads vastly outnumber writes: every request reads the access token at
// call time, while writes happen only on login and refresh.
type TokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// Set replaces both tokens unconditionally. A login response always replaces
// both fields.
func (s *TokenStore) Set(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	s.refresh = refresh
}

// Rotate replaces the access token and, only when the server supplied a new
// one, the refresh token. An empty refresh keeps the existing refresh token
// usable for further refreshes.
func (s *TokenStore) Rotate(access, refresh string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = access
	if refresh != "" {
		s.refresh = refresh
	}
}

// Clear drops both tokens, returning the client to the unauthenticated
// state. The server is not notified.
func (s *TokenStore) Clear() {
	s.Set("", "")
}

// Access returns the current access token, or "" if never set. Callers
// attach it as "Authorization: Bearer <token>" only when non-empty.
func (s *TokenStore) Access() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access
}

// Refresh returns the current refresh token, or "" if the server never
// issued one.
func (s *TokenStore) Refresh() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

// Authenticated reports whether an access token is held.
func (s *TokenStore) Authenticated() bool {
	return s.Access() != ""
}
