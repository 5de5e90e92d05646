package auth

import (
	"sync"
	"time"
)

// revocationEntry stores metadata about a revoked session token.
type revocationEntry struct {
	ExpiresAt time.Time
	UserID    string
}

// userCutoff revokes every token of a user issued at or before At.
type userCutoff struct {
	At        time.Time
	ExpiresAt time.Time
}

// TokenRevocationStore tracks logged out session tokens in memory. Single
// tokens are keyed by their JTI; "log out everywhere" is a per-user cutoff on
// the issued-at claim. Entries are dropped once the tokens they cover would
// have expired anyway. Safe for concurrent use.
type TokenRevocationStore struct {
	mu      sync.RWMutex
	entries map[string]revocationEntry // JTI -> entry
	cutoffs map[string]userCutoff      // userID -> cutoff
	ttl     time.Duration
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewTokenRevocationStore creates a store for tokens that live at most ttl
// and starts a background goroutine that removes expired entries every 5
// minutes.
func NewTokenRevocationStore(ttl time.Duration) *TokenRevocationStore {
	s := &TokenRevocationStore{
		entries: make(map[string]revocationEntry),
		cutoffs: make(map[string]userCutoff),
		ttl:     ttl,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// Revoke adds a token's JTI to the revocation list. expiresAt is when the
// token would have expired on its own.
func (s *TokenRevocationStore) Revoke(jti, userID string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[jti] = revocationEntry{ExpiresAt: expiresAt, UserID: userID}
}

// RevokeUser revokes every token issued to userID up to now and returns the
// cutoff. Tokens issued within the same second as the cutoff are revoked too,
// since issued-at has second precision.
func (s *TokenRevocationStore) RevokeUser(userID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.cutoffs[userID] = userCutoff{At: now, ExpiresAt: now.Add(s.ttl)}
	return now
}

// IsRevoked reports whether the token described by claims has been revoked.
func (s *TokenRevocationStore) IsRevoked(claims *Claims) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if claims.ID != "" {
		if _, ok := s.entries[claims.ID]; ok {
			return true
		}
	}
	cut, ok := s.cutoffs[claims.Subject]
	if !ok {
		return false
	}
	if claims.IssuedAt == nil {
		return true
	}
	return !claims.IssuedAt.Time.After(cut.At)
}

// Count returns the number of individually revoked tokens.
func (s *TokenRevocationStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// RevocationInfo is a public representation of a revocation entry. JTI is
// empty for a per-user cutoff.
type RevocationInfo struct {
	JTI           string     `json:"jti,omitempty"`
	UserID        string     `json:"user_id,omitempty"`
	RevokedBefore *time.Time `json:"revoked_before,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
}

// Entries returns a snapshot of all current revocations.
func (s *TokenRevocationStore) Entries() []RevocationInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]RevocationInfo, 0, len(s.entries)+len(s.cutoffs))
	for jti, entry := range s.entries {
		result = append(result, RevocationInfo{
			JTI:       jti,
			UserID:    entry.UserID,
			ExpiresAt: entry.ExpiresAt,
		})
	}
	for userID, cut := range s.cutoffs {
		at := cut.At
		result = append(result, RevocationInfo{
			UserID:        userID,
			RevokedBefore: &at,
			ExpiresAt:     cut.ExpiresAt,
		})
	}
	return result
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *TokenRevocationStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *TokenRevocationStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

// cleanup removes entries whose tokens have expired.
func (s *TokenRevocationStore) cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, entry := range s.entries {
		if now.After(entry.ExpiresAt) {
			delete(s.entries, jti)
		}
	}
	for userID, cut := range s.cutoffs {
		if now.After(cut.ExpiresAt) {
			delete(s.cutoffs, userID)
		}
	}
}
