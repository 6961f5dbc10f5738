// Package confirm gates irreversible-at-scale tool calls behind
// single-use, short-lived confirmation tokens. The store is in-memory:
// losing pending confirmations on restart only means the user is asked
// again, never that an action executes unconfirmed.
package confirm

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultTTL is how long an issued token stays valid.
const DefaultTTL = 5 * time.Minute

// MaxSummaryItems caps the affected-item summary shown to the user.
const MaxSummaryItems = 10

// ErrTokenInvalid covers expired, already-consumed and owner-mismatched
// tokens. One error for all three, so a caller learns nothing beyond
// "ask again".
var ErrTokenInvalid = errors.New("confirm: token is invalid or expired")

// Item is one affected task in a confirmation summary.
type Item struct {
	ID    uint   `json:"id"`
	Title string `json:"title"`
}

// Pending is an issued, not-yet-consumed confirmation.
type Pending struct {
	Token      string
	Owner      string
	Action     string
	Items      []Item // display summary, capped at MaxSummaryItems
	TotalItems int    // full affected count, may exceed len(Items)
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// Store holds pending confirmations behind one mutex.
type Store struct {
	mu      sync.Mutex
	ttl     time.Duration
	pending map[string]Pending
	now     func() time.Time
}

// NewStore creates a Store. ttl <= 0 means DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		ttl:     ttl,
		pending: make(map[string]Pending),
		now:     time.Now,
	}
}

// Issue mints a token bound to owner for the given action. The item
// summary is capped at MaxSummaryItems; total preserves the real count.
func (s *Store) Issue(owner, action string, items []Item) (Pending, error) {
	if owner == "" {
		return Pending{}, fmt.Errorf("confirm: owner is required")
	}
	if action == "" {
		return Pending{}, fmt.Errorf("confirm: action is required")
	}

	token, err := newToken()
	if err != nil {
		return Pending{}, err
	}

	total := len(items)
	if len(items) > MaxSummaryItems {
		items = items[:MaxSummaryItems]
	}

	now := s.now()
	p := Pending{
		Token:      token,
		Owner:      owner,
		Action:     action,
		Items:      items,
		TotalItems: total,
		IssuedAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}

	s.mu.Lock()
	s.pending[token] = p
	s.mu.Unlock()

	return p, nil
}

// Consume atomically validates and invalidates a token. A token consumes
// exactly once; expired or foreign tokens fail with ErrTokenInvalid and
// are removed.
func (s *Store) Consume(token, owner string) (Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[token]
	if !ok {
		return Pending{}, ErrTokenInvalid
	}
	delete(s.pending, token)

	if p.Owner != owner {
		return Pending{}, ErrTokenInvalid
	}
	if s.now().After(p.ExpiresAt) {
		return Pending{}, ErrTokenInvalid
	}
	return p, nil
}

// Sweep drops expired tokens and returns how many were removed. Run
// periodically; Consume also rejects expired tokens on its own.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, p := range s.pending {
		if now.After(p.ExpiresAt) {
			delete(s.pending, token)
			removed++
		}
	}
	return removed
}

// PendingCount returns the number of outstanding tokens.
func (s *Store) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// newToken returns a cryptographically unguessable URL-safe token.
func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("confirm: mint token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
