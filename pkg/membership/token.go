package membership

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// joinToken is a credential new replicas present when asking the leader to
// AddVoter them into the Raft group.
type joinToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// tokenManager tracks outstanding join tokens. Every replica has one, but
// only the leader issues tokens (see Registry.GenerateJoinToken).
type tokenManager struct {
	mu     sync.RWMutex
	tokens map[string]joinToken
}

func newTokenManager() *tokenManager {
	return &tokenManager{tokens: make(map[string]joinToken)}
}

func (tm *tokenManager) generate(ttl time.Duration) (joinToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return joinToken{}, fmt.Errorf("membership: generate token: %w", err)
	}

	tok := joinToken{
		Token:     hex.EncodeToString(buf),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	tm.mu.Lock()
	tm.tokens[tok.Token] = tok
	tm.mu.Unlock()
	return tok, nil
}

func (tm *tokenManager) validate(token string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	tok, ok := tm.tokens[token]
	if !ok {
		return false
	}
	return time.Now().Before(tok.ExpiresAt)
}
