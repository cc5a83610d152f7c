package orderflow

import (
	"context"
	"sync"
	"time"

	"github.com/sebmertens/broker-gateway/internal/entity"
	"github.com/sirupsen/logrus"
)

// TokenStore is the arena holding confirmation tokens between check and
// place. Transition must be atomic: compare the current state and swap in
// one indivisible step. That single primitive carries the whole single-use
// invariant.
type TokenStore interface {
	Save(ctx context.Context, token *entity.ConfirmationToken) error
	Get(ctx context.Context, id string) (*entity.ConfirmationToken, error)
	Transition(ctx context.Context, id string, from, to entity.TokenState) (bool, error)
}

// MemoryTokenStore keeps tokens in-process. The mutex is the one piece of
// locking this gateway needs; everything else is read-mostly.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens map[string]*entity.ConfirmationToken
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{
		tokens: make(map[string]*entity.ConfirmationToken),
	}
}

func (s *MemoryTokenStore) Save(_ context.Context, token *entity.ConfirmationToken) error {
	copied := *token

	s.mu.Lock()
	s.tokens[token.ID] = &copied
	s.mu.Unlock()

	return nil
}

func (s *MemoryTokenStore) Get(_ context.Context, id string) (*entity.ConfirmationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return nil, entity.ErrTokenNotFound
	}

	copied := *token
	return &copied, nil
}

func (s *MemoryTokenStore) Transition(_ context.Context, id string, from, to entity.TokenState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[id]
	if !ok {
		return false, entity.ErrTokenNotFound
	}
	if token.State != from {
		return false, nil
	}

	token.State = to
	return true, nil
}

// Sweep expires overdue CHECKED tokens and drops tokens that have been in a
// terminal state past the retention window. Returns how many were removed.
func (s *MemoryTokenStore) Sweep(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, token := range s.tokens {
		if token.State == entity.TokenStateChecked && now.After(token.ExpiresAt) {
			token.State = entity.TokenStateExpired
		}
		if token.State != entity.TokenStateChecked && now.After(token.ExpiresAt.Add(retention)) {
			delete(s.tokens, id)
			removed++
		}
	}

	return removed
}

// StartSweeper runs Sweep on a fixed interval until ctx is canceled.
func (s *MemoryTokenStore) StartSweeper(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := s.Sweep(time.Now().UTC(), retention); removed > 0 {
					logrus.Debugf("token sweeper removed %d tokens", removed)
				}
			}
		}
	}()
}
