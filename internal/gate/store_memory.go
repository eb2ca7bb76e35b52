package gate

import (
	"context"
	"sync"

	id "consentgate/pkg/domain"
)

// InMemoryStore keeps the token table and idempotency index in process
// memory. Tokens persist as terminal records; nothing is ever deleted.
type InMemoryStore struct {
	mu         sync.RWMutex
	tokens     map[id.TokenID]*Token
	idempotent map[string]id.TokenID
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		tokens:     make(map[id.TokenID]*Token),
		idempotent: make(map[string]id.TokenID),
	}
}

func (s *InMemoryStore) Save(_ context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token.clone()
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, tokenID id.TokenID) (*Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, false, nil
	}
	return token.clone(), true, nil
}

func (s *InMemoryStore) Issued(_ context.Context) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	issued := []*Token{}
	for _, token := range s.tokens {
		if token.Status == StatusIssued {
			issued = append(issued, token.clone())
		}
	}
	return issued, nil
}

func (s *InMemoryStore) All(_ context.Context) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*Token, 0, len(s.tokens))
	for _, token := range s.tokens {
		all = append(all, token.clone())
	}
	return all, nil
}

func (s *InMemoryStore) BindIdempotency(_ context.Context, key string, tokenID id.TokenID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idempotent[key] = tokenID
	return nil
}

func (s *InMemoryStore) LookupIdempotency(_ context.Context, key string) (*Token, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tokenID, ok := s.idempotent[key]
	if !ok {
		return nil, false, nil
	}
	token, ok := s.tokens[tokenID]
	if !ok {
		return nil, false, nil
	}
	return token.clone(), true, nil
}
