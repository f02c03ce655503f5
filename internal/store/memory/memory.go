// Package memory is the in-process UserStore used by tests and single
// node dev setups. It enforces the same uniqueness rules as the pg
// adapter: login, email, and the sso_mapping_id metadata value.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/avoinelab/ssobridge/internal/store"
	"github.com/google/uuid"
)

type Store struct {
	mu    sync.RWMutex
	users map[string]*store.User
	meta  map[string]map[string]string // userID -> key -> value
}

func New() *Store {
	return &Store{
		users: make(map[string]*store.User),
		meta:  make(map[string]map[string]string),
	}
}

func (s *Store) CreateUser(_ context.Context, nu *store.NewUser) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Login == nu.Login {
			return nil, fmt.Errorf("%w: login %q", store.ErrDuplicate, nu.Login)
		}
		if u.Email == nu.Email {
			return nil, fmt.Errorf("%w: email %q", store.ErrDuplicate, nu.Email)
		}
	}
	if mapping := nu.Meta[store.MetaMappingID]; mapping != "" {
		for id, meta := range s.meta {
			if meta[store.MetaMappingID] == mapping {
				return nil, fmt.Errorf("%w: mapping id %q (user %s)", store.ErrDuplicate, mapping, id)
			}
		}
	}

	u := &store.User{
		ID:          uuid.NewString(),
		Login:       nu.Login,
		Email:       nu.Email,
		FirstName:   nu.FirstName,
		LastName:    nu.LastName,
		DisplayName: nu.DisplayName,
	}
	s.users[u.ID] = u

	meta := make(map[string]string, len(nu.Meta))
	for k, v := range nu.Meta {
		meta[k] = v
	}
	s.meta[u.ID] = meta

	out := *u
	return &out, nil
}

func (s *Store) GetUser(_ context.Context, id string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := *u
	return &out, nil
}

func (s *Store) GetUserByLogin(_ context.Context, login string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Login == login && login != "" {
			out := *u
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetUserByMeta(_ context.Context, key, value string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id, meta := range s.meta {
		if meta[key] == value && value != "" {
			out := *s.users[id]
			return &out, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateUser(_ context.Context, id string, upd store.UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Email != nil {
		u.Email = *upd.Email
	}
	if upd.FirstName != nil {
		u.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		u.LastName = *upd.LastName
	}
	if upd.DisplayName != nil {
		u.DisplayName = *upd.DisplayName
	}
	return nil
}

func (s *Store) SetMeta(_ context.Context, userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return store.ErrNotFound
	}
	if s.meta[userID] == nil {
		s.meta[userID] = make(map[string]string)
	}
	s.meta[userID][key] = value
	return nil
}

func (s *Store) GetMeta(_ context.Context, userID, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.meta[userID][key], nil
}
