package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"nickchat/internal/model"
)

// HistoryPageSize caps a single history fetch regardless of the requested
// limit.
const HistoryPageSize = 50

var (
	ErrNicknameTaken = errors.New("nickname already registered")
	ErrMissingField  = errors.New("missing required field")
)

// Store is the session store contract: user and message records keyed by
// UUID and nickname. Reads report absence with a bool, never an error; writes
// complete before returning and enforce the nickname uniqueness invariant.
type Store interface {
	FindUser(ctx context.Context, id string) (model.User, bool, error)
	FindUserByNickname(ctx context.Context, nickname string) (model.User, bool, error)
	CreateUser() model.User
	SaveUser(ctx context.Context, u model.User) error

	FindMessage(ctx context.Context, id string) (model.Message, bool, error)
	MessagesBefore(ctx context.Context, before int64, limit int) ([]model.Message, error)
	CreateMessage() model.Message
	SaveMessage(ctx context.Context, m model.Message) error

	Close() error
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > HistoryPageSize {
		return HistoryPageSize
	}
	return limit
}

// Memory is the default in-process store.
type Memory struct {
	mu sync.RWMutex

	usersByID      map[string]model.User
	userIDByNick   map[string]string
	messagesByID   map[string]model.Message
	messageHistory []string // message ids in insertion order
}

func NewMemory() *Memory {
	return &Memory{
		usersByID:    make(map[string]model.User),
		userIDByNick: make(map[string]string),
		messagesByID: make(map[string]model.Message),
	}
}

func (s *Memory) FindUser(_ context.Context, id string) (model.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.usersByID[id]
	return u, ok, nil
}

func (s *Memory) FindUserByNickname(_ context.Context, nickname string) (model.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.userIDByNick[nickname]
	if !ok {
		return model.User{}, false, nil
	}
	u, ok := s.usersByID[id]
	return u, ok, nil
}

func (s *Memory) CreateUser() model.User { return model.NewUser() }

func (s *Memory) SaveUser(_ context.Context, u model.User) error {
	if u.UUID == "" || u.Nickname == "" {
		return ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, ok := s.userIDByNick[u.Nickname]; ok && holder != u.UUID {
		return ErrNicknameTaken
	}
	if prev, ok := s.usersByID[u.UUID]; ok && prev.Nickname != u.Nickname {
		delete(s.userIDByNick, prev.Nickname)
	}

	u.UpdatedAt = time.Now().UnixMilli()
	s.usersByID[u.UUID] = u
	s.userIDByNick[u.Nickname] = u.UUID
	return nil
}

func (s *Memory) FindMessage(_ context.Context, id string) (model.Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.messagesByID[id]
	return m, ok, nil
}

func (s *Memory) MessagesBefore(_ context.Context, before int64, limit int) ([]model.Message, error) {
	limit = clampLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]model.Message, 0, limit)
	for _, id := range s.messageHistory {
		m := s.messagesByID[id]
		if m.CreatedAt < before {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt > result[j].CreatedAt })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Memory) CreateMessage() model.Message { return model.NewMessage() }

func (s *Memory) SaveMessage(_ context.Context, m model.Message) error {
	if m.UUID == "" {
		return ErrMissingField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messagesByID[m.UUID]; !ok {
		s.messageHistory = append(s.messageHistory, m.UUID)
	}
	m.UpdatedAt = time.Now().UnixMilli()
	s.messagesByID[m.UUID] = m
	return nil
}

func (s *Memory) Close() error { return nil }
