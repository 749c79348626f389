package repository

import (
	"context"
	"sort"
	"sync"

	"session-auth/internal/model"
)

// MemoryUserRepository keeps users in process memory. It backs local
// development and tests; data is lost on restart.
type MemoryUserRepository struct {
	mu      sync.RWMutex
	byID    map[string]model.User
	byEmail map[string]string
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{
		byID:    map[string]model.User{},
		byEmail: map[string]string{},
	}
}

func (r *MemoryUserRepository) FindByID(_ context.Context, id string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *MemoryUserRepository) FindByEmail(_ context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return cloneUser(r.byID[id]), nil
}

func (r *MemoryUserRepository) Save(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEmail[u.Email]; exists {
		return model.ErrUserAlreadyExists
	}
	if _, exists := r.byID[u.ID]; exists {
		return model.ErrUserAlreadyExists
	}

	r.byID[u.ID] = cloneUser(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryUserRepository) Update(_ context.Context, u model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.byID[u.ID]
	if !ok {
		return model.ErrUserNotFound
	}
	if owner, taken := r.byEmail[u.Email]; taken && owner != u.ID {
		return model.ErrUserAlreadyExists
	}

	delete(r.byEmail, current.Email)
	r.byID[u.ID] = cloneUser(u)
	r.byEmail[u.Email] = u.ID
	return nil
}

func (r *MemoryUserRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.byID[id]
	if !ok {
		return model.ErrUserNotFound
	}
	delete(r.byID, id)
	delete(r.byEmail, u.Email)
	return nil
}

func (r *MemoryUserRepository) List(_ context.Context) ([]model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]model.User, 0, len(r.byID))
	for _, u := range r.byID {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users, nil
}

func (r *MemoryUserRepository) Ping(context.Context) error {
	return nil
}

func cloneUser(u model.User) model.User {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	u.Salt = append([]byte(nil), u.Salt...)
	return u
}

// MemoryTokenRepository keeps one refresh token per user id.
type MemoryTokenRepository struct {
	mu     sync.RWMutex
	tokens map[string]model.RefreshToken
}

func NewMemoryTokenRepository() *MemoryTokenRepository {
	return &MemoryTokenRepository{tokens: map[string]model.RefreshToken{}}
}

func (r *MemoryTokenRepository) FindByUserID(_ context.Context, userID string) (model.RefreshToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[userID]
	if !ok {
		return model.RefreshToken{}, model.ErrTokenNotFound
	}
	return t, nil
}

func (r *MemoryTokenRepository) Save(_ context.Context, t model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.UserID]; exists {
		return ErrTokenExists
	}
	r.tokens[t.UserID] = t
	return nil
}

func (r *MemoryTokenRepository) Update(_ context.Context, t model.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tokens[t.UserID]; !exists {
		return model.ErrTokenNotFound
	}
	r.tokens[t.UserID] = t
	return nil
}

func (r *MemoryTokenRepository) Delete(_ context.Context, userID string) error {
	r.mu.Lock()
	delete(r.tokens, userID)
	r.mu.Unlock()
	return nil
}

// Count reports how many users currently hold a refresh token.
func (r *MemoryTokenRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
