package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"session-auth/internal/logger"
	"session-auth/internal/model"
	"session-auth/internal/repository"
	"session-auth/internal/security"
)

// DefaultMinPasswordLength only rejects empty passwords. Stricter policies
// are opt-in through SessionOptions.MinPasswordLength.
const DefaultMinPasswordLength = 1

// UserStore persists user records. Lookups report model.ErrUserNotFound
// and Save/Update report model.ErrUserAlreadyExists on an email clash.
type UserStore interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Save(ctx context.Context, user model.User) error
	Update(ctx context.Context, user model.User) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]model.User, error)
}

// TokenStore holds at most one refresh token per user. FindByUserID and
// Update report model.ErrTokenNotFound when no record exists.
type TokenStore interface {
	FindByUserID(ctx context.Context, userID string) (model.RefreshToken, error)
	Save(ctx context.Context, token model.RefreshToken) error
	Update(ctx context.Context, token model.RefreshToken) error
	Delete(ctx context.Context, userID string) error
}

type SessionOptions struct {
	MinPasswordLength int
	Logger            *slog.Logger
	Now               func() time.Time
}

// SessionService issues, verifies and rotates session tokens on top of the
// user and token stores.
type SessionService struct {
	users   UserStore
	tokens  TokenStore
	hasher  *security.PasswordHasher
	codec   *security.TokenCodec
	keys    *security.KeyPair
	refresh *security.RefreshGenerator

	locks             *keyedMutex
	log               *slog.Logger
	now               func() time.Time
	minPasswordLength int
}

func NewSessionService(
	users UserStore,
	tokens TokenStore,
	hasher *security.PasswordHasher,
	codec *security.TokenCodec,
	keys *security.KeyPair,
	refresh *security.RefreshGenerator,
	opts SessionOptions,
) (*SessionService, error) {
	switch {
	case users == nil:
		return nil, errors.New("user store is required")
	case tokens == nil:
		return nil, errors.New("token store is required")
	case hasher == nil:
		return nil, errors.New("password hasher is required")
	case codec == nil:
		return nil, errors.New("token codec is required")
	case keys == nil:
		return nil, errors.New("signing key pair is required")
	case refresh == nil:
		return nil, errors.New("refresh token generator is required")
	}

	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = DefaultMinPasswordLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &SessionService{
		users:             users,
		tokens:            tokens,
		hasher:            hasher,
		codec:             codec,
		keys:              keys,
		refresh:           refresh,
		locks:             newKeyedMutex(),
		log:               opts.Logger.With("component", "session"),
		now:               opts.Now,
		minPasswordLength: opts.MinPasswordLength,
	}, nil
}

// Register creates a user with a fresh salt. It issues no tokens.
func (s *SessionService) Register(ctx context.Context, req model.RegisterRequest) (model.PublicUser, error) {
	if err := validateEmail(req.Email); err != nil {
		return model.PublicUser{}, err
	}
	if err := s.validatePassword(req.Password); err != nil {
		return model.PublicUser{}, err
	}

	_, err := s.users.FindByEmail(ctx, req.Email)
	switch {
	case err == nil:
		return model.PublicUser{}, model.ErrUserAlreadyExists
	case !errors.Is(err, model.ErrUserNotFound):
		return model.PublicUser{}, s.storeFailure("find user by email", err)
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return model.PublicUser{}, fmt.Errorf("register: %w", err)
	}

	now := s.now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		PasswordHash: s.hasher.Hash(req.Password, salt),
		Salt:         salt,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Save(ctx, user); err != nil {
		if errors.Is(err, model.ErrUserAlreadyExists) {
			return model.PublicUser{}, model.ErrUserAlreadyExists
		}
		return model.PublicUser{}, s.storeFailure("save user", err)
	}

	s.log.InfoContext(ctx, "user registered", "user_id", user.ID, "email", logger.MaskEmail(user.Email))
	return user.Public(), nil
}

// Login checks the credentials and leaves exactly one refresh record for
// the user, overwriting any previous one.
func (s *SessionService) Login(ctx context.Context, email string, password string) (model.TokenPair, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.TokenPair{}, model.ErrUserNotFound
		}
		return model.TokenPair{}, s.storeFailure("find user by email", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash, user.Salt) {
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	unlock := s.locks.Lock(user.ID)
	defer unlock()

	pair, err := s.issuePair(user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	record := model.RefreshToken{Token: pair.RefreshToken, UserID: user.ID, UpdatedAt: s.now().UTC()}
	if err := s.storeRefreshToken(ctx, record); err != nil {
		return model.TokenPair{}, err
	}

	s.log.InfoContext(ctx, "session opened", "user_id", user.ID)
	return pair, nil
}

func (s *SessionService) storeRefreshToken(ctx context.Context, record model.RefreshToken) error {
	_, err := s.tokens.FindByUserID(ctx, record.UserID)
	switch {
	case err == nil:
		if err := s.tokens.Update(ctx, record); err != nil {
			return s.storeFailure("update refresh token", err)
		}
		return nil
	case errors.Is(err, model.ErrTokenNotFound):
	default:
		return s.storeFailure("find refresh token", err)
	}

	err = s.tokens.Save(ctx, record)
	if errors.Is(err, repository.ErrTokenExists) {
		// Another instance saved first; ours is the newer value.
		err = s.tokens.Update(ctx, record)
	}
	if err != nil {
		return s.storeFailure("save refresh token", err)
	}
	return nil
}

// Refresh rotates the session once the access token has expired. A token
// that still verifies yields model.ErrTokenStillValid and nothing changes.
func (s *SessionService) Refresh(ctx context.Context, accessToken string, refreshToken string) (model.TokenPair, error) {
	claims, err := s.codec.Verify(s.keys, accessToken)
	if err == nil {
		return model.TokenPair{}, model.ErrTokenStillValid
	}
	if !errors.Is(err, model.ErrTokenExpired) {
		return model.TokenPair{}, model.ErrUnauthorized
	}

	unlock := s.locks.Lock(claims.UserID)
	defer unlock()

	if _, err := s.users.FindByID(ctx, claims.UserID); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.TokenPair{}, model.ErrUserNotFound
		}
		return model.TokenPair{}, s.storeFailure("find user by id", err)
	}

	stored, err := s.tokens.FindByUserID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.TokenPair{}, model.ErrUnauthorized
		}
		return model.TokenPair{}, s.storeFailure("find refresh token", err)
	}

	if refreshToken == "" || subtle.ConstantTimeCompare([]byte(stored.Token), []byte(refreshToken)) != 1 {
		s.log.WarnContext(ctx, "refresh token mismatch", "user_id", claims.UserID)
		return model.TokenPair{}, model.ErrUnauthorized
	}

	pair, err := s.issuePair(claims.UserID)
	if err != nil {
		return model.TokenPair{}, err
	}

	record := model.RefreshToken{Token: pair.RefreshToken, UserID: claims.UserID, UpdatedAt: s.now().UTC()}
	if err := s.tokens.Update(ctx, record); err != nil {
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.TokenPair{}, model.ErrUnauthorized
		}
		return model.TokenPair{}, s.storeFailure("update refresh token", err)
	}

	s.log.InfoContext(ctx, "session refreshed", "user_id", claims.UserID)
	return pair, nil
}

// Logout deletes the caller's refresh record. An expired access token is
// accepted as long as its signature verifies. It returns the user id.
func (s *SessionService) Logout(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.codec.Verify(s.keys, accessToken)
	if err != nil && !errors.Is(err, model.ErrTokenExpired) {
		return "", model.ErrUnauthorized
	}

	unlock := s.locks.Lock(claims.UserID)
	defer unlock()

	if err := s.tokens.Delete(ctx, claims.UserID); err != nil {
		return "", s.storeFailure("delete refresh token", err)
	}

	s.log.InfoContext(ctx, "session closed", "user_id", claims.UserID)
	return claims.UserID, nil
}

// Authenticate verifies an access token for a protected operation.
// Missing or invalid tokens give model.ErrUnauthorized; stale ones give
// model.ErrTokenExpired.
func (s *SessionService) Authenticate(_ context.Context, accessToken string) (*model.AuthClaims, error) {
	if accessToken == "" {
		return nil, model.ErrUnauthorized
	}

	claims, err := s.codec.Verify(s.keys, accessToken)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, model.ErrTokenExpired):
		return nil, model.ErrTokenExpired
	default:
		return nil, model.ErrUnauthorized
	}
}

func (s *SessionService) ListUsers(ctx context.Context, accessToken string) ([]model.PublicUser, error) {
	if _, err := s.Authenticate(ctx, accessToken); err != nil {
		return nil, err
	}

	users, err := s.users.List(ctx)
	if err != nil {
		return nil, s.storeFailure("list users", err)
	}

	out := make([]model.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, u.Public())
	}
	return out, nil
}

func (s *SessionService) GetUser(ctx context.Context, accessToken string, id string) (model.PublicUser, error) {
	if _, err := s.Authenticate(ctx, accessToken); err != nil {
		return model.PublicUser{}, err
	}
	return s.findUser(ctx, id)
}

// Me returns the profile of the access token's subject.
func (s *SessionService) Me(ctx context.Context, accessToken string) (model.PublicUser, error) {
	claims, err := s.Authenticate(ctx, accessToken)
	if err != nil {
		return model.PublicUser{}, err
	}
	return s.findUser(ctx, claims.UserID)
}

func (s *SessionService) findUser(ctx context.Context, id string) (model.PublicUser, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.PublicUser{}, model.ErrUserNotFound
		}
		return model.PublicUser{}, s.storeFailure("find user by id", err)
	}
	return user.Public(), nil
}

// UpdateUser applies the non-nil fields of update. A new password gets a
// new salt.
func (s *SessionService) UpdateUser(ctx context.Context, accessToken string, id string, update model.ProfileUpdate) (model.PublicUser, error) {
	if _, err := s.Authenticate(ctx, accessToken); err != nil {
		return model.PublicUser{}, err
	}

	if update.Email != nil {
		if err := validateEmail(*update.Email); err != nil {
			return model.PublicUser{}, err
		}
	}
	if update.Password != nil {
		if err := s.validatePassword(*update.Password); err != nil {
			return model.PublicUser{}, err
		}
	}

	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.PublicUser{}, model.ErrUserNotFound
		}
		return model.PublicUser{}, s.storeFailure("find user by id", err)
	}

	if update.Email != nil {
		user.Email = *update.Email
	}
	if update.FirstName != nil {
		user.FirstName = strings.TrimSpace(*update.FirstName)
	}
	if update.LastName != nil {
		user.LastName = strings.TrimSpace(*update.LastName)
	}
	if update.Password != nil {
		salt, err := s.hasher.GenerateSalt()
		if err != nil {
			return model.PublicUser{}, fmt.Errorf("update user: %w", err)
		}
		user.Salt = salt
		user.PasswordHash = s.hasher.Hash(*update.Password, salt)
	}
	user.UpdatedAt = s.now().UTC()

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, model.ErrUserNotFound) || errors.Is(err, model.ErrUserAlreadyExists) {
			return model.PublicUser{}, err
		}
		return model.PublicUser{}, s.storeFailure("update user", err)
	}

	s.log.InfoContext(ctx, "user updated", "user_id", user.ID, "password_changed", update.Password != nil)
	return user.Public(), nil
}

// DeleteUser removes the user together with its refresh record.
func (s *SessionService) DeleteUser(ctx context.Context, accessToken string, id string) error {
	if _, err := s.Authenticate(ctx, accessToken); err != nil {
		return err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	if err := s.users.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.ErrUserNotFound
		}
		return s.storeFailure("delete user", err)
	}
	if err := s.tokens.Delete(ctx, id); err != nil {
		return s.storeFailure("delete refresh token", err)
	}

	s.log.InfoContext(ctx, "user deleted", "user_id", id)
	return nil
}

// Ping reports whether the user store is reachable, when it supports it.
func (s *SessionService) Ping(ctx context.Context) error {
	p, ok := s.users.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", model.ErrStoreFailure, err)
	}
	return nil
}

func (s *SessionService) issuePair(userID string) (model.TokenPair, error) {
	access, err := s.codec.Issue(s.keys, userID)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.refresh.Generate()
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.codec.TTL().Seconds()),
		UserID:       userID,
	}, nil
}

func (s *SessionService) storeFailure(op string, err error) error {
	s.log.Error("store operation failed", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreFailure, err)
}

func validateEmail(email string) error {
	if strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: email is required", model.ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("%w: email is not a valid address", model.ErrInvalidInput)
	}
	return nil
}

func (s *SessionService) validatePassword(password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", model.ErrInvalidInput)
	}
	if len(password) < s.minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", model.ErrInvalidInput, s.minPasswordLength)
	}
	return nil
}
