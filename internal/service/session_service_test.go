package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"session-auth/internal/model"
	"session-auth/internal/repository"
	"session-auth/internal/security"
)

var errBackend = errors.New("connection reset by peer")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingTokenStore wraps the memory store, counts writes and can be told
// to fail a given method.
type countingTokenStore struct {
	*repository.MemoryTokenRepository

	saves   atomic.Int32
	updates atomic.Int32
	deletes atomic.Int32

	mu     sync.Mutex
	failOn map[string]error
}

func newCountingTokenStore() *countingTokenStore {
	return &countingTokenStore{
		MemoryTokenRepository: repository.NewMemoryTokenRepository(),
		failOn:                map[string]error{},
	}
}

func (s *countingTokenStore) fail(method string, err error) {
	s.mu.Lock()
	s.failOn[method] = err
	s.mu.Unlock()
}

func (s *countingTokenStore) injected(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn[method]
}

func (s *countingTokenStore) writes() int32 {
	return s.saves.Load() + s.updates.Load() + s.deletes.Load()
}

func (s *countingTokenStore) FindByUserID(ctx context.Context, userID string) (model.RefreshToken, error) {
	if err := s.injected("FindByUserID"); err != nil {
		return model.RefreshToken{}, err
	}
	return s.MemoryTokenRepository.FindByUserID(ctx, userID)
}

func (s *countingTokenStore) Save(ctx context.Context, t model.RefreshToken) error {
	s.saves.Add(1)
	if err := s.injected("Save"); err != nil {
		return err
	}
	return s.MemoryTokenRepository.Save(ctx, t)
}

func (s *countingTokenStore) Update(ctx context.Context, t model.RefreshToken) error {
	s.updates.Add(1)
	if err := s.injected("Update"); err != nil {
		return err
	}
	return s.MemoryTokenRepository.Update(ctx, t)
}

func (s *countingTokenStore) Delete(ctx context.Context, userID string) error {
	s.deletes.Add(1)
	if err := s.injected("Delete"); err != nil {
		return err
	}
	return s.MemoryTokenRepository.Delete(ctx, userID)
}

type failingUserStore struct {
	*repository.MemoryUserRepository
	failOn map[string]error
}

func (s *failingUserStore) FindByEmail(ctx context.Context, email string) (model.User, error) {
	if err := s.failOn["FindByEmail"]; err != nil {
		return model.User{}, err
	}
	return s.MemoryUserRepository.FindByEmail(ctx, email)
}

func (s *failingUserStore) FindByID(ctx context.Context, id string) (model.User, error) {
	if err := s.failOn["FindByID"]; err != nil {
		return model.User{}, err
	}
	return s.MemoryUserRepository.FindByID(ctx, id)
}

func (s *failingUserStore) Save(ctx context.Context, u model.User) error {
	if err := s.failOn["Save"]; err != nil {
		return err
	}
	return s.MemoryUserRepository.Save(ctx, u)
}

func (s *failingUserStore) List(ctx context.Context) ([]model.User, error) {
	if err := s.failOn["List"]; err != nil {
		return nil, err
	}
	return s.MemoryUserRepository.List(ctx)
}

type sessionFixture struct {
	svc    *SessionService
	users  *failingUserStore
	tokens *countingTokenStore
	clock  *fakeClock
	keys   *security.KeyPair
	codec  *security.TokenCodec
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	hasher, err := security.NewPasswordHasher(security.HasherOptions{Time: 1, MemoryKiB: 1024, Threads: 1})
	require.NoError(t, err)
	codec, err := security.NewTokenCodec(time.Minute, "session-auth-test")
	require.NoError(t, err)
	codec = codec.WithClock(clock.Now)
	keys, err := security.GenerateKeyPair(security.AlgorithmEdDSA)
	require.NoError(t, err)

	users := &failingUserStore{MemoryUserRepository: repository.NewMemoryUserRepository(), failOn: map[string]error{}}
	tokens := newCountingTokenStore()

	svc, err := NewSessionService(users, tokens, hasher, codec, keys, security.NewRefreshGenerator(0), SessionOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    clock.Now,
	})
	require.NoError(t, err)

	return &sessionFixture{svc: svc, users: users, tokens: tokens, clock: clock, keys: keys, codec: codec}
}

func (f *sessionFixture) register(t *testing.T, email string, password string) model.PublicUser {
	t.Helper()
	u, err := f.svc.Register(context.Background(), model.RegisterRequest{Email: email, Password: password})
	require.NoError(t, err)
	return u
}

func TestNewSessionServiceRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewSessionService(nil, newCountingTokenStore(), nil, nil, nil, nil, SessionOptions{})
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)

	u, err := f.svc.Register(ctx, model.RegisterRequest{
		Email: "a@x.io", Password: "p4ssword!", FirstName: " Ada ", LastName: "Lovelace",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "a@x.io", u.Email)
	assert.Equal(t, "Ada", u.FirstName)

	stored, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Salt, security.DefaultSaltLength)
	assert.NotEqual(t, []byte("p4ssword!"), stored.PasswordHash)
	assert.Zero(t, f.tokens.writes(), "register must not open a session")

	_, err = f.svc.Register(ctx, model.RegisterRequest{Email: "a@x.io", Password: "another-pass"})
	assert.ErrorIs(t, err, model.ErrUserAlreadyExists)
}

func TestRegisterEmailIsCaseSensitive(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)

	f.register(t, "a@x.io", "p4ssword!")
	f.register(t, "A@x.io", "p4ssword!")
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)

	tests := []struct {
		name string
		req  model.RegisterRequest
	}{
		{"missing email", model.RegisterRequest{Password: "p4ssword!"}},
		{"bad email", model.RegisterRequest{Email: "not-an-email", Password: "p4ssword!"}},
		{"display name", model.RegisterRequest{Email: "Ada <a@x.io>", Password: "p4ssword!"}},
		{"empty password", model.RegisterRequest{Email: "a@x.io"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(ctx, tt.req)
			assert.ErrorIs(t, err, model.ErrInvalidInput)
		})
	}

	users, err := f.users.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegisterAcceptsShortPasswordsByDefault(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)

	f.register(t, "a@x.io", "p")
	_, err := f.svc.Login(context.Background(), "a@x.io", "p")
	assert.NoError(t, err)
}

func TestRegisterMinPasswordLengthOption(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)

	svc, err := NewSessionService(f.users, f.tokens, f.svc.hasher, f.codec, f.keys, f.svc.refresh, SessionOptions{
		MinPasswordLength: 8,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	_, err = svc.Register(ctx, model.RegisterRequest{Email: "a@x.io", Password: "short"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
	_, err = svc.Register(ctx, model.RegisterRequest{Email: "a@x.io", Password: "long-enough"})
	assert.NoError(t, err)
}

// Register, two logins and two refreshes against one user, in order.
func TestSessionWalkthrough(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)

	u, err := f.svc.Register(ctx, model.RegisterRequest{Email: "a@x.com", Password: "pw1"})
	require.NoError(t, err)
	_, err = f.svc.Register(ctx, model.RegisterRequest{Email: "a@x.com", Password: "pw2"})
	require.ErrorIs(t, err, model.ErrUserAlreadyExists)

	_, err = f.tokens.FindByUserID(ctx, u.ID)
	require.ErrorIs(t, err, model.ErrTokenNotFound)
	first, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, first.RefreshToken, stored.Token)

	second, err := f.svc.Login(ctx, "a@x.com", "pw1")
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	stored, err = f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.RefreshToken, stored.Token)
	assert.Equal(t, 1, f.tokens.Count())

	f.clock.Advance(2 * time.Minute)
	third, err := f.svc.Refresh(ctx, second.AccessToken, second.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, third.UserID)
	stored, err = f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, third.RefreshToken, stored.Token)

	_, err = f.svc.Refresh(ctx, second.AccessToken, "wrong-token")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	stored, err = f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, third.RefreshToken, stored.Token)
	assert.Equal(t, 1, f.tokens.Count())
}

func TestRegisterStoreFailure(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)
	f.users.failOn["FindByEmail"] = errBackend

	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Email: "a@x.io", Password: "p4ssword!"})
	assert.ErrorIs(t, err, model.ErrStoreFailure)
	assert.ErrorIs(t, err, errBackend)
}

func TestRegisterSaveConflictIsReportedAsExists(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)
	f.users.failOn["Save"] = model.ErrUserAlreadyExists

	_, err := f.svc.Register(context.Background(), model.RegisterRequest{Email: "a@x.io", Password: "p4ssword!"})
	assert.ErrorIs(t, err, model.ErrUserAlreadyExists)
	assert.NotErrorIs(t, err, model.ErrStoreFailure)
}

// A fresh login yields a usable access token and one stored record.
func TestLoginAndAuthenticate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")

	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.EqualValues(t, 60, pair.ExpiresIn)

	claims, err := f.svc.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, u.ID, pair.UserID)

	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.Token)
	assert.EqualValues(t, 1, f.tokens.saves.Load())
}

func TestLoginErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	f.register(t, "a@x.io", "p4ssword!")

	_, err := f.svc.Login(ctx, "nobody@x.io", "p4ssword!")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	_, err = f.svc.Login(ctx, "a@x.io", "wrong-password")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, "A@x.io", "p4ssword!")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	assert.Zero(t, f.tokens.writes())
}

// Logging in twice keeps one record holding the newest value.
func TestLoginReplacesRefreshToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")

	first, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	second, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)

	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, second.RefreshToken, stored.Token)
	assert.Equal(t, 1, f.tokens.Count())
	assert.EqualValues(t, 1, f.tokens.saves.Load())
	assert.EqualValues(t, 1, f.tokens.updates.Load())
}

// A record saved by another instance between lookup and save is overwritten.
func TestLoginFallsBackToUpdateWhenSaveRaces(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	require.NoError(t, f.tokens.MemoryTokenRepository.Save(ctx, model.RefreshToken{Token: "stale", UserID: u.ID}))
	f.tokens.fail("FindByUserID", model.ErrTokenNotFound)

	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokens.saves.Load())
	assert.EqualValues(t, 1, f.tokens.updates.Load())

	stored, err := f.tokens.MemoryTokenRepository.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.Token)
}

func TestLoginTokenStoreFailure(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)
	f.register(t, "a@x.io", "p4ssword!")
	f.tokens.fail("FindByUserID", errBackend)

	_, err := f.svc.Login(context.Background(), "a@x.io", "p4ssword!")
	assert.ErrorIs(t, err, model.ErrStoreFailure)
	assert.Zero(t, f.tokens.writes())
}

// A still-valid access token blocks rotation.
func TestRefreshWithValidAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	writes := f.tokens.writes()

	_, err = f.svc.Refresh(ctx, pair.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenStillValid)
	assert.Equal(t, writes, f.tokens.writes())

	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.Token)
}

func TestRefreshAfterExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Authenticate(ctx, pair.AccessToken)
	require.ErrorIs(t, err, model.ErrTokenExpired)
	updates := f.tokens.updates.Load()

	next, err := f.svc.Refresh(ctx, pair.AccessToken, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.AccessToken, next.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	assert.Equal(t, updates+1, f.tokens.updates.Load())

	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, next.RefreshToken, stored.Token)

	claims, err := f.svc.Authenticate(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)

	// The old refresh token is spent.
	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Refresh(ctx, next.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestRefreshWithMismatchedToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)
	writes := f.tokens.writes()

	for _, candidate := range []string{"forged", "", pair.RefreshToken + "x"} {
		_, err = f.svc.Refresh(ctx, pair.AccessToken, candidate)
		assert.ErrorIs(t, err, model.ErrUnauthorized)
	}
	assert.Equal(t, writes, f.tokens.writes())

	stored, err := f.tokens.FindByUserID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, pair.RefreshToken, stored.Token)
}

// Access tokens that never verified are rejected outright.
func TestRefreshWithGarbageAccessToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)

	foreign, err := security.GenerateKeyPair(security.AlgorithmEdDSA)
	require.NoError(t, err)
	forged, err := f.codec.Issue(foreign, "someone")
	require.NoError(t, err)

	for _, at := range []string{"", "garbage", forged} {
		_, err = f.svc.Refresh(ctx, at, pair.RefreshToken)
		assert.ErrorIs(t, err, model.ErrUnauthorized)
	}
}

func TestRefreshWithoutSessionRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")

	at, err := f.codec.Issue(f.keys, u.ID)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.svc.Refresh(ctx, at, "anything")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Zero(t, f.tokens.writes())
}

func TestRefreshForDeletedUser(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)

	at, err := f.codec.Issue(f.keys, "ghost")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	_, err = f.svc.Refresh(ctx, at, "anything")
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestRefreshStoreFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	for _, method := range []string{"FindByUserID", "Update"} {
		method := method
		t.Run(method, func(t *testing.T) {
			t.Parallel()
			f := newSessionFixture(t)
			f.register(t, "a@x.io", "p4ssword!")
			pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
			require.NoError(t, err)
			f.clock.Advance(2 * time.Minute)
			f.tokens.fail(method, errBackend)

			_, err = f.svc.Refresh(ctx, pair.AccessToken, pair.RefreshToken)
			assert.ErrorIs(t, err, model.ErrStoreFailure)
			assert.ErrorIs(t, err, errBackend)
		})
	}
}

func TestConcurrentRefreshRotatesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	f.clock.Advance(2 * time.Minute)

	const workers = 8
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Refresh(ctx, pair.AccessToken, pair.RefreshToken); err == nil {
				ok.Add(1)
			} else {
				assert.ErrorIs(t, err, model.ErrUnauthorized)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, ok.Load())
	assert.Zero(t, f.svc.locks.size())
}

func TestLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)

	userID, err := f.svc.Logout(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)

	_, err = f.tokens.FindByUserID(ctx, u.ID)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)

	f.clock.Advance(2 * time.Minute)
	_, err = f.svc.Refresh(ctx, pair.AccessToken, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestLogoutAcceptsExpiredToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	userID, err := f.svc.Logout(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, userID)
	assert.Zero(t, f.tokens.Count())
}

func TestLogoutRejectsInvalidToken(t *testing.T) {
	t.Parallel()
	f := newSessionFixture(t)

	_, err := f.svc.Logout(context.Background(), "garbage")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
	assert.Zero(t, f.tokens.deletes.Load())
}

func TestProtectedOperationsRequireValidToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	firstName := "Grace"

	calls := map[string]func(at string) error{
		"list": func(at string) error { _, err := f.svc.ListUsers(ctx, at); return err },
		"get":  func(at string) error { _, err := f.svc.GetUser(ctx, at, u.ID); return err },
		"me":   func(at string) error { _, err := f.svc.Me(ctx, at); return err },
		"update": func(at string) error {
			_, err := f.svc.UpdateUser(ctx, at, u.ID, model.ProfileUpdate{FirstName: &firstName})
			return err
		},
		"delete": func(at string) error { return f.svc.DeleteUser(ctx, at, u.ID) },
	}

	for name, call := range calls {
		assert.ErrorIs(t, call(""), model.ErrUnauthorized, name)
		assert.ErrorIs(t, call("garbage"), model.ErrUnauthorized, name)
	}

	f.clock.Advance(2 * time.Minute)
	for name, call := range calls {
		assert.ErrorIs(t, call(pair.AccessToken), model.ErrTokenExpired, name)
	}

	_, err = f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
}

func TestUserOperations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	a := f.register(t, "a@x.io", "p4ssword!")
	b := f.register(t, "b@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	at := pair.AccessToken

	list, err := f.svc.ListUsers(ctx, at)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a@x.io", list[0].Email)

	got, err := f.svc.GetUser(ctx, at, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "b@x.io", got.Email)

	me, err := f.svc.Me(ctx, at)
	require.NoError(t, err)
	assert.Equal(t, a.ID, me.ID)

	_, err = f.svc.GetUser(ctx, at, "missing")
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	taken := "b@x.io"
	_, err = f.svc.UpdateUser(ctx, at, a.ID, model.ProfileUpdate{Email: &taken})
	assert.ErrorIs(t, err, model.ErrUserAlreadyExists)

	_, err = f.svc.UpdateUser(ctx, at, "missing", model.ProfileUpdate{})
	assert.ErrorIs(t, err, model.ErrUserNotFound)

	bad := "nope"
	_, err = f.svc.UpdateUser(ctx, at, a.ID, model.ProfileUpdate{Email: &bad})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestUpdateUserPasswordChangesSalt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	u := f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	before, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)

	newPassword := "n3w-password"
	f.clock.Advance(time.Second)
	updated, err := f.svc.UpdateUser(ctx, pair.AccessToken, u.ID, model.ProfileUpdate{Password: &newPassword})
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt))

	after, err := f.users.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEqual(t, before.Salt, after.Salt)

	_, err = f.svc.Login(ctx, "a@x.io", "p4ssword!")
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "a@x.io", newPassword)
	assert.NoError(t, err)
}

func TestDeleteUserRemovesSession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	a := f.register(t, "a@x.io", "p4ssword!")
	f.register(t, "b@x.io", "p4ssword!")
	_, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	pair, err := f.svc.Login(ctx, "b@x.io", "p4ssword!")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteUser(ctx, pair.AccessToken, a.ID))

	_, err = f.users.FindByID(ctx, a.ID)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
	_, err = f.tokens.FindByUserID(ctx, a.ID)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)

	assert.ErrorIs(t, f.svc.DeleteUser(ctx, pair.AccessToken, a.ID), model.ErrUserNotFound)
}

func TestListUsersStoreFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newSessionFixture(t)
	f.register(t, "a@x.io", "p4ssword!")
	pair, err := f.svc.Login(ctx, "a@x.io", "p4ssword!")
	require.NoError(t, err)
	f.users.failOn["List"] = errBackend

	_, err = f.svc.ListUsers(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, model.ErrStoreFailure)
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("user-1")
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			unlock()
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxActive.Load())
	assert.Zero(t, km.size())
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	t.Parallel()

	km := newKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
