package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"go-token-gate/internal/event"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/model"
	"go-token-gate/internal/repository"
	"go-token-gate/internal/token"
)

const (
	testSecret     = "0123456789abcdef0123456789abcdef"
	testAccessTTL  = 600 * time.Second
	testRefreshTTL = 604800 * time.Second
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryUsers struct {
	mu    sync.Mutex
	users map[string]model.User
	err   error
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{users: map[string]model.User{}}
}

func (m *memoryUsers) FindBySubjectID(_ context.Context, subjectID string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	u, ok := m.users[subjectID]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (m *memoryUsers) Upsert(_ context.Context, subjectID string, name string, email string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return model.User{}, m.err
	}
	u, ok := m.users[subjectID]
	if !ok {
		u = model.User{ID: "id-" + subjectID, SubjectID: subjectID, Role: model.DefaultRole}
	}
	u.Name = name
	u.Email = email
	m.users[subjectID] = u
	return u, nil
}

func (m *memoryUsers) setRole(subjectID string, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[subjectID]
	u.SubjectID = subjectID
	u.Role = role
	m.users[subjectID] = u
}

type testEnv struct {
	clock    *testClock
	codec    *token.Codec
	redis    *miniredis.Miniredis
	ledger   *repository.RedisRefreshTokenRepository
	users    *memoryUsers
	bus      *event.InMemoryBus
	metrics  *metrics.Metrics
	rotation *RotationService
	auth     *Authenticator
	logout   *LogoutService
	login    *LoginService
}

func newTestEnv(t *testing.T, configure ...func(*RotationOptions)) *testEnv {
	t.Helper()

	// The Redis ledger derives key TTLs from the real clock, so the test
	// clock starts at the current time.
	clock := &testClock{now: time.Now().UTC().Truncate(time.Second)}
	codec, err := token.NewCodec(testSecret, token.WithClock(clock.Now))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ledger := repository.NewRedisRefreshTokenRepository(client)

	opts := RotationOptions{
		AccessTTL:      testAccessTTL,
		RefreshTTL:     testRefreshTTL,
		ReuseDetection: true,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range configure {
		fn(&opts)
	}

	users := newMemoryUsers()
	bus := event.NewBus()
	m := metrics.New()
	roles := NewRoleResolver(users)
	rotation := NewRotationService(codec, ledger, roles, bus, m, opts)

	return &testEnv{
		clock:    clock,
		codec:    codec,
		redis:    mr,
		ledger:   ledger,
		users:    users,
		bus:      bus,
		metrics:  m,
		rotation: rotation,
		auth:     NewAuthenticator(codec, rotation, roles, bus, m),
		logout:   NewLogoutService(codec, ledger, bus, m),
		login:    NewLoginService(users, rotation),
	}
}

func (e *testEnv) ledgerRecords() int {
	count := 0
	for _, key := range e.redis.Keys() {
		if strings.HasPrefix(key, "refresh:") {
			count++
		}
	}
	return count
}

func (e *testEnv) issue(t *testing.T, subjectID string, ip string) model.TokenPair {
	t.Helper()
	pair, err := e.rotation.IssueInitial(context.Background(), subjectID, "Alice", model.DefaultRole, ip)
	require.NoError(t, err)
	return pair
}
