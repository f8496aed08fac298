package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-token-gate/internal/event"
	"go-token-gate/internal/model"
	"go-token-gate/internal/token"
)

func TestRotationService_IssueInitial(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	events, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	pair := env.issue(t, "google:42", "10.0.0.5")

	access, err := env.codec.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, token.Access, access.Category)
	assert.Equal(t, "10.0.0.5", access.BoundIP)
	assert.Equal(t, env.clock.Now().Add(testAccessTTL), access.ExpiresAt.UTC())

	refresh, err := env.codec.Verify(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, token.Refresh, refresh.Category)

	rec, err := env.ledger.Find(context.Background(), pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "google:42", rec.SubjectID)
	assert.Equal(t, "10.0.0.5", rec.BoundIP)
	assert.Equal(t, env.clock.Now().Add(testRefreshTTL).UnixMilli(), rec.Expiry)

	e := <-events
	assert.Equal(t, event.TypeTokenIssued, e.Type)
	assert.Equal(t, "google:42", e.Payload.SubjectID)
}

func TestRotationService_RotateConsumesExactlyOneRecord(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.issue(t, "google:42", "10.0.0.5")

	pair, err := env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	require.NoError(t, err)
	assert.NotEqual(t, old.RefreshToken, pair.RefreshToken)
	assert.NotEqual(t, old.AccessToken, pair.AccessToken)

	_, err = env.ledger.Find(ctx, old.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
	_, err = env.ledger.Find(ctx, pair.RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, env.ledgerRecords())
}

func TestRotationService_SecondRotateIsRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.issue(t, "google:42", "10.0.0.5")

	_, err := env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	require.NoError(t, err)

	_, err = env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	assert.ErrorIs(t, err, model.ErrInvalidOrExpiredRefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenReuseDetected)
	assert.Equal(t, "TOKEN_REUSE_DETECTED", ReasonCode(err))
}

func TestRotationService_ReuseWithoutDetection(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *RotationOptions) { o.ReuseDetection = false })
	ctx := context.Background()
	old := env.issue(t, "google:42", "10.0.0.5")

	_, err := env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	require.NoError(t, err)

	_, err = env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	assert.ErrorIs(t, err, model.ErrInvalidOrExpiredRefreshToken)
	assert.NotErrorIs(t, err, model.ErrTokenReuseDetected)
}

func TestRotationService_RevokeOnReuse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(o *RotationOptions) { o.RevokeOnReuse = true })
	ctx := context.Background()
	events, unsubscribe := env.bus.Subscribe()
	defer unsubscribe()

	stolen := env.issue(t, "google:42", "10.0.0.5")
	current, err := env.rotation.Rotate(ctx, stolen.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	require.NoError(t, err)
	other := env.issue(t, "google:42", "10.0.0.9")

	_, err = env.rotation.Rotate(ctx, stolen.RefreshToken, "google:42", "Alice", "USER", "203.0.113.7")
	require.ErrorIs(t, err, model.ErrTokenReuseDetected)

	_, err = env.ledger.Find(ctx, current.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)
	_, err = env.ledger.Find(ctx, other.RefreshToken)
	assert.ErrorIs(t, err, model.ErrTokenNotFound)

	var types []event.Type
	for len(events) > 0 {
		types = append(types, (<-events).Type)
	}
	assert.Contains(t, types, event.TypeTokenReuseDetected)
	assert.Contains(t, types, event.TypeSubjectTokensRevoked)
}

// A refresh token that was never recorded is rejected and leaves the ledger
// untouched.
func TestRotationService_UnknownTokenRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	forged, err := env.codec.Issue(token.Refresh, "google:42", "Alice", "USER", "10.0.0.5", testRefreshTTL)
	require.NoError(t, err)

	_, err = env.rotation.Rotate(context.Background(), forged, "google:42", "Alice", "USER", "10.0.0.5")
	assert.ErrorIs(t, err, model.ErrInvalidOrExpiredRefreshToken)
	assert.NotErrorIs(t, err, model.ErrTokenReuseDetected)
	assert.Zero(t, env.ledgerRecords())
}

// Rejections are logged directly, so they survive a bus that drops events.
func TestRotationService_RejectionsAreLogged(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	env := newTestEnv(t, func(o *RotationOptions) {
		o.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	})
	ctx := context.Background()

	forged, err := env.codec.Issue(token.Refresh, "google:7", "Bob", "USER", "10.0.0.7", testRefreshTTL)
	require.NoError(t, err)
	_, err = env.rotation.Rotate(ctx, forged, "google:7", "Bob", "USER", "10.0.0.7")
	require.Error(t, err)

	old := env.issue(t, "google:42", "10.0.0.5")
	_, err = env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
	require.NoError(t, err)
	_, err = env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "203.0.113.7")
	require.ErrorIs(t, err, model.ErrTokenReuseDetected)

	var lines []map[string]any
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)

	assert.Equal(t, "refresh rejected", lines[0]["msg"])
	assert.Equal(t, "WARN", lines[0]["level"])
	assert.Equal(t, "google:7", lines[0]["subject_id"])
	assert.Equal(t, "not_found", lines[0]["result"])
	assert.Equal(t, "INVALID_REFRESH_TOKEN", lines[0]["reason"])

	assert.Equal(t, "refresh token reuse detected", lines[1]["msg"])
	assert.Equal(t, "google:42", lines[1]["subject_id"])
	assert.Equal(t, "203.0.113.7", lines[1]["ip"])
	assert.NotContains(t, buf.String(), old.RefreshToken)
}

// Rotation binds the new pair to the requesting address without comparing
// it to the old binding; only later requests from elsewhere are rejected.
func TestRotationService_RotateFromNewAddress(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()
	old := env.issue(t, "google:42", "10.0.0.5")

	pair, err := env.rotation.Rotate(ctx, old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.6")
	require.NoError(t, err)

	ip, err := env.codec.BoundIP(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.6", ip)

	decision := env.auth.Authenticate(ctx, model.Credentials{Access: pair.AccessToken}, "10.0.0.6")
	assert.Equal(t, OutcomeAuthenticated, decision.Outcome)

	decision = env.auth.Authenticate(ctx, model.Credentials{Access: pair.AccessToken}, "10.0.0.5")
	assert.Equal(t, OutcomeRejected, decision.Outcome)
	assert.ErrorIs(t, decision.Reason, model.ErrOriginMismatch)
}

func TestRotationService_ConcurrentRotationHasOneWinner(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	old := env.issue(t, "google:42", "10.0.0.5")

	const workers = 16
	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.rotation.Rotate(context.Background(), old.RefreshToken, "google:42", "Alice", "USER", "10.0.0.5")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrInvalidOrExpiredRefreshToken):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(workers-1), rejected.Load())
	assert.Equal(t, 1, env.ledgerRecords())
}

func TestRotationService_Reissue(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("rotates and resolves current role", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.issue(t, "google:42", "10.0.0.5")
		env.users.setRole("google:42", "ADMIN")

		pair, identity, err := env.rotation.Reissue(ctx, old.RefreshToken, "10.0.0.5")
		require.NoError(t, err)
		assert.Equal(t, "ADMIN", identity.Role)

		role, err := env.codec.Role(pair.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "ADMIN", role)
	})

	t.Run("falls back to token role for unknown subject", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.issue(t, "google:42", "10.0.0.5")

		_, identity, err := env.rotation.Reissue(ctx, old.RefreshToken, "10.0.0.5")
		require.NoError(t, err)
		assert.Equal(t, model.DefaultRole, identity.Role)
	})

	t.Run("rejects access token", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.issue(t, "google:42", "10.0.0.5")

		_, _, err := env.rotation.Reissue(ctx, old.AccessToken, "10.0.0.5")
		assert.ErrorIs(t, err, model.ErrCategoryMismatch)
	})

	t.Run("rejects expired refresh token", func(t *testing.T) {
		env := newTestEnv(t)
		old := env.issue(t, "google:42", "10.0.0.5")
		env.clock.Advance(testRefreshTTL + time.Second)

		_, _, err := env.rotation.Reissue(ctx, old.RefreshToken, "10.0.0.5")
		assert.ErrorIs(t, err, model.ErrTokenExpired)
	})

	t.Run("rejects garbage and empty", func(t *testing.T) {
		env := newTestEnv(t)

		_, _, err := env.rotation.Reissue(ctx, "garbage", "10.0.0.5")
		assert.ErrorIs(t, err, model.ErrDecodeFailure)

		_, _, err = env.rotation.Reissue(ctx, "", "10.0.0.5")
		assert.ErrorIs(t, err, model.ErrUnauthenticated)
	})
}

func TestRoleResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	users := newMemoryUsers()
	users.setRole("google:1", "ADMIN")
	resolver := NewRoleResolver(users)

	assert.Equal(t, "ADMIN", resolver.Resolve(ctx, "google:1", "USER"))
	assert.Equal(t, "USER", resolver.Resolve(ctx, "google:2", "USER"))

	users.err = errors.New("database unavailable")
	assert.Equal(t, "USER", resolver.Resolve(ctx, "google:1", "USER"))

	var nilResolver *RoleResolver
	assert.Equal(t, "USER", nilResolver.Resolve(ctx, "google:1", "USER"))
}
