package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-token-gate/internal/model"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestRefreshTokenRepository_Find(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)
		createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM refresh_token WHERE token = $1`)).
			WithArgs("tok").
			WillReturnRows(pgxmock.NewRows([]string{"token", "subject_id", "expiry", "bound_ip", "created_at"}).
				AddRow("tok", "google:1", int64(1700000000000), "10.0.0.1", createdAt))

		rec, err := repo.Find(ctx, "tok")
		require.NoError(t, err)
		assert.Equal(t, model.RefreshRecord{
			Token:     "tok",
			SubjectID: "google:1",
			Expiry:    1700000000000,
			BoundIP:   "10.0.0.1",
			CreatedAt: createdAt,
		}, rec)
	})

	t.Run("not found", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM refresh_token WHERE token = $1`)).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err := repo.Find(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrTokenNotFound)
	})

	t.Run("database error", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM refresh_token WHERE token = $1`)).
			WithArgs("tok").
			WillReturnError(errors.New("connection reset"))

		_, err := repo.Find(ctx, "tok")
		require.Error(t, err)
		assert.NotErrorIs(t, err, model.ErrTokenNotFound)
	})
}

func TestRefreshTokenRepository_Insert(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	rec := model.RefreshRecord{Token: "tok", SubjectID: "google:1", Expiry: 1700000000000, BoundIP: "10.0.0.1"}

	t.Run("inserted", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO refresh_token`)).
			WithArgs("tok", "google:1", int64(1700000000000), "10.0.0.1", pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.Insert(ctx, rec))
	})

	t.Run("duplicate", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO refresh_token`)).
			WithArgs("tok", "google:1", int64(1700000000000), "10.0.0.1", pgxmock.AnyArg()).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		assert.ErrorIs(t, repo.Insert(ctx, rec), model.ErrDuplicateToken)
	})
}

func TestRefreshTokenRepository_Delete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("deleted", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_token WHERE token = $1`)).
			WithArgs("tok").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, repo.Delete(ctx, "tok"))
	})

	t.Run("nothing deleted", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_token WHERE token = $1`)).
			WithArgs("tok").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, repo.Delete(ctx, "tok"), model.ErrTokenNotFound)
	})
}

func TestRefreshTokenRepository_DeleteAllForSubject(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	repo := NewRefreshTokenRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_token WHERE subject_id = $1`)).
		WithArgs("google:1").
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := repo.DeleteAllForSubject(context.Background(), "google:1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestRefreshTokenRepository_PruneExpired(t *testing.T) {
	t.Parallel()
	mock := newMockPool(t)
	repo := NewRefreshTokenRepository(mock)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM refresh_token WHERE expiry <= $1`)).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM rotated_refresh_token WHERE expires_at <= $1`)).
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))

	n, err := repo.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestRefreshTokenRepository_RotationMarkers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	digest := tokenDigest("tok")

	t.Run("mark stores digest only", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO rotated_refresh_token`)).
			WithArgs(digest, "google:1", pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, repo.MarkRotated(ctx, "tok", "google:1", time.Now().Add(time.Hour)))
	})

	t.Run("was rotated", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM rotated_refresh_token`)).
			WithArgs(digest, pgxmock.AnyArg()).
			WillReturnRows(pgxmock.NewRows([]string{"subject_id"}).AddRow("google:1"))

		subject, ok, err := repo.WasRotated(ctx, "tok")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "google:1", subject)
	})

	t.Run("never rotated", func(t *testing.T) {
		mock := newMockPool(t)
		repo := NewRefreshTokenRepository(mock)

		mock.ExpectQuery(regexp.QuoteMeta(`FROM rotated_refresh_token`)).
			WithArgs(digest, pgxmock.AnyArg()).
			WillReturnError(pgx.ErrNoRows)

		_, ok, err := repo.WasRotated(ctx, "tok")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTokenDigest(t *testing.T) {
	t.Parallel()

	assert.Len(t, tokenDigest("a"), 64)
	assert.Equal(t, tokenDigest("a"), tokenDigest("a"))
	assert.NotEqual(t, tokenDigest("a"), tokenDigest("b"))
	assert.NotContains(t, tokenDigest("secret-token"), "secret-token")
}
