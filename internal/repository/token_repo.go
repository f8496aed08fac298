package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"go-token-gate/internal/model"
)

// RefreshTokenRepository is the PostgreSQL rotation ledger.
type RefreshTokenRepository struct {
	db DBTX
}

func NewRefreshTokenRepository(db DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Find(ctx context.Context, token string) (model.RefreshRecord, error) {
	var rec model.RefreshRecord
	err := r.db.QueryRow(ctx,
		`SELECT token, subject_id, expiry, bound_ip, created_at
		 FROM refresh_token WHERE token = $1`, token).
		Scan(&rec.Token, &rec.SubjectID, &rec.Expiry, &rec.BoundIP, &rec.CreatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.RefreshRecord{}, model.ErrTokenNotFound
	}
	if err != nil {
		return model.RefreshRecord{}, fmt.Errorf("find refresh token: %w", err)
	}
	return rec, nil
}

func (r *RefreshTokenRepository) Insert(ctx context.Context, rec model.RefreshRecord) error {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO refresh_token (token, subject_id, expiry, bound_ip, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		rec.Token, rec.SubjectID, rec.Expiry, rec.BoundIP, createdAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return model.ErrDuplicateToken
		}
		return fmt.Errorf("insert refresh token: %w", err)
	}
	return nil
}

// Delete removes the record for token. It returns model.ErrTokenNotFound when
// no row was removed, which is how a losing concurrent rotation is detected.
func (r *RefreshTokenRepository) Delete(ctx context.Context, token string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_token WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrTokenNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) DeleteAllForSubject(ctx context.Context, subjectID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_token WHERE subject_id = $1`, subjectID)
	if err != nil {
		return 0, fmt.Errorf("delete refresh tokens for subject: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PruneExpired removes expired ledger rows and reuse markers.
func (r *RefreshTokenRepository) PruneExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()

	tokens, err := r.db.Exec(ctx, `DELETE FROM refresh_token WHERE expiry <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune expired refresh tokens: %w", err)
	}

	markers, err := r.db.Exec(ctx, `DELETE FROM rotated_refresh_token WHERE expires_at <= $1`, now)
	if err != nil {
		return tokens.RowsAffected(), fmt.Errorf("prune rotated token markers: %w", err)
	}

	return tokens.RowsAffected() + markers.RowsAffected(), nil
}

// MarkRotated records that token has been consumed so that a later
// presentation can be recognised as reuse.
func (r *RefreshTokenRepository) MarkRotated(ctx context.Context, token string, subjectID string, until time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO rotated_refresh_token (token_digest, subject_id, rotated_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (token_digest) DO NOTHING`,
		tokenDigest(token), subjectID, time.Now().UTC(), until.UTC())
	if err != nil {
		return fmt.Errorf("mark refresh token rotated: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) WasRotated(ctx context.Context, token string) (string, bool, error) {
	var subjectID string
	err := r.db.QueryRow(ctx,
		`SELECT subject_id FROM rotated_refresh_token
		 WHERE token_digest = $1 AND expires_at > $2`,
		tokenDigest(token), time.Now().UTC()).Scan(&subjectID)

	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("check rotated refresh token: %w", err)
	}
	return subjectID, true, nil
}
