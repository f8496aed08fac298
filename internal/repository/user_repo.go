package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"go-token-gate/internal/model"
)

type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindBySubjectID(ctx context.Context, subjectID string) (model.User, error) {
	var u model.User
	err := r.db.QueryRow(ctx,
		`SELECT id, subject_id, name, email, role, created_at, updated_at
		 FROM users WHERE subject_id = $1`, subjectID).
		Scan(&u.ID, &u.SubjectID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("find user by subject: %w", err)
	}
	return u, nil
}

// Upsert creates the user on first login with the default role. Returning
// users keep their role; only name and email are refreshed.
func (r *UserRepository) Upsert(ctx context.Context, subjectID string, name string, email string) (model.User, error) {
	now := time.Now().UTC()

	var u model.User
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (id, subject_id, name, email, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (subject_id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
		 RETURNING id, subject_id, name, email, role, created_at, updated_at`,
		uuid.NewString(), subjectID, strings.TrimSpace(name), strings.TrimSpace(email), model.DefaultRole, now).
		Scan(&u.ID, &u.SubjectID, &u.Name, &u.Email, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return model.User{}, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) UpdateRole(ctx context.Context, subjectID string, role string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE subject_id = $1`,
		subjectID, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}
