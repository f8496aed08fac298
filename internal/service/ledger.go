package service

import (
	"context"
	"time"

	"go-token-gate/internal/model"
)

// RefreshLedger is the rotation ledger. A record is present exactly while
// its refresh token is still redeemable.
type RefreshLedger interface {
	Find(ctx context.Context, token string) (model.RefreshRecord, error)
	Insert(ctx context.Context, rec model.RefreshRecord) error
	// Delete returns model.ErrTokenNotFound when nothing was removed.
	Delete(ctx context.Context, token string) error
	DeleteAllForSubject(ctx context.Context, subjectID string) (int64, error)
	// MarkRotated and WasRotated remember consumed tokens until they would
	// have expired, so that a replay can be told apart from a forgery.
	MarkRotated(ctx context.Context, token string, subjectID string, until time.Time) error
	WasRotated(ctx context.Context, token string) (string, bool, error)
}

type UserStore interface {
	FindBySubjectID(ctx context.Context, subjectID string) (model.User, error)
	Upsert(ctx context.Context, subjectID string, name string, email string) (model.User, error)
}
