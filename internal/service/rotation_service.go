package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go-token-gate/internal/event"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/model"
	"go-token-gate/internal/token"
)

type RotationOptions struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// ReuseDetection remembers rotated tokens so a replay is reported as
	// model.ErrTokenReuseDetected in addition to the usual rejection.
	ReuseDetection bool
	// RevokeOnReuse deletes every live refresh token of a subject whose
	// rotated token was replayed.
	RevokeOnReuse bool
	// Logger receives refresh rejections and reuse independently of the
	// event bus. Defaults to slog.Default().
	Logger *slog.Logger
}

// RotationService issues token pairs and exchanges refresh tokens for new
// pairs, enforcing single use through the ledger.
type RotationService struct {
	codec   *token.Codec
	ledger  RefreshLedger
	roles   *RoleResolver
	bus     event.Bus
	metrics *metrics.Metrics
	opts    RotationOptions
	logger  *slog.Logger
}

func NewRotationService(codec *token.Codec, ledger RefreshLedger, roles *RoleResolver, bus event.Bus, m *metrics.Metrics, opts RotationOptions) *RotationService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RotationService{
		codec:   codec,
		ledger:  ledger,
		roles:   roles,
		bus:     bus,
		metrics: m,
		opts:    opts,
		logger:  logger,
	}
}

func (s *RotationService) AccessTTL() time.Duration {
	return s.opts.AccessTTL
}

func (s *RotationService) RefreshTTL() time.Duration {
	return s.opts.RefreshTTL
}

// IssueInitial issues the first pair of a session and records the refresh
// token in the ledger.
func (s *RotationService) IssueInitial(ctx context.Context, subjectID string, name string, role string, ip string) (model.TokenPair, error) {
	pair, err := s.issuePair(ctx, subjectID, name, role, ip)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.publish(event.TypeTokenIssued, event.AuthPayload{SubjectID: subjectID, IP: ip})
	return pair, nil
}

// Rotate consumes oldRefresh and returns a fresh pair bound to ip. The caller
// has already verified oldRefresh and resolved role. Exactly one of several
// concurrent rotations of the same token succeeds.
func (s *RotationService) Rotate(ctx context.Context, oldRefresh string, subjectID string, name string, role string, ip string) (model.TokenPair, error) {
	rec, err := s.ledger.Find(ctx, oldRefresh)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.TokenPair{}, s.rejectUnknown(ctx, oldRefresh, subjectID, ip)
	}
	if err != nil {
		s.metrics.ObserveRotation("error")
		return model.TokenPair{}, fmt.Errorf("find refresh token: %w", err)
	}
	if rec.Expired(s.codec.Now()) {
		return model.TokenPair{}, s.reject(ctx, subjectID, ip, "ledger_expired", model.ErrInvalidOrExpiredRefreshToken)
	}

	if err := s.ledger.Delete(ctx, oldRefresh); err != nil {
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.TokenPair{}, s.reject(ctx, subjectID, ip, "lost_race", model.ErrInvalidOrExpiredRefreshToken)
		}
		s.metrics.ObserveRotation("error")
		return model.TokenPair{}, fmt.Errorf("delete refresh token: %w", err)
	}

	if s.opts.ReuseDetection {
		if err := s.ledger.MarkRotated(ctx, oldRefresh, subjectID, time.UnixMilli(rec.Expiry)); err != nil {
			s.logger.WarnContext(ctx, "failed to record rotated refresh token", "subject_id", subjectID, "error", err)
		}
	}

	// From here on the old token is gone; any failure leaves the client
	// without a redeemable refresh token.
	pair, err := s.issuePair(ctx, subjectID, name, role, ip)
	if err != nil {
		s.metrics.ObserveRotation("error")
		return model.TokenPair{}, err
	}

	s.metrics.ObserveRotation("success")
	s.publish(event.TypeTokenRotated, event.AuthPayload{SubjectID: subjectID, IP: ip})
	return pair, nil
}

// Reissue serves the explicit reissue endpoint: only a refresh token is
// presented, so it is verified here before rotation.
func (s *RotationService) Reissue(ctx context.Context, refresh string, ip string) (model.TokenPair, model.Identity, error) {
	if refresh == "" {
		return model.TokenPair{}, model.Identity{}, model.ErrUnauthenticated
	}

	claims, err := s.codec.Verify(refresh)
	if err != nil {
		return model.TokenPair{}, model.Identity{}, err
	}
	if claims.IsExpired(s.codec.Now()) {
		return model.TokenPair{}, model.Identity{}, model.ErrTokenExpired
	}
	if claims.Category != token.Refresh {
		return model.TokenPair{}, model.Identity{}, model.ErrCategoryMismatch
	}

	role := s.roles.Resolve(ctx, claims.SubjectID, claims.Role)
	pair, err := s.Rotate(ctx, refresh, claims.SubjectID, claims.Name, role, ip)
	if err != nil {
		return model.TokenPair{}, model.Identity{}, err
	}

	return pair, model.Identity{SubjectID: claims.SubjectID, Name: claims.Name, Role: role}, nil
}

func (s *RotationService) issuePair(ctx context.Context, subjectID string, name string, role string, ip string) (model.TokenPair, error) {
	accessToken, err := s.codec.Issue(token.Access, subjectID, name, role, ip, s.opts.AccessTTL)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := s.codec.Issue(token.Refresh, subjectID, name, role, ip, s.opts.RefreshTTL)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}

	now := s.codec.Now()
	rec := model.RefreshRecord{
		Token:     refreshToken,
		SubjectID: subjectID,
		Expiry:    now.Add(s.opts.RefreshTTL).UnixMilli(),
		BoundIP:   ip,
		CreatedAt: now.UTC(),
	}
	if err := s.ledger.Insert(ctx, rec); err != nil {
		return model.TokenPair{}, fmt.Errorf("record refresh token: %w", err)
	}

	return model.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// rejectUnknown handles a refresh token with no ledger record. If it was
// consumed earlier the presentation is reuse.
func (s *RotationService) rejectUnknown(ctx context.Context, oldRefresh string, subjectID string, ip string) error {
	if !s.opts.ReuseDetection {
		return s.reject(ctx, subjectID, ip, "not_found", model.ErrInvalidOrExpiredRefreshToken)
	}

	rotatedFor, reused, err := s.ledger.WasRotated(ctx, oldRefresh)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to check rotated refresh token", "subject_id", subjectID, "error", err)
	}
	if !reused {
		return s.reject(ctx, subjectID, ip, "not_found", model.ErrInvalidOrExpiredRefreshToken)
	}

	s.metrics.ObserveRotation("reuse")
	s.logger.WarnContext(ctx, "refresh token reuse detected",
		"subject_id", rotatedFor, "ip", ip, "revoke", s.opts.RevokeOnReuse)
	s.publish(event.TypeTokenReuseDetected, event.AuthPayload{SubjectID: rotatedFor, IP: ip, Reason: "TOKEN_REUSE_DETECTED"})

	if s.opts.RevokeOnReuse {
		revoked, err := s.ledger.DeleteAllForSubject(ctx, rotatedFor)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to revoke refresh tokens after reuse", "subject_id", rotatedFor, "error", err)
		} else {
			s.publish(event.TypeSubjectTokensRevoked, event.AuthPayload{SubjectID: rotatedFor, IP: ip, Count: revoked})
		}
	}

	return fmt.Errorf("%w: %w", model.ErrInvalidOrExpiredRefreshToken, model.ErrTokenReuseDetected)
}

func (s *RotationService) reject(ctx context.Context, subjectID string, ip string, result string, err error) error {
	s.metrics.ObserveRotation(result)
	s.logger.WarnContext(ctx, "refresh rejected",
		"subject_id", subjectID, "ip", ip, "result", result, "reason", ReasonCode(err))
	s.publish(event.TypeRefreshRejected, event.AuthPayload{SubjectID: subjectID, IP: ip, Reason: ReasonCode(err)})
	return err
}

func (s *RotationService) publish(t event.Type, payload event.AuthPayload) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.New(t, payload))
}
