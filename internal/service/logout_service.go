package service

import (
	"context"
	"errors"
	"fmt"

	"go-token-gate/internal/event"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/model"
	"go-token-gate/internal/token"
)

type LogoutService struct {
	codec   *token.Codec
	ledger  RefreshLedger
	bus     event.Bus
	metrics *metrics.Metrics
}

func NewLogoutService(codec *token.Codec, ledger RefreshLedger, bus event.Bus, m *metrics.Metrics) *LogoutService {
	return &LogoutService{codec: codec, ledger: ledger, bus: bus, metrics: m}
}

// Logout removes the ledger record of refresh, ending the session. Access
// tokens already issued stay valid until they expire.
func (s *LogoutService) Logout(ctx context.Context, refresh string) (model.LogoutAck, error) {
	ack, err := s.logout(ctx, refresh)
	if err != nil {
		s.metrics.ObserveLogout("failure")
		return model.LogoutAck{}, err
	}

	s.metrics.ObserveLogout("success")
	if s.bus != nil {
		s.bus.Publish(event.New(event.TypeSessionLogout, event.AuthPayload{SubjectID: ack.SubjectID}))
	}
	return ack, nil
}

func (s *LogoutService) logout(ctx context.Context, refresh string) (model.LogoutAck, error) {
	if refresh == "" {
		return model.LogoutAck{}, model.ErrUnauthenticated
	}

	claims, err := s.codec.Verify(refresh)
	if err != nil {
		return model.LogoutAck{}, err
	}
	if claims.IsExpired(s.codec.Now()) {
		return model.LogoutAck{}, model.ErrTokenExpired
	}
	if claims.Category != token.Refresh {
		return model.LogoutAck{}, model.ErrCategoryMismatch
	}

	if _, err := s.ledger.Find(ctx, refresh); err != nil {
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.LogoutAck{}, model.ErrInvalidOrExpiredRefreshToken
		}
		return model.LogoutAck{}, fmt.Errorf("find refresh token: %w", err)
	}

	if err := s.ledger.Delete(ctx, refresh); err != nil {
		if errors.Is(err, model.ErrTokenNotFound) {
			return model.LogoutAck{}, model.ErrInvalidOrExpiredRefreshToken
		}
		return model.LogoutAck{}, fmt.Errorf("delete refresh token: %w", err)
	}

	return model.LogoutAck{SubjectID: claims.SubjectID, LoggedOut: true}, nil
}
