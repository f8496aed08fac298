package service

import (
	"context"

	"go-token-gate/internal/event"
	"go-token-gate/internal/metrics"
	"go-token-gate/internal/model"
	"go-token-gate/internal/token"
)

type Outcome int

const (
	OutcomeRejected Outcome = iota
	OutcomeAuthenticated
	OutcomeRotated
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAuthenticated:
		return "authenticated"
	case OutcomeRotated:
		return "rotated"
	default:
		return "rejected"
	}
}

// Decision is the result of authenticating one request. Tokens is set only
// for OutcomeRotated and must be written back to the client.
type Decision struct {
	Outcome          Outcome
	Identity         model.Identity
	Tokens           model.TokenPair
	Reason           error
	ClearCredentials bool
}

// Authenticator decides, per request, whether presented credentials
// authenticate a subject. It has no transport dependencies.
type Authenticator struct {
	codec    *token.Codec
	rotation *RotationService
	roles    *RoleResolver
	bus      event.Bus
	metrics  *metrics.Metrics
}

func NewAuthenticator(codec *token.Codec, rotation *RotationService, roles *RoleResolver, bus event.Bus, m *metrics.Metrics) *Authenticator {
	return &Authenticator{
		codec:    codec,
		rotation: rotation,
		roles:    roles,
		bus:      bus,
		metrics:  m,
	}
}

// Authenticate accepts a valid access token bound to requestIP, or falls back
// to rotating the refresh token when the access token is absent, expired or
// undecodable.
func (a *Authenticator) Authenticate(ctx context.Context, creds model.Credentials, requestIP string) Decision {
	var sawExpired, sawUndecodable bool
	now := a.codec.Now()

	if creds.Access != "" {
		claims, err := a.codec.Verify(creds.Access)
		switch {
		case err != nil:
			sawUndecodable = true
		case claims.IsExpired(now):
			sawExpired = true
		case claims.Category != token.Access:
			return a.reject(model.ErrCategoryMismatch)
		case claims.BoundIP != requestIP:
			return a.originMismatch(claims, requestIP)
		default:
			return a.decide(Decision{Outcome: OutcomeAuthenticated, Identity: claims.Identity()})
		}
	}

	if creds.Refresh != "" {
		claims, err := a.codec.Verify(creds.Refresh)
		switch {
		case err != nil:
			sawUndecodable = true
		case claims.IsExpired(now):
			sawExpired = true
		case claims.Category != token.Refresh:
			return a.reject(model.ErrCategoryMismatch)
		default:
			return a.rotate(ctx, creds.Refresh, claims, requestIP)
		}
	}

	switch {
	case sawExpired:
		return a.reject(model.ErrTokenExpired)
	case sawUndecodable:
		return a.reject(model.ErrDecodeFailure)
	default:
		return a.reject(model.ErrUnauthenticated)
	}
}

func (a *Authenticator) rotate(ctx context.Context, refresh string, claims *token.Claims, requestIP string) Decision {
	role := a.roles.Resolve(ctx, claims.SubjectID, claims.Role)

	pair, err := a.rotation.Rotate(ctx, refresh, claims.SubjectID, claims.Name, role, requestIP)
	if err != nil {
		return a.reject(err)
	}

	issued, err := a.codec.Verify(pair.AccessToken)
	if err != nil {
		return a.reject(err)
	}
	if issued.BoundIP != requestIP {
		return a.originMismatch(issued, requestIP)
	}

	return a.decide(Decision{Outcome: OutcomeRotated, Identity: issued.Identity(), Tokens: pair})
}

func (a *Authenticator) originMismatch(claims *token.Claims, requestIP string) Decision {
	if a.bus != nil {
		a.bus.Publish(event.New(event.TypeOriginMismatch, event.AuthPayload{
			SubjectID: claims.SubjectID,
			IP:        requestIP,
			TokenID:   claims.TokenID,
			Reason:    "bound to " + claims.BoundIP,
		}))
	}
	return a.decide(Decision{Outcome: OutcomeRejected, Reason: model.ErrOriginMismatch, ClearCredentials: true})
}

func (a *Authenticator) reject(reason error) Decision {
	return a.decide(Decision{Outcome: OutcomeRejected, Reason: reason})
}

func (a *Authenticator) decide(d Decision) Decision {
	a.metrics.ObserveDecision(d.Outcome.String(), ReasonCode(d.Reason))
	return d
}
