package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"go-token-gate/internal/model"
)

// LoginService completes a third-party login handed over by the identity
// provider integration and starts a session.
type LoginService struct {
	users    UserStore
	rotation *RotationService
	validate *validator.Validate
}

func NewLoginService(users UserStore, rotation *RotationService) *LoginService {
	validate := validator.New(validator.WithRequiredStructEnabled())
	// Registration only fails for an empty tag or nil func.
	_ = validate.RegisterValidation("jsonmax", validateJSONMax)

	return &LoginService{
		users:    users,
		rotation: rotation,
		validate: validate,
	}
}

// validateJSONMax bounds a string by the size of its JSON encoding, which is
// what it costs inside a token payload.
func validateJSONMax(fl validator.FieldLevel) bool {
	limit, err := strconv.Atoi(fl.Param())
	if err != nil {
		return false
	}
	encoded, err := json.Marshal(fl.Field().String())
	if err != nil {
		return false
	}
	// Surrounding quotes are part of the claim overhead, not the value.
	return len(encoded)-2 <= limit
}

func (s *LoginService) CompleteLogin(ctx context.Context, profile model.ProviderProfile, ip string) (model.TokenPair, model.User, error) {
	if err := s.validate.Struct(profile); err != nil {
		return model.TokenPair{}, model.User{}, fmt.Errorf("%w: %v", model.ErrInvalidInput, err)
	}

	user, err := s.users.Upsert(ctx, profile.SubjectID(), profile.DisplayName, profile.Email)
	if err != nil {
		return model.TokenPair{}, model.User{}, fmt.Errorf("store user: %w", err)
	}

	pair, err := s.rotation.IssueInitial(ctx, user.SubjectID, user.Name, user.Role, ip)
	if err != nil {
		return model.TokenPair{}, model.User{}, err
	}

	return pair, user, nil
}
