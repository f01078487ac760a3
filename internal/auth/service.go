// Package auth authenticates actors and resolves each request to a roles.Principal.
// Accounts are either local (bcrypt password) or backed by Firebase or Supabase; in every
// case the owner role comes only from the configured allow-list of emails.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jogardn/creperie/internal/apperr"
	"github.com/jogardn/creperie/internal/roles"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/jogardn/creperie/pkg/models"
	"github.com/sirupsen/logrus"
)

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,max=320,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,min=10,max=32"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Service struct {
	actors    store.ActorStore
	sessions  SessionStore
	validator *validation.Validator
	owners    map[string]struct{}
	providers map[string]IdentityVerifier
	changed   []func(models.Actor)
	logger    *logrus.Logger
}

func NewService(actors store.ActorStore, sessions SessionStore, v *validation.Validator, ownerEmails []string, logger *logrus.Logger) *Service {
	owners := make(map[string]struct{}, len(ownerEmails))
	for _, e := range ownerEmails {
		owners[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}
	return &Service{
		actors:    actors,
		sessions:  sessions,
		validator: v,
		owners:    owners,
		providers: make(map[string]IdentityVerifier),
		logger:    logger,
	}
}

const (
	ProviderFirebase = "firebase"
	ProviderSupabase = "supabase"
)

// RegisterProvider enables external login through name, one of the Provider constants.
func (s *Service) RegisterProvider(name string, v IdentityVerifier) {
	s.providers[name] = v
}

// OnActorChanged registers fn to run after an owner changes an actor's role or active
// flag. Register listeners before serving requests.
func (s *Service) OnActorChanged(fn func(models.Actor)) {
	s.changed = append(s.changed, fn)
}

func (s *Service) isOwnerEmail(email string) bool {
	_, ok := s.owners[strings.ToLower(email)]
	return ok
}

// effectiveRole applies the allow-list: listed emails are owners, and nobody else is.
func (s *Service) effectiveRole(email string, stored models.Role) models.Role {
	if s.isOwnerEmail(email) {
		return models.RoleOwner
	}
	if stored == models.RoleOwner || stored == "" {
		return models.RoleClient
	}
	return stored
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*models.Actor, string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, "", err
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	actor := models.Actor{
		Email:        email,
		Name:         req.Name,
		Role:         s.effectiveRole(email, ""),
		Active:       true,
		PasswordHash: hash,
	}
	if req.Phone != "" {
		phone := req.Phone
		actor.Phone = &phone
	}

	created, err := s.actors.CreateActor(ctx, actor)
	if err != nil {
		return nil, "", err
	}

	token, err := s.sessions.Create(ctx, created.ID)
	if err != nil {
		return nil, "", err
	}

	s.logger.WithFields(logrus.Fields{
		"actor_id": created.ID,
		"role":     created.Role,
	}).Info("Actor registered")
	return created, token, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*models.Actor, string, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, "", err
	}

	actor, err := s.actors.GetActorByEmail(ctx, req.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, "", apperr.ErrBadCredentials
	}
	if err != nil {
		return nil, "", err
	}
	if !CheckPassword(actor.PasswordHash, req.Password) {
		return nil, "", apperr.ErrBadCredentials
	}
	return s.startSession(ctx, actor)
}

// ExternalLogin verifies a provider token and signs in the matching actor, creating a
// client account on first sight.
func (s *Service) ExternalLogin(ctx context.Context, provider, token string) (*models.Actor, string, error) {
	verifier, ok := s.providers[provider]
	if !ok {
		return nil, "", apperr.NewValidationError("provider", fmt.Sprintf("%s login is not configured", provider))
	}

	identity, err := verifier.Verify(ctx, token)
	if err != nil {
		return nil, "", err
	}

	actor, err := s.actors.GetActorByEmail(ctx, identity.Email)
	if errors.Is(err, apperr.ErrNotFound) {
		name := identity.DisplayName
		if name == "" {
			name = strings.SplitN(identity.Email, "@", 2)[0]
		}
		actor, err = s.actors.CreateActor(ctx, models.Actor{
			Email:  identity.Email,
			Name:   name,
			Role:   s.effectiveRole(identity.Email, ""),
			Active: true,
		})
		if err == nil {
			s.logger.WithFields(logrus.Fields{
				"actor_id": actor.ID,
				"provider": provider,
			}).Info("Actor created from identity provider")
		}
	}
	if err != nil {
		return nil, "", err
	}
	return s.startSession(ctx, actor)
}

func (s *Service) startSession(ctx context.Context, actor *models.Actor) (*models.Actor, string, error) {
	if !actor.Active {
		return nil, "", apperr.ErrInactive
	}

	if role := s.effectiveRole(actor.Email, actor.Role); role != actor.Role {
		updated, err := s.actors.UpdateActor(ctx, actor.ID, store.ActorUpdate{Role: &role})
		if err != nil {
			return nil, "", err
		}
		s.logger.WithFields(logrus.Fields{
			"actor_id": actor.ID,
			"from":     actor.Role,
			"to":       role,
		}).Info("Actor role re-derived from owner list")
		actor = updated
	}

	token, err := s.sessions.Create(ctx, actor.ID)
	if err != nil {
		return nil, "", err
	}
	return actor, token, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.sessions.Delete(ctx, token)
}

// Authenticate resolves a session token to its actor and principal. Inactive actors are
// refused on every lookup, not only at login.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.Actor, roles.Principal, error) {
	if token == "" {
		return nil, nil, apperr.ErrUnauthenticated
	}
	id, err := s.sessions.Lookup(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	actor, err := s.actors.GetActor(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil, apperr.ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}
	if !actor.Active {
		return nil, nil, apperr.ErrInactive
	}

	actor.Role = s.effectiveRole(actor.Email, actor.Role)
	principal, err := roles.FromActor(*actor)
	if err != nil {
		return nil, nil, err
	}
	return actor, principal, nil
}

func (s *Service) ListActors(ctx context.Context) ([]models.Actor, error) {
	return s.actors.ListActors(ctx)
}

// UpdateActor is the owner's user administration. The owner role cannot be granted here;
// it follows the allow-list.
func (s *Service) UpdateActor(ctx context.Context, id int64, patch models.ActorPatch) (*models.Actor, error) {
	var update store.ActorUpdate
	if patch.Role != nil {
		role, err := models.ParseRole(*patch.Role)
		if err != nil {
			return nil, apperr.NewValidationError("role", "must be one of: livreur, client")
		}
		if role == models.RoleOwner {
			return nil, apperr.NewValidationError("role", "owner is granted through the owner email list")
		}
		update.Role = &role
	}
	update.Active = patch.Active

	actor, err := s.actors.UpdateActor(ctx, id, update)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"actor_id": id,
		"role":     actor.Role,
		"active":   actor.Active,
	}).Info("Actor updated")

	for _, fn := range s.changed {
		fn(*actor)
	}
	return actor, nil
}
