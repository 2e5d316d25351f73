package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oddslab/signaldesk/internal/domain"
)

// UserService mirrors provider accounts into the local user store so that
// queries can join on role and username without a provider round trip.
type UserService struct {
	users    domain.UserStore
	provider domain.Provider
	logger   *slog.Logger
}

func NewUserService(users domain.UserStore, provider domain.Provider, logger *slog.Logger) *UserService {
	return &UserService{users: users, provider: provider, logger: logger}
}

// Sync pulls the full member roster from the provider and upserts it into
// the mirror. Called at startup and periodically by monitor mode.
func (s *UserService) Sync(ctx context.Context) (int, error) {
	members, err := s.provider.GetAllUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("user_service: fetch members: %w", err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	if err := s.users.UpsertBatch(ctx, members); err != nil {
		return 0, fmt.Errorf("user_service: mirror upsert: %w", err)
	}

	s.logger.InfoContext(ctx, "user_service: roster synced",
		slog.Int("members", len(members)),
	)
	return len(members), nil
}

// Current resolves the provider's authenticated user, falling back to the
// local mirror if the provider call fails.
func (s *UserService) Current(ctx context.Context) (domain.User, error) {
	u, err := s.provider.GetCurrentUser(ctx)
	if err != nil {
		return domain.User{}, fmt.Errorf("user_service: current user: %w", err)
	}
	if err := s.users.Upsert(ctx, u); err != nil {
		s.logger.WarnContext(ctx, "user_service: mirror refresh failed",
			slog.String("user_id", u.ID),
			slog.String("error", err.Error()),
		)
	}
	return u, nil
}

// Get reads a user from the local mirror.
func (s *UserService) Get(ctx context.Context, id string) (domain.User, error) {
	return s.users.GetByID(ctx, id)
}

// List reads the mirrored roster.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}
