package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/model"
	"github.com/sakif/ecoloop/internal/repository"
)

// TopContributors is how many users the admin dashboard lists.
const TopContributors = 5

// AdminService backs the admin dashboard. Callers are already checked for
// the admin role by auth.RequireAdmin; the only rule here is that an admin
// cannot lock themselves out.
type AdminService struct {
	users  repository.UserRepository
	stats  repository.StatsRepository
	logger *slog.Logger
}

func NewAdminService(users repository.UserRepository, stats repository.StatsRepository, logger *slog.Logger) *AdminService {
	return &AdminService{users: users, stats: stats, logger: logger}
}

func (s *AdminService) Stats(ctx context.Context) (*model.Stats, error) {
	st, err := s.stats.Stats(ctx, TopContributors)
	if err != nil {
		return nil, fmt.Errorf("service/admin: stats: %w", err)
	}
	return st, nil
}

func (s *AdminService) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("service/admin: listing users: %w", err)
	}
	return users, nil
}

func (s *AdminService) SetSuspended(ctx context.Context, adminID, userID string, suspended bool) (*model.User, error) {
	if adminID == userID && suspended {
		return nil, apperror.ValidationFailed("id", "you cannot suspend yourself")
	}
	u, err := s.users.SetSuspended(ctx, userID, suspended)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user suspension changed",
		slog.String("adminID", adminID),
		slog.String("userID", userID),
		slog.Bool("suspended", suspended),
	)
	return u, nil
}

func (s *AdminService) SetRole(ctx context.Context, adminID, userID, role string) (*model.User, error) {
	r := model.Role(role)
	if !r.Valid() {
		return nil, apperror.ValidationFailed("role", "role must be user or admin")
	}
	if adminID == userID && r != model.RoleAdmin {
		return nil, apperror.ValidationFailed("role", "you cannot remove your own admin role")
	}
	u, err := s.users.SetRole(ctx, userID, r)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user role changed",
		slog.String("adminID", adminID),
		slog.String("userID", userID),
		slog.String("role", role),
	)
	return u, nil
}
