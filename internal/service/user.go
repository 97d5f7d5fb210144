package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/stela-network/stela-backend/internal/apperror"
	"github.com/stela-network/stela-backend/internal/model"
	"github.com/stela-network/stela-backend/internal/repository"
)

// UserService handles record registration and lookups. A record is
// created once per verified identity; the repository assigns the
// immutable referral code at that moment.
type UserService struct {
	repo   repository.UserRepository
	logger *slog.Logger
}

func NewUserService(repo repository.UserRepository, logger *slog.Logger) *UserService {
	return &UserService{
		repo:   repo,
		logger: logger,
	}
}

// Register creates the caller's user record. The identity key comes from
// the verified token, never from the request body. Registering twice is a
// conflict — records are never recreated or deleted by this engine.
func (s *UserService) Register(ctx context.Context, callerID, email string) (*model.UserRecord, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}

	user := &model.UserRecord{
		ID:    callerID,
		Email: strings.TrimSpace(email),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.logger.Info("user registered",
		slog.String("userID", user.ID),
		slog.String("referralCode", user.ReferralCode),
	)

	return s.repo.GetByID(ctx, user.ID)
}

// Get returns the caller's own record.
func (s *UserService) Get(ctx context.Context, callerID string) (*model.UserRecord, error) {
	if callerID == "" {
		return nil, apperror.Unauthenticated()
	}
	return s.repo.GetByID(ctx, callerID)
}
