package account

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"
)

// Service manages account roles.
type Service struct {
    repo   Repository
    logger *slog.Logger
    now    func() time.Time
}

// NewService creates a new account service.
func NewService(repo Repository, logger *slog.Logger) *Service {
    return &Service{repo: repo, logger: logger, now: time.Now}
}

// PromoteRole grants role to ownerID. Calling it again with the same role is a no-op.
func (s *Service) PromoteRole(ctx context.Context, ownerID, role string) error {
    if ownerID == "" {
        return errors.New("owner id is required")
    }
    if !validRole(role) {
        return fmt.Errorf("%w: %q", ErrInvalidRole, role)
    }
    acc, changed, err := s.repo.SetRole(ctx, ownerID, role, s.now())
    if err != nil {
        return fmt.Errorf("promote %s: %w", ownerID, err)
    }
    if changed {
        s.logger.Info("account role promoted", "owner_id", ownerID, "role", acc.Role)
    }
    return nil
}

// Get returns the account of ownerID, defaulting to a prospect when none is stored.
func (s *Service) Get(ctx context.Context, ownerID string) (Account, error) {
    acc, err := s.repo.Get(ctx, ownerID)
    if errors.Is(err, ErrNotFound) {
        return Account{OwnerID: ownerID, Role: RoleProspect}, nil
    }
    return acc, err
}
