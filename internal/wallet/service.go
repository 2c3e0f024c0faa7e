package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

// Service is the per-owner wallet directory.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a wallet directory.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// ConnectInput captures a signing identity to register for an owner.
type ConnectInput struct {
	OwnerID             string
	Address             ethsig.Address
	CustodyType         CustodyType
	CustodialCredential string
	MakePrimary         bool
}

// Connect registers a wallet. The owner's first wallet always becomes primary.
func (s *Service) Connect(ctx context.Context, input ConnectInput) (Wallet, error) {
	w := Wallet{
		ID:                  uuid.NewString(),
		OwnerID:             input.OwnerID,
		Address:             input.Address,
		CustodyType:         input.CustodyType,
		CustodialCredential: input.CustodialCredential,
		IsPrimary:           input.MakePrimary,
		CreatedAt:           s.now().UTC(),
	}
	if err := w.Validate(); err != nil {
		return Wallet{}, err
	}

	if !w.IsPrimary {
		if _, err := s.repo.Primary(ctx, input.OwnerID); errors.Is(err, ErrNoWalletConnected) {
			w.IsPrimary = true
		} else if err != nil {
			return Wallet{}, err
		}
	}

	err := s.repo.Create(ctx, w)
	if errors.Is(err, ErrPrimaryConflict) {
		// Another connect stored the owner's first wallet. An explicit
		// primary request retries the swap; otherwise this one joins as secondary.
		s.logger.Info("primary wallet race, retrying connect",
			slog.String("owner_id", w.OwnerID),
			slog.String("wallet_id", w.ID),
		)
		w.IsPrimary = input.MakePrimary
		err = s.repo.Create(ctx, w)
	}
	if err != nil {
		return Wallet{}, err
	}
	s.logger.Info("wallet connected",
		slog.String("owner_id", w.OwnerID),
		slog.String("wallet_id", w.ID),
		slog.String("address", w.Address.Hex()),
		slog.String("custody_type", string(w.CustodyType)),
		slog.Bool("primary", w.IsPrimary),
	)
	return w, nil
}

// SetPrimary makes walletID the owner's only primary wallet.
func (s *Service) SetPrimary(ctx context.Context, ownerID, walletID string) (Wallet, error) {
	w, err := s.repo.SetPrimary(ctx, ownerID, walletID)
	if err != nil {
		return Wallet{}, fmt.Errorf("set primary wallet: %w", err)
	}
	s.logger.Info("primary wallet changed", slog.String("owner_id", ownerID), slog.String("wallet_id", walletID))
	return w, nil
}

// Resolve returns the owner's primary wallet or ErrNoWalletConnected.
func (s *Service) Resolve(ctx context.Context, ownerID string) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, ErrNoWalletConnected
	}
	return s.repo.Primary(ctx, ownerID)
}

// List returns every wallet the owner connected.
func (s *Service) List(ctx context.Context, ownerID string) ([]Wallet, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}
