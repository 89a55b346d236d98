package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/questlog/questlog/internal/db/models"
	"github.com/questlog/questlog/internal/provider"
	"github.com/questlog/questlog/internal/store"
	"go.uber.org/zap"
)

// ErrAuthenticationFailed wraps a provider's rejection of fresh credentials.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Linker creates and re-authenticates linked accounts. At most one active
// account may exist per (user, provider) pair; re-linking an existing pair
// updates the stored credentials in place instead of creating a duplicate.
type Linker struct {
	store    store.Store
	registry *provider.Registry
	log      *zap.Logger
}

// NewLinker builds a linker.
func NewLinker(st store.Store, registry *provider.Registry, log *zap.Logger) *Linker {
	return &Linker{store: st, registry: registry, log: log.Named("linker")}
}

// Link authenticates the raw credential input against the provider and
// persists the resulting linked account.
func (l *Linker) Link(ctx context.Context, userID string, p provider.ID, input json.RawMessage) (*models.LinkedAccount, error) {
	adapter, err := l.registry.Get(p)
	if err != nil {
		return nil, err
	}

	res := adapter.Authenticate(ctx, input)
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrAuthenticationFailed, res.Error)
	}
	link := res.Data

	account, err := l.store.GetAccountByUserProvider(ctx, userID, p)
	if err != nil {
		return nil, err
	}
	if account == nil {
		account = &models.LinkedAccount{
			ID:       uuid.NewString(),
			UserID:   userID,
			Provider: string(p),
			IsActive: true,
		}
	}

	account.ProviderAccountID = link.Profile.AccountID
	account.Username = link.Profile.Username
	account.DisplayName = link.Profile.DisplayName
	account.AvatarURL = link.Profile.AvatarURL
	account.Credentials = link.Credentials
	account.Metadata = link.Metadata
	account.IsActive = true

	if err := l.store.SaveAccount(ctx, account); err != nil {
		return nil, err
	}
	l.log.Info("account linked",
		zap.String("user", userID),
		zap.String("provider", string(p)),
		zap.String("provider_account", account.ProviderAccountID))
	return account, nil
}
