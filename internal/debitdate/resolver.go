package debitdate

import (
	"context"
	"fmt"
)

// ConfigStore reads debit configurations per scope level. Each finder
// returns (nil, nil) when no active record exists at that level.
type ConfigStore interface {
	FindContractConfig(ctx context.Context, orgID, contractID string) (*Config, error)
	FindCompanyConfig(ctx context.Context, orgID, companyID string) (*Config, error)
	FindClientConfig(ctx context.Context, orgID, clientID string) (*Config, error)
	FindSystemDefault(ctx context.Context, orgID string) (*Config, error)
	SaveConfig(ctx context.Context, cfg *Config) error
}

// Resolver picks the most specific active configuration for a scope.
type Resolver struct {
	store ConfigStore
}

func NewResolver(store ConfigStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve walks the precedence chain: active contract-level config, then
// company, then client, then the organisation's system default. Each level
// is consulted only when the scope binds it and the previous level returned
// nothing. A missing system default fails with ErrConfigNotFound.
func (r *Resolver) Resolve(ctx context.Context, scope Scope) (*Resolved, error) {
	if scope.OrganisationID == "" {
		return nil, fmt.Errorf("%w: organisation id is required", ErrInvalidInput)
	}

	if scope.ContractID != "" {
		cfg, err := r.store.FindContractConfig(ctx, scope.OrganisationID, scope.ContractID)
		if err != nil {
			return nil, fmt.Errorf("failed to read contract config: %w", err)
		}
		if cfg != nil && cfg.IsActive {
			return applied(cfg, LevelContract), nil
		}
	}

	if scope.CompanyID != "" {
		cfg, err := r.store.FindCompanyConfig(ctx, scope.OrganisationID, scope.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("failed to read company config: %w", err)
		}
		if cfg != nil && cfg.IsActive {
			return applied(cfg, LevelCompany), nil
		}
	}

	if scope.ClientID != "" {
		cfg, err := r.store.FindClientConfig(ctx, scope.OrganisationID, scope.ClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to read client config: %w", err)
		}
		if cfg != nil && cfg.IsActive {
			return applied(cfg, LevelClient), nil
		}
	}

	cfg, err := r.store.FindSystemDefault(ctx, scope.OrganisationID)
	if err != nil {
		return nil, fmt.Errorf("failed to read system default config: %w", err)
	}
	if cfg == nil || !cfg.IsActive {
		return nil, fmt.Errorf("%w: organisation %s has no system default", ErrConfigNotFound, scope.OrganisationID)
	}
	return applied(cfg, LevelSystemDefault), nil
}

func applied(cfg *Config, level Level) *Resolved {
	return &Resolved{
		Config:          *cfg,
		AppliedLevel:    level,
		AppliedConfigID: cfg.ID,
	}
}
