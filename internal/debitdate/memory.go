package debitdate

import (
	"context"
	"sync"
)

// MemoryConfigStore is an in-memory ConfigStore for tests and seeding.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	configs []*Config
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{}
}

func (s *MemoryConfigStore) SaveConfig(ctx context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.configs {
		if existing.ID == cfg.ID {
			s.configs[i] = cfg
			return nil
		}
	}
	s.configs = append(s.configs, cfg)
	return nil
}

func (s *MemoryConfigStore) FindContractConfig(ctx context.Context, orgID, contractID string) (*Config, error) {
	return s.find(func(c *Config) bool {
		return c.OrganisationID == orgID && c.ContractID == contractID && contractID != ""
	}), nil
}

func (s *MemoryConfigStore) FindCompanyConfig(ctx context.Context, orgID, companyID string) (*Config, error) {
	return s.find(func(c *Config) bool {
		return c.OrganisationID == orgID && c.CompanyID == companyID && companyID != "" && c.ContractID == "" && c.ClientID == ""
	}), nil
}

func (s *MemoryConfigStore) FindClientConfig(ctx context.Context, orgID, clientID string) (*Config, error) {
	return s.find(func(c *Config) bool {
		return c.OrganisationID == orgID && c.ClientID == clientID && clientID != "" && c.ContractID == "" && c.CompanyID == ""
	}), nil
}

func (s *MemoryConfigStore) FindSystemDefault(ctx context.Context, orgID string) (*Config, error) {
	return s.find(func(c *Config) bool {
		return c.OrganisationID == orgID && c.CompanyID == "" && c.ClientID == "" && c.ContractID == ""
	}), nil
}

func (s *MemoryConfigStore) find(match func(*Config) bool) *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.configs {
		if c.IsActive && match(c) {
			out := *c
			return &out
		}
	}
	return nil
}
