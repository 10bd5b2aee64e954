package debitdate

import (
	"context"
	"errors"
	"testing"
)

func seedConfigs(t *testing.T) *MemoryConfigStore {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryConfigStore()

	configs := []*Config{
		{ID: "sys", OrganisationID: "org-1", Mode: ModeBatch, Batch: BatchL1, ShiftStrategy: ShiftNextBusinessDay, HolidayZoneID: "zone-1", IsActive: true},
		{ID: "comp", OrganisationID: "org-1", CompanyID: "co-1", Mode: ModeBatch, Batch: BatchL2, ShiftStrategy: ShiftNextBusinessDay, HolidayZoneID: "zone-1", IsActive: true},
		{ID: "cli", OrganisationID: "org-1", ClientID: "cl-1", Mode: ModeBatch, Batch: BatchL3, ShiftStrategy: ShiftNextBusinessDay, HolidayZoneID: "zone-1", IsActive: true},
		{ID: "con", OrganisationID: "org-1", ContractID: "ct-1", Mode: ModeBatch, Batch: BatchL4, ShiftStrategy: ShiftNextBusinessDay, HolidayZoneID: "zone-1", IsActive: true},
		{ID: "con-off", OrganisationID: "org-1", ContractID: "ct-off", Mode: ModeBatch, Batch: BatchL4, ShiftStrategy: ShiftNextBusinessDay, HolidayZoneID: "zone-1", IsActive: false},
	}
	for _, cfg := range configs {
		if err := store.SaveConfig(ctx, cfg); err != nil {
			t.Fatalf("SaveConfig(%s) failed: %v", cfg.ID, err)
		}
	}
	return store
}

func TestResolver_Resolve(t *testing.T) {
	ctx := context.Background()
	resolver := NewResolver(seedConfigs(t))

	tests := []struct {
		name      string
		scope     Scope
		wantID    string
		wantLevel Level
	}{
		{
			name:      "contract config wins over everything",
			scope:     Scope{OrganisationID: "org-1", CompanyID: "co-1", ClientID: "cl-1", ContractID: "ct-1"},
			wantID:    "con",
			wantLevel: LevelContract,
		},
		{
			name:      "company config beats client config",
			scope:     Scope{OrganisationID: "org-1", CompanyID: "co-1", ClientID: "cl-1"},
			wantID:    "comp",
			wantLevel: LevelCompany,
		},
		{
			name:      "client config when no company is bound",
			scope:     Scope{OrganisationID: "org-1", ClientID: "cl-1"},
			wantID:    "cli",
			wantLevel: LevelClient,
		},
		{
			name:      "system default as last resort",
			scope:     Scope{OrganisationID: "org-1"},
			wantID:    "sys",
			wantLevel: LevelSystemDefault,
		},
		{
			name:      "inactive contract config falls through",
			scope:     Scope{OrganisationID: "org-1", ContractID: "ct-off"},
			wantID:    "sys",
			wantLevel: LevelSystemDefault,
		},
		{
			name:      "unknown contract falls through to system default",
			scope:     Scope{OrganisationID: "org-1", ContractID: "ct-unknown"},
			wantID:    "sys",
			wantLevel: LevelSystemDefault,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolved, err := resolver.Resolve(ctx, tt.scope)
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if resolved.AppliedConfigID != tt.wantID {
				t.Errorf("applied config = %s, want %s", resolved.AppliedConfigID, tt.wantID)
			}
			if resolved.AppliedLevel != tt.wantLevel {
				t.Errorf("applied level = %s, want %s", resolved.AppliedLevel, tt.wantLevel)
			}
		})
	}

	t.Run("missing system default is a config error", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, Scope{OrganisationID: "org-unseeded"})
		if !errors.Is(err, ErrConfigNotFound) {
			t.Errorf("expected ErrConfigNotFound, got %v", err)
		}
	})

	t.Run("empty organisation is rejected", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, Scope{ContractID: "ct-1"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
