package main

import (
	"context"
	"log"
	"os"

	"github.com/finova/collection-engine/internal/calendar"
	"github.com/finova/collection-engine/internal/config"
	"github.com/finova/collection-engine/internal/debitdate"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
)

// applySeed loads the bootstrap YAML and writes zones, debit configurations
// and policies into the stores. Zones and configurations are upserted;
// policies are only created when absent so operator edits survive restarts.
// It returns the seeded calculation scopes for the monthly batch job.
func applySeed(
	ctx context.Context,
	path string,
	zones calendar.ZoneStore,
	configs debitdate.ConfigStore,
	retryPolicies retry.PolicyStore,
	reminderPolicies reminder.PolicyStore,
	logger *log.Logger,
) ([]debitdate.Scope, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Printf("Seed file %s not found, skipping seeding", path)
		return nil, nil
	}

	seed, err := config.LoadSeed(path)
	if err != nil {
		return nil, err
	}

	for _, sz := range seed.Zones {
		zone, err := sz.Zone()
		if err != nil {
			return nil, err
		}
		if err := zones.SaveZone(ctx, &zone); err != nil {
			return nil, err
		}
	}

	var scopes []debitdate.Scope
	for _, sc := range seed.DebitConfigs {
		cfg := sc.Config()
		if err := configs.SaveConfig(ctx, &cfg); err != nil {
			return nil, err
		}
		scopes = append(scopes, debitdate.Scope{
			OrganisationID: cfg.OrganisationID,
			CompanyID:      cfg.CompanyID,
			ClientID:       cfg.ClientID,
			ContractID:     cfg.ContractID,
		})
	}

	for _, sp := range seed.RetryPolicies {
		policy := sp.Policy()
		if _, err := retryPolicies.GetPolicy(ctx, policy.ID); err == nil {
			continue
		}
		if err := retryPolicies.CreatePolicy(ctx, &policy); err != nil {
			return nil, err
		}
	}

	for _, sp := range seed.ReminderPolicies {
		policy := sp.Policy()
		if _, err := reminderPolicies.GetPolicy(ctx, policy.ID); err == nil {
			continue
		}
		if err := reminderPolicies.CreatePolicy(ctx, &policy); err != nil {
			return nil, err
		}
	}

	logger.Printf("Seed applied: %d zones, %d debit configs, %d retry policies, %d reminder policies",
		len(seed.Zones), len(seed.DebitConfigs), len(seed.RetryPolicies), len(seed.ReminderPolicies))
	return scopes, nil
}
