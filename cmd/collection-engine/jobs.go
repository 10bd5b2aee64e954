package main

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/finova/collection-engine/internal/dedup"
	"github.com/finova/collection-engine/internal/debitdate"
)

// dedupRetention is how long processed event ids are kept. It only needs to
// exceed the broker's maximum redelivery horizon.
const dedupRetention = 30 * 24 * time.Hour

// startJobs schedules the background maintenance jobs:
//   - stale-claim reaper, every 5 minutes
//   - processed-event pruning, daily
//   - planned debit date precomputation for seeded scopes, monthly
func startJobs(
	scheduler *Scheduler,
	deduplicator *dedup.PostgresDeduplicator,
	calculator *debitdate.Calculator,
	scopes []debitdate.Scope,
	logger *log.Logger,
) *cron.Cron {
	c := cron.New()

	c.AddFunc("*/5 * * * *", scheduler.ReleaseStale)

	c.AddFunc("30 3 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		cutoff := time.Now().UTC().Add(-dedupRetention)
		if n, err := deduplicator.PruneBefore(ctx, cutoff); err != nil {
			logger.Printf("Error pruning processed events: %v", err)
		} else if n > 0 {
			logger.Printf("Pruned %d processed events older than %s", n, cutoff.Format("2006-01-02"))
		}
	})

	c.AddFunc("0 4 1 * *", func() {
		precomputePlannedDates(calculator, scopes, logger)
	})

	c.Start()
	logger.Println("Background jobs scheduled")
	return c
}

// precomputePlannedDates runs next month's calculation for every seeded
// scope. Results land in the audit log; the job exists to surface
// configuration problems (missing zones, bad batches) before billing day.
func precomputePlannedDates(calculator *debitdate.Calculator, scopes []debitdate.Scope, logger *log.Logger) {
	if len(scopes) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	next := time.Now().UTC().AddDate(0, 1, 0)
	computed := 0
	for _, scope := range scopes {
		_, err := calculator.CalculatePlannedDate(ctx, debitdate.Request{
			Scope:       scope,
			TargetMonth: next.Month(),
			TargetYear:  next.Year(),
		})
		if err != nil {
			logger.Printf("Planned date precompute failed for organisation %s: %v", scope.OrganisationID, err)
			continue
		}
		computed++
	}
	logger.Printf("Precomputed %d/%d planned debit dates for %s", computed, len(scopes), next.Format("2006-01"))
}
