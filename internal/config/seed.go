package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v2"

	"github.com/finova/collection-engine/internal/calendar"
	"github.com/finova/collection-engine/internal/debitdate"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
)

// Seed is the YAML bootstrap file: holiday zones, debit configurations and
// policies loaded at startup so a fresh deployment starts with working
// defaults. Ids are optional; missing ones are generated.
type Seed struct {
	Zones            []SeedZone           `yaml:"zones"`
	DebitConfigs     []SeedDebitConfig    `yaml:"debit_configs"`
	RetryPolicies    []SeedRetryPolicy    `yaml:"retry_policies"`
	ReminderPolicies []SeedReminderPolicy `yaml:"reminder_policies"`
}

type SeedZone struct {
	ID             string        `yaml:"id"`
	OrganisationID string        `yaml:"organisation_id"`
	Code           string        `yaml:"code"`
	CountryCode    string        `yaml:"country_code"`
	RegionCode     string        `yaml:"region_code"`
	Holidays       []SeedHoliday `yaml:"holidays"`
}

type SeedHoliday struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Date  string `yaml:"date"`
	Month int    `yaml:"month"`
	Day   int    `yaml:"day"`
}

type SeedDebitConfig struct {
	ID             string `yaml:"id"`
	OrganisationID string `yaml:"organisation_id"`
	CompanyID      string `yaml:"company_id"`
	ClientID       string `yaml:"client_id"`
	ContractID     string `yaml:"contract_id"`
	Mode           string `yaml:"mode"`
	Batch          string `yaml:"batch"`
	FixedDay       int    `yaml:"fixed_day"`
	ShiftStrategy  string `yaml:"shift_strategy"`
	HolidayZoneID  string `yaml:"holiday_zone_id"`
}

type SeedRetryPolicy struct {
	ID                      string   `yaml:"id"`
	OrganisationID          string   `yaml:"organisation_id"`
	SocieteID               string   `yaml:"societe_id"`
	ProductID               string   `yaml:"product_id"`
	Name                    string   `yaml:"name"`
	RetryDelaysDays         []int    `yaml:"retry_delays_days"`
	MaxAttempts             int      `yaml:"max_attempts"`
	MaxTotalDays            int      `yaml:"max_total_days"`
	RetryOnAM04             bool     `yaml:"retry_on_am04"`
	RetryableCodes          []string `yaml:"retryable_codes"`
	NonRetryableCodes       []string `yaml:"non_retryable_codes"`
	StopOnPaymentSettled    *bool    `yaml:"stop_on_payment_settled"`
	StopOnContractCancelled *bool    `yaml:"stop_on_contract_cancelled"`
	StopOnMandateRevoked    *bool    `yaml:"stop_on_mandate_revoked"`
	IsDefault               bool     `yaml:"is_default"`
	Priority                int      `yaml:"priority"`
}

type SeedReminderPolicy struct {
	ID                  string             `yaml:"id"`
	OrganisationID      string             `yaml:"organisation_id"`
	SocieteID           string             `yaml:"societe_id"`
	ProductID           string             `yaml:"product_id"`
	Name                string             `yaml:"name"`
	Rules               []SeedReminderRule `yaml:"rules"`
	CooldownHours       int                `yaml:"cooldown_hours"`
	MaxRemindersPerDay  int                `yaml:"max_reminders_per_day"`
	MaxRemindersPerWeek int                `yaml:"max_reminders_per_week"`
	AllowedStartHour    int                `yaml:"allowed_start_hour"`
	AllowedEndHour      int                `yaml:"allowed_end_hour"`
	AllowedDaysOfWeek   []int              `yaml:"allowed_days_of_week"`
	RespectOptOut       *bool              `yaml:"respect_opt_out"`
	IsDefault           bool               `yaml:"is_default"`
	Priority            int                `yaml:"priority"`
}

type SeedReminderRule struct {
	Trigger            string `yaml:"trigger"`
	Channel            string `yaml:"channel"`
	TemplateID         string `yaml:"template_id"`
	DelayHours         int    `yaml:"delay_hours"`
	DaysBeforeRetry    int    `yaml:"days_before_retry"`
	Order              int    `yaml:"order"`
	OnlyIfNoResponse   bool   `yaml:"only_if_no_response"`
	OnlyFirstRejection bool   `yaml:"only_first_rejection"`
}

// LoadSeed reads and parses the seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file %s: %w", path, err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	return &seed, nil
}

func orUUID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func orTrue(v *bool) bool {
	if v == nil {
		return true
	}
	return *v
}

// Zone converts a seed zone into its domain form.
func (z SeedZone) Zone() (calendar.Zone, error) {
	zone := calendar.Zone{
		ID:             orUUID(z.ID),
		OrganisationID: z.OrganisationID,
		Code:           z.Code,
		CountryCode:    z.CountryCode,
		RegionCode:     z.RegionCode,
		IsActive:       true,
	}
	for _, h := range z.Holidays {
		holiday := calendar.Holiday{
			ID:       uuid.New().String(),
			ZoneID:   zone.ID,
			Name:     h.Name,
			Type:     calendar.HolidayType(h.Type),
			Month:    h.Month,
			Day:      h.Day,
			IsActive: true,
		}
		if h.Date != "" {
			date, err := time.Parse("2006-01-02", h.Date)
			if err != nil {
				return calendar.Zone{}, fmt.Errorf("invalid holiday date %q in zone %s: %w", h.Date, z.Code, err)
			}
			holiday.Date = date
		}
		zone.Holidays = append(zone.Holidays, holiday)
	}
	return zone, nil
}

// Config converts a seed debit configuration into its domain form.
func (c SeedDebitConfig) Config() debitdate.Config {
	return debitdate.Config{
		ID:             orUUID(c.ID),
		OrganisationID: c.OrganisationID,
		CompanyID:      c.CompanyID,
		ClientID:       c.ClientID,
		ContractID:     c.ContractID,
		Mode:           debitdate.Mode(c.Mode),
		Batch:          debitdate.Batch(c.Batch),
		FixedDay:       c.FixedDay,
		ShiftStrategy:  debitdate.ShiftStrategy(c.ShiftStrategy),
		HolidayZoneID:  c.HolidayZoneID,
		IsActive:       true,
	}
}

// Policy converts a seed retry policy into its domain form.
func (p SeedRetryPolicy) Policy() retry.Policy {
	return retry.Policy{
		ID:                      orUUID(p.ID),
		OrganisationID:          p.OrganisationID,
		SocieteID:               p.SocieteID,
		ProductID:               p.ProductID,
		Name:                    p.Name,
		RetryDelaysDays:         p.RetryDelaysDays,
		MaxAttempts:             p.MaxAttempts,
		MaxTotalDays:            p.MaxTotalDays,
		RetryOnAM04:             p.RetryOnAM04,
		RetryableCodes:          p.RetryableCodes,
		NonRetryableCodes:       p.NonRetryableCodes,
		StopOnPaymentSettled:    orTrue(p.StopOnPaymentSettled),
		StopOnContractCancelled: orTrue(p.StopOnContractCancelled),
		StopOnMandateRevoked:    orTrue(p.StopOnMandateRevoked),
		IsActive:                true,
		IsDefault:               p.IsDefault,
		Priority:                p.Priority,
	}
}

// Policy converts a seed reminder policy into its domain form.
func (p SeedReminderPolicy) Policy() reminder.Policy {
	policy := reminder.Policy{
		ID:                  orUUID(p.ID),
		OrganisationID:      p.OrganisationID,
		SocieteID:           p.SocieteID,
		ProductID:           p.ProductID,
		Name:                p.Name,
		CooldownHours:       p.CooldownHours,
		MaxRemindersPerDay:  p.MaxRemindersPerDay,
		MaxRemindersPerWeek: p.MaxRemindersPerWeek,
		AllowedStartHour:    p.AllowedStartHour,
		AllowedEndHour:      p.AllowedEndHour,
		AllowedDaysOfWeek:   p.AllowedDaysOfWeek,
		RespectOptOut:       orTrue(p.RespectOptOut),
		IsActive:            true,
		IsDefault:           p.IsDefault,
		Priority:            p.Priority,
	}
	for _, r := range p.Rules {
		policy.Rules = append(policy.Rules, reminder.Rule{
			Trigger:            reminder.TriggerType(r.Trigger),
			Channel:            r.Channel,
			TemplateID:         r.TemplateID,
			DelayHours:         r.DelayHours,
			DaysBeforeRetry:    r.DaysBeforeRetry,
			Order:              r.Order,
			OnlyIfNoResponse:   r.OnlyIfNoResponse,
			OnlyFirstRejection: r.OnlyFirstRejection,
		})
	}
	return policy
}
