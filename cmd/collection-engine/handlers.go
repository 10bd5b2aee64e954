package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/finova/collection-engine/internal/audit"
	"github.com/finova/collection-engine/internal/calendar"
	"github.com/finova/collection-engine/internal/database"
	"github.com/finova/collection-engine/internal/debitdate"
	"github.com/finova/collection-engine/internal/reminder"
	"github.com/finova/collection-engine/internal/retry"
)

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// Handler handles HTTP requests for the collection engine
type Handler struct {
	calculator       *debitdate.Calculator
	configs          debitdate.ConfigStore
	retryPolicies    retry.PolicyStore
	reminderPolicies reminder.PolicyStore
	schedules        retry.ScheduleStore
	reminders        reminder.Store
	auditStore       audit.Store
	scheduler        *Scheduler
	executor         *Executor
	db               *database.DB
	validate         *validator.Validate
	logger           *log.Logger
}

func NewHandler(
	calculator *debitdate.Calculator,
	configs debitdate.ConfigStore,
	retryPolicies retry.PolicyStore,
	reminderPolicies reminder.PolicyStore,
	schedules retry.ScheduleStore,
	reminders reminder.Store,
	auditStore audit.Store,
	scheduler *Scheduler,
	executor *Executor,
	db *database.DB,
	logger *log.Logger,
) *Handler {
	return &Handler{
		calculator:       calculator,
		configs:          configs,
		retryPolicies:    retryPolicies,
		reminderPolicies: reminderPolicies,
		schedules:        schedules,
		reminders:        reminders,
		auditStore:       auditStore,
		scheduler:        scheduler,
		executor:         executor,
		db:               db,
		validate:         validator.New(),
		logger:           logger,
	}
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := h.scheduler.Status()

	dbHealthy := false
	if h.db != nil {
		if err := h.db.Ping(); err == nil {
			dbHealthy = true
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"service":           "collection-engine",
		"status":            "healthy",
		"scheduler_running": status.Running,
		"database_healthy":  dbHealthy,
	})
}

// CalculateDebitDateRequest is the POST /v1/debit-dates/calculate body.
type CalculateDebitDateRequest struct {
	OrganisationID string `json:"organisation_id" validate:"required"`
	CompanyID      string `json:"company_id"`
	ClientID       string `json:"client_id"`
	ContractID     string `json:"contract_id"`
	TargetMonth    int    `json:"target_month" validate:"omitempty,min=1,max=12"`
	TargetYear     int    `json:"target_year" validate:"omitempty,min=2000"`
	ReferenceDate  string `json:"reference_date"`
}

// CalculateDebitDate handles POST /v1/debit-dates/calculate
func (h *Handler) CalculateDebitDate(w http.ResponseWriter, r *http.Request) {
	var req CalculateDebitDateRequest
	if !h.decode(w, r, &req) {
		return
	}

	calcReq := debitdate.Request{
		Scope: debitdate.Scope{
			OrganisationID: req.OrganisationID,
			CompanyID:      req.CompanyID,
			ClientID:       req.ClientID,
			ContractID:     req.ContractID,
		},
		TargetMonth: time.Month(req.TargetMonth),
		TargetYear:  req.TargetYear,
	}
	if req.ReferenceDate != "" {
		ref, err := time.Parse("2006-01-02", req.ReferenceDate)
		if err != nil {
			respondError(w, http.StatusBadRequest, "Invalid reference_date, expected YYYY-MM-DD", "INVALID_INPUT")
			return
		}
		calcReq.ReferenceDate = &ref
	}

	result, err := h.calculator.CalculatePlannedDate(r.Context(), calcReq)
	if err != nil {
		h.respondDomainError(w, err, "Failed to calculate debit date")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// DebitConfigRequest is the PUT /v1/debit-configs body.
type DebitConfigRequest struct {
	ID             string `json:"id"`
	OrganisationID string `json:"organisation_id" validate:"required"`
	CompanyID      string `json:"company_id"`
	ClientID       string `json:"client_id"`
	ContractID     string `json:"contract_id"`
	Mode           string `json:"mode" validate:"required,oneof=BATCH FIXED_DAY"`
	Batch          string `json:"batch" validate:"omitempty,oneof=L1 L2 L3 L4"`
	FixedDay       int    `json:"fixed_day" validate:"omitempty,min=1,max=31"`
	ShiftStrategy  string `json:"shift_strategy" validate:"required,oneof=NEXT_BUSINESS_DAY PREVIOUS_BUSINESS_DAY NEXT_WEEK_SAME_DAY"`
	HolidayZoneID  string `json:"holiday_zone_id" validate:"required"`
	IsActive       *bool  `json:"is_active"`
}

// UpsertDebitConfig handles PUT /v1/debit-configs
func (h *Handler) UpsertDebitConfig(w http.ResponseWriter, r *http.Request) {
	var req DebitConfigRequest
	if !h.decode(w, r, &req) {
		return
	}

	cfg := &debitdate.Config{
		ID:             req.ID,
		OrganisationID: req.OrganisationID,
		CompanyID:      req.CompanyID,
		ClientID:       req.ClientID,
		ContractID:     req.ContractID,
		Mode:           debitdate.Mode(req.Mode),
		Batch:          debitdate.Batch(req.Batch),
		FixedDay:       req.FixedDay,
		ShiftStrategy:  debitdate.ShiftStrategy(req.ShiftStrategy),
		HolidayZoneID:  req.HolidayZoneID,
		IsActive:       boolOr(req.IsActive, true),
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := h.configs.SaveConfig(r.Context(), cfg); err != nil {
		h.logger.Printf("Error saving debit configuration: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to save debit configuration", "SAVE_FAILED")
		return
	}

	h.audit("debit_config", cfg.ID, "upsert", nil, cfg, r)
	respondJSON(w, http.StatusOK, cfg)
}

// RetryPolicyRequest is the retry-policy create/update body.
type RetryPolicyRequest struct {
	OrganisationID          string   `json:"organisation_id" validate:"required"`
	SocieteID               string   `json:"societe_id"`
	ProductID               string   `json:"product_id"`
	ChannelID               string   `json:"channel_id"`
	Name                    string   `json:"name" validate:"required"`
	RetryDelaysDays         []int    `json:"retry_delays_days" validate:"required,min=1,dive,min=0"`
	MaxAttempts             int      `json:"max_attempts" validate:"required,min=1"`
	MaxTotalDays            int      `json:"max_total_days" validate:"min=0"`
	RetryOnAM04             bool     `json:"retry_on_am04"`
	RetryableCodes          []string `json:"retryable_codes"`
	NonRetryableCodes       []string `json:"non_retryable_codes"`
	StopOnPaymentSettled    *bool    `json:"stop_on_payment_settled"`
	StopOnContractCancelled *bool    `json:"stop_on_contract_cancelled"`
	StopOnMandateRevoked    *bool    `json:"stop_on_mandate_revoked"`
	IsActive                *bool    `json:"is_active"`
	IsDefault               bool     `json:"is_default"`
	Priority                int      `json:"priority"`
}

func (req *RetryPolicyRequest) policy(id string) *retry.Policy {
	return &retry.Policy{
		ID:                      id,
		OrganisationID:          req.OrganisationID,
		SocieteID:               req.SocieteID,
		ProductID:               req.ProductID,
		ChannelID:               req.ChannelID,
		Name:                    req.Name,
		RetryDelaysDays:         req.RetryDelaysDays,
		MaxAttempts:             req.MaxAttempts,
		MaxTotalDays:            req.MaxTotalDays,
		RetryOnAM04:             req.RetryOnAM04,
		RetryableCodes:          req.RetryableCodes,
		NonRetryableCodes:       req.NonRetryableCodes,
		StopOnPaymentSettled:    boolOr(req.StopOnPaymentSettled, true),
		StopOnContractCancelled: boolOr(req.StopOnContractCancelled, true),
		StopOnMandateRevoked:    boolOr(req.StopOnMandateRevoked, true),
		IsActive:                boolOr(req.IsActive, true),
		IsDefault:               req.IsDefault,
		Priority:                req.Priority,
	}
}

// CreateRetryPolicy handles POST /v1/retry-policies
func (h *Handler) CreateRetryPolicy(w http.ResponseWriter, r *http.Request) {
	var req RetryPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy := req.policy(uuid.New().String())
	if err := h.retryPolicies.CreatePolicy(r.Context(), policy); err != nil {
		h.logger.Printf("Error creating retry policy: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create retry policy", "CREATE_FAILED")
		return
	}

	h.audit("retry_policy", policy.ID, "create", nil, policy, r)
	respondJSON(w, http.StatusCreated, policy)
}

// UpdateRetryPolicy handles PUT /v1/retry-policies/{id}
func (h *Handler) UpdateRetryPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	before, err := h.retryPolicies.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to load retry policy")
		return
	}

	var req RetryPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy := req.policy(id)
	if err := h.retryPolicies.UpdatePolicy(r.Context(), policy); err != nil {
		h.respondDomainError(w, err, "Failed to update retry policy")
		return
	}

	h.audit("retry_policy", id, "update", before, policy, r)
	respondJSON(w, http.StatusOK, policy)
}

// GetRetryPolicy handles GET /v1/retry-policies/{id}
func (h *Handler) GetRetryPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.retryPolicies.GetPolicy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "Failed to get retry policy")
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

// ListRetryPolicies handles GET /v1/retry-policies
func (h *Handler) ListRetryPolicies(w http.ResponseWriter, r *http.Request) {
	filter := retry.PolicyFilter{
		OrganisationID: r.URL.Query().Get("organisation_id"),
		SocieteID:      r.URL.Query().Get("societe_id"),
		ProductID:      r.URL.Query().Get("product_id"),
		ActiveOnly:     r.URL.Query().Get("active") == "true",
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	if filter.OrganisationID == "" {
		respondError(w, http.StatusBadRequest, "organisation_id is required", "INVALID_INPUT")
		return
	}

	policies, err := h.retryPolicies.ListPolicies(r.Context(), filter)
	if err != nil {
		h.logger.Printf("Error listing retry policies: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list retry policies", "LIST_FAILED")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"total":    len(policies),
	})
}

// ReminderPolicyRequest is the reminder-policy create/update body.
type ReminderPolicyRequest struct {
	OrganisationID      string                `json:"organisation_id" validate:"required"`
	SocieteID           string                `json:"societe_id"`
	ProductID           string                `json:"product_id"`
	Name                string                `json:"name" validate:"required"`
	Rules               []ReminderRuleRequest `json:"rules" validate:"required,min=1,dive"`
	CooldownHours       int                   `json:"cooldown_hours" validate:"min=0"`
	MaxRemindersPerDay  int                   `json:"max_reminders_per_day" validate:"min=0"`
	MaxRemindersPerWeek int                   `json:"max_reminders_per_week" validate:"min=0"`
	AllowedStartHour    int                   `json:"allowed_start_hour" validate:"min=0,max=23"`
	AllowedEndHour      int                   `json:"allowed_end_hour" validate:"min=0,max=24"`
	AllowedDaysOfWeek   []int                 `json:"allowed_days_of_week" validate:"dive,min=1,max=7"`
	RespectOptOut       *bool                 `json:"respect_opt_out"`
	IsActive            *bool                 `json:"is_active"`
	IsDefault           bool                  `json:"is_default"`
	Priority            int                   `json:"priority"`
}

// ReminderRuleRequest is one trigger rule in a reminder policy body.
type ReminderRuleRequest struct {
	Trigger            string `json:"trigger" validate:"required,oneof=AFTER_REJECTION BEFORE_RETRY"`
	Channel            string `json:"channel" validate:"required"`
	TemplateID         string `json:"template_id" validate:"required"`
	DelayHours         int    `json:"delay_hours" validate:"min=0"`
	DaysBeforeRetry    int    `json:"days_before_retry" validate:"min=0"`
	Order              int    `json:"order" validate:"min=0"`
	OnlyIfNoResponse   bool   `json:"only_if_no_response"`
	OnlyFirstRejection bool   `json:"only_first_rejection"`
}

func (req *ReminderPolicyRequest) policy(id string) *reminder.Policy {
	policy := &reminder.Policy{
		ID:                  id,
		OrganisationID:      req.OrganisationID,
		SocieteID:           req.SocieteID,
		ProductID:           req.ProductID,
		Name:                req.Name,
		CooldownHours:       req.CooldownHours,
		MaxRemindersPerDay:  req.MaxRemindersPerDay,
		MaxRemindersPerWeek: req.MaxRemindersPerWeek,
		AllowedStartHour:    req.AllowedStartHour,
		AllowedEndHour:      req.AllowedEndHour,
		AllowedDaysOfWeek:   req.AllowedDaysOfWeek,
		RespectOptOut:       boolOr(req.RespectOptOut, true),
		IsActive:            boolOr(req.IsActive, true),
		IsDefault:           req.IsDefault,
		Priority:            req.Priority,
	}
	for _, rule := range req.Rules {
		policy.Rules = append(policy.Rules, reminder.Rule{
			Trigger:            reminder.TriggerType(rule.Trigger),
			Channel:            rule.Channel,
			TemplateID:         rule.TemplateID,
			DelayHours:         rule.DelayHours,
			DaysBeforeRetry:    rule.DaysBeforeRetry,
			Order:              rule.Order,
			OnlyIfNoResponse:   rule.OnlyIfNoResponse,
			OnlyFirstRejection: rule.OnlyFirstRejection,
		})
	}
	return policy
}

// CreateReminderPolicy handles POST /v1/reminder-policies
func (h *Handler) CreateReminderPolicy(w http.ResponseWriter, r *http.Request) {
	var req ReminderPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy := req.policy(uuid.New().String())
	if err := h.reminderPolicies.CreatePolicy(r.Context(), policy); err != nil {
		h.logger.Printf("Error creating reminder policy: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to create reminder policy", "CREATE_FAILED")
		return
	}

	h.audit("reminder_policy", policy.ID, "create", nil, policy, r)
	respondJSON(w, http.StatusCreated, policy)
}

// UpdateReminderPolicy handles PUT /v1/reminder-policies/{id}
func (h *Handler) UpdateReminderPolicy(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	before, err := h.reminderPolicies.GetPolicy(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to load reminder policy")
		return
	}

	var req ReminderPolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	policy := req.policy(id)
	if err := h.reminderPolicies.UpdatePolicy(r.Context(), policy); err != nil {
		h.respondDomainError(w, err, "Failed to update reminder policy")
		return
	}

	h.audit("reminder_policy", id, "update", before, policy, r)
	respondJSON(w, http.StatusOK, policy)
}

// GetReminderPolicy handles GET /v1/reminder-policies/{id}
func (h *Handler) GetReminderPolicy(w http.ResponseWriter, r *http.Request) {
	policy, err := h.reminderPolicies.GetPolicy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "Failed to get reminder policy")
		return
	}
	respondJSON(w, http.StatusOK, policy)
}

// ListReminderPolicies handles GET /v1/reminder-policies
func (h *Handler) ListReminderPolicies(w http.ResponseWriter, r *http.Request) {
	filter := reminder.PolicyFilter{
		OrganisationID: r.URL.Query().Get("organisation_id"),
		SocieteID:      r.URL.Query().Get("societe_id"),
		ProductID:      r.URL.Query().Get("product_id"),
		ActiveOnly:     r.URL.Query().Get("active") == "true",
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	if filter.OrganisationID == "" {
		respondError(w, http.StatusBadRequest, "organisation_id is required", "INVALID_INPUT")
		return
	}

	policies, err := h.reminderPolicies.ListPolicies(r.Context(), filter)
	if err != nil {
		h.logger.Printf("Error listing reminder policies: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list reminder policies", "LIST_FAILED")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"total":    len(policies),
	})
}

// GetSchedule handles GET /v1/schedules/{id}
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.schedules.GetSchedule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "Failed to get schedule")
		return
	}
	respondJSON(w, http.StatusOK, sched)
}

// GetReminder handles GET /v1/reminders/{id}
func (h *Handler) GetReminder(w http.ResponseWriter, r *http.Request) {
	rem, err := h.reminders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondDomainError(w, err, "Failed to get reminder")
		return
	}
	respondJSON(w, http.StatusOK, rem)
}

// SendReminderRequest is the POST /v1/reminders/{id}/send body.
type SendReminderRequest struct {
	Force bool `json:"force"`
}

// SendReminder handles POST /v1/reminders/{id}/send. It sends a PENDING
// reminder immediately instead of waiting for the next tick; force resends
// regardless of current status.
func (h *Handler) SendReminder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req SendReminderRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_INPUT")
			return
		}
	}

	rem, err := h.reminders.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to get reminder")
		return
	}

	if rem.Status != reminder.StatusPending && !req.Force {
		respondError(w, http.StatusBadRequest, "Reminder is not in PENDING status", "INVALID_REMINDER_STATUS")
		return
	}

	if err := h.executor.SendReminder(r.Context(), *rem); err != nil {
		h.logger.Printf("Error sending reminder %s: %v", id, err)
		respondError(w, http.StatusBadGateway, "Failed to send reminder", "SEND_FAILED")
		return
	}

	updated, err := h.reminders.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to reload reminder")
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

// DeliveryStatusRequest is the POST /v1/reminders/{id}/delivery-status body.
type DeliveryStatusRequest struct {
	Status            string `json:"status" validate:"required,oneof=SENT DELIVERED BOUNCED OPENED CLICKED FAILED"`
	ProviderMessageID string `json:"provider_message_id"`
	ErrorCode         string `json:"error_code"`
}

// UpdateDeliveryStatus handles POST /v1/reminders/{id}/delivery-status.
// Delivery callbacks only record status; they never trigger new scheduling.
func (h *Handler) UpdateDeliveryStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req DeliveryStatusRequest
	if !h.decode(w, r, &req) {
		return
	}

	before, err := h.reminders.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to get reminder")
		return
	}

	status := reminder.Status(req.Status)
	if err := h.reminders.UpdateStatus(r.Context(), id, status, req.ProviderMessageID, req.ErrorCode, nil); err != nil {
		h.respondDomainError(w, err, "Failed to update delivery status")
		return
	}

	updated, err := h.reminders.Get(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "Failed to reload reminder")
		return
	}

	h.audit("reminder", id, "delivery_status", before, updated, r)
	respondJSON(w, http.StatusOK, updated)
}

// ListAudit handles GET /v1/audit
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	entity := r.URL.Query().Get("entity")
	entityID := r.URL.Query().Get("entity_id")
	if entity == "" || entityID == "" {
		respondError(w, http.StatusBadRequest, "entity and entity_id are required", "INVALID_INPUT")
		return
	}

	entries, err := h.auditStore.ListByEntity(r.Context(), entity, entityID, queryInt(r, "limit", 100))
	if err != nil {
		h.logger.Printf("Error listing audit entries: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to list audit entries", "LIST_FAILED")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// GetSchedulerStatus handles GET /scheduler/status
func (h *Handler) GetSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.scheduler.Status())
}

// TriggerScheduler handles POST /scheduler/trigger
func (h *Handler) TriggerScheduler(w http.ResponseWriter, r *http.Request) {
	h.logger.Println("Manual scheduler trigger requested")

	result, err := h.scheduler.TriggerManual()
	if err != nil {
		h.logger.Printf("Error during manual trigger: %v", err)
		respondError(w, http.StatusInternalServerError, "Failed to trigger scheduler", "TRIGGER_FAILED")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result":  result,
	})
}

// decode unmarshals and validates a request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", "INVALID_INPUT")
		return false
	}
	if err := h.validate.Struct(dest); err != nil {
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, fe.Namespace()+" failed on "+fe.Tag())
			}
		}
		respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "INVALID_INPUT",
			Details: details,
		})
		return false
	}
	return true
}

// respondDomainError maps domain errors onto the API error taxonomy.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, debitdate.ErrConfigNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "CONFIG_NOT_FOUND")
	case errors.Is(err, debitdate.ErrInvalidMode):
		respondError(w, http.StatusBadRequest, err.Error(), "INVALID_MODE")
	case errors.Is(err, debitdate.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, err.Error(), "INVALID_INPUT")
	case errors.Is(err, calendar.ErrZoneNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, retry.ErrPolicyNotFound), errors.Is(err, reminder.ErrPolicyNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "POLICY_NOT_FOUND")
	case errors.Is(err, retry.ErrScheduleNotFound), errors.Is(err, reminder.ErrReminderNotFound):
		respondError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
	default:
		h.logger.Printf("%s: %v", message, err)
		respondError(w, http.StatusInternalServerError, message, "INTERNAL_ERROR")
	}
}

func (h *Handler) audit(entity, entityID, action string, before, after interface{}, r *http.Request) {
	entry := audit.NewEntry(entity, entityID, action, actor(r))
	if before != nil {
		entry.Before = audit.Snapshot(before)
	}
	if after != nil {
		entry.After = audit.Snapshot(after)
	}
	if err := h.auditStore.Record(r.Context(), entry); err != nil {
		h.logger.Printf("Error writing audit entry for %s %s: %v", entity, entityID, err)
	}
}

func actor(r *http.Request) string {
	if v := r.Header.Get("X-Actor"); v != "" {
		return v
	}
	return "api"
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message, code string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
