package main

import (
	"context"
	"fmt"
	"time"

	"github.com/finova/collection-engine/internal/httpclient"
)

// PaymentProcessorClient asks the payment platform to re-present a debit.
type PaymentProcessorClient struct {
	client *httpclient.Client
}

func NewPaymentProcessorClient(baseURL string) *PaymentProcessorClient {
	return &PaymentProcessorClient{client: httpclient.NewClient(baseURL, 30*time.Second)}
}

// RetryRequest asks for one re-presentation of a rejected payment.
type RetryRequest struct {
	PaymentID      string `json:"payment_id"`
	OrganisationID string `json:"organisation_id"`
	AttemptNumber  int    `json:"attempt_number"`
	ScheduleID     string `json:"schedule_id"`
}

// RetryResult is the processor's synchronous answer. A rejected
// re-presentation carries the new rejection code.
type RetryResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	RejectionCode string `json:"rejection_code,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

func (c *PaymentProcessorClient) RetryPayment(ctx context.Context, req RetryRequest) (*RetryResult, error) {
	var result RetryResult
	endpoint := fmt.Sprintf("/v1/payments/%s/retry", req.PaymentID)
	if err := c.client.Post(ctx, endpoint, req, &result); err != nil {
		return nil, fmt.Errorf("payment processor call failed: %w", err)
	}
	return &result, nil
}

// NotificationClient hands reminders to the notification sender.
type NotificationClient struct {
	client *httpclient.Client
}

func NewNotificationClient(baseURL string) *NotificationClient {
	return &NotificationClient{client: httpclient.NewClient(baseURL, 30*time.Second)}
}

// SendRequest is one outbound customer notification.
type SendRequest struct {
	ReminderID     string `json:"reminder_id"`
	OrganisationID string `json:"organisation_id"`
	ClientID       string `json:"client_id,omitempty"`
	Channel        string `json:"channel"`
	TemplateID     string `json:"template_id"`
}

// SendResult carries the provider's message id for delivery tracking.
type SendResult struct {
	MessageID    string `json:"message_id"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (c *NotificationClient) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	var result SendResult
	if err := c.client.Post(ctx, "/v1/notifications", req, &result); err != nil {
		return nil, fmt.Errorf("notification sender call failed: %w", err)
	}
	return &result, nil
}

// CRMOptOutClient checks communication preferences in the CRM. Implements
// reminder.OptOutChecker.
type CRMOptOutClient struct {
	client *httpclient.Client
}

func NewCRMOptOutClient(baseURL string) *CRMOptOutClient {
	return &CRMOptOutClient{client: httpclient.NewClient(baseURL, 10*time.Second)}
}

func (c *CRMOptOutClient) OptedOut(ctx context.Context, orgID, clientID string) (bool, error) {
	var response struct {
		OptedOut bool `json:"opted_out"`
	}
	endpoint := fmt.Sprintf("/v1/clients/%s/communication-preferences?organisation_id=%s", clientID, orgID)
	if err := c.client.Get(ctx, endpoint, &response); err != nil {
		return false, fmt.Errorf("CRM opt-out lookup failed: %w", err)
	}
	return response.OptedOut, nil
}
