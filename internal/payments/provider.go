package payments

import (
	"context"

	"carrera-bot/internal/models"
)

// Provider registers purchases and answers ticket lookups.
type Provider interface {
	Name() string

	RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error)

	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
}

// WebhookHandler is implemented by providers that confirm payments
// asynchronously. It validates the call and returns (transactionID,
// status=paid/cancelled).
type WebhookHandler interface {
	HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (txID string, status string, err error)
}

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
	StatusRejected  = "rejected"
)
