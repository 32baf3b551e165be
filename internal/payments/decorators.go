package payments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"carrera-bot/internal/api"
	"carrera-bot/internal/ledger"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/models"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/util"
)

type recorded struct {
	Provider
	ledger ledger.Ledger
	log    *slog.Logger
}

// WithLedger records every accepted registration. Card payments are booked
// as paid, QR payments as pending until their webhook arrives. A ledger
// failure is logged and does not fail the payment.
func WithLedger(p Provider, l ledger.Ledger, log *slog.Logger) Provider {
	if log == nil {
		log = slog.Default()
	}
	return &recorded{Provider: p, ledger: l, log: log}
}

func (r *recorded) RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error) {
	resp, err := r.Provider.RegisterPayment(ctx, req)
	if err != nil || !resp.Success {
		return resp, err
	}
	e := EntryFor(req, resp.TransactionID)
	if err := r.ledger.Record(ctx, e); err != nil {
		r.log.Error("ledger record failed", "transaction_id", resp.TransactionID, "error", err)
	}
	return resp, nil
}

// EntryFor builds the ledger row for a registered request.
func EntryFor(req models.PaymentRequest, txID string) models.LedgerEntry {
	total := 0
	for _, p := range req.Participants {
		total += pricing.Price(pricing.ParseDistance(p.Distance))
	}
	status := StatusPending
	if req.PaymentMethod == models.MethodCard {
		status = StatusPaid
	}
	return models.LedgerEntry{
		TransactionID: txID,
		Method:        req.PaymentMethod,
		ContactName:   strings.TrimSpace(req.PurchaseData.FirstName + " " + req.PurchaseData.LastName),
		Email:         req.PurchaseData.Email,
		Address:       req.PurchaseData.Address,
		Quantity:      req.Quantity,
		Total:         total,
		Participants:  req.Participants,
		Status:        status,
		CreatedAt:     util.NowISO(),
	}
}

type instrumented struct {
	Provider
	m *metrics.Metrics
}

// Instrument counts registrations and ticket lookups.
func Instrument(p Provider, m *metrics.Metrics) Provider {
	return &instrumented{Provider: p, m: m}
}

func (i *instrumented) RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error) {
	start := time.Now()
	resp, err := i.Provider.RegisterPayment(ctx, req)
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case !resp.Success:
		result = StatusRejected
	}
	i.m.ObservePayment(i.Provider.Name(), req.PaymentMethod.String(), result, start)
	return resp, err
}

func (i *instrumented) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	t, err := i.Provider.GetTicket(ctx, id)
	switch {
	case err == nil:
		i.m.IncTicketLookup("found")
	case errors.Is(err, api.ErrNotFound):
		i.m.IncTicketLookup("not_found")
	default:
		i.m.IncTicketLookup("error")
	}
	return t, err
}

// Webhooks returns the webhook side of p when it has one, looking through
// the decorators above.
func Webhooks(p Provider) (WebhookHandler, bool) {
	for {
		if h, ok := p.(WebhookHandler); ok {
			return h, true
		}
		switch d := p.(type) {
		case *recorded:
			p = d.Provider
		case *instrumented:
			p = d.Provider
		default:
			return nil, false
		}
	}
}

// Unwrap returns the innermost provider.
func Unwrap(p Provider) Provider {
	for {
		switch d := p.(type) {
		case *recorded:
			p = d.Provider
		case *instrumented:
			p = d.Provider
		default:
			return p
		}
	}
}
