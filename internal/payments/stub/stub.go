package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"carrera-bot/internal/api"
	"carrera-bot/internal/models"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/util"
)

// Stub provider for offline runs:
// - RegisterPayment: card numbers ending in 0002 are declined, other cards
//   are paid at once; QR payments get a /pay/stub?invoice=... link.
// - Webhook: POST /webhooks/stub signed with X-Signature (HMAC SHA-256).

const declinedSuffix = "0002"

type invoice struct {
	tickets []int
	status  string
}

type Provider struct {
	secret  string
	baseURL string

	mu       sync.Mutex
	nextID   int
	tickets  map[int]*models.Ticket
	invoices map[string]*invoice
}

func New(secret, baseURL string) *Provider {
	return &Provider{
		secret:   secret,
		baseURL:  strings.TrimRight(baseURL, "/"),
		tickets:  map[int]*models.Ticket{},
		invoices: map[string]*invoice{},
	}
}

func (p *Provider) Name() string { return "stub" }

// PayURL is the local checkout page for an invoice.
func (p *Provider) PayURL(invoice string) string {
	url := "/pay/stub?invoice=" + invoice
	if p.baseURL != "" {
		url = p.baseURL + url
	}
	return url
}

func (p *Provider) RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error) {
	if len(req.Participants) == 0 {
		return nil, &api.StatusError{Status: 400, Body: "participants required"}
	}

	resp := &models.PaymentResponse{TransactionID: uuid.NewString()}
	status := models.TicketPendingPayment

	switch req.PaymentMethod {
	case models.MethodCard:
		if req.CardData == nil {
			return nil, &api.StatusError{Status: 400, Body: "cardData required"}
		}
		if strings.HasSuffix(req.CardData.CardNumber, declinedSuffix) {
			resp.Message = "Tarjeta rechazada"
			return p.encode(resp)
		}
		status = models.TicketSold
	case models.MethodAlternateQR:
		resp.PaymentURL = p.PayURL(resp.TransactionID)
	default:
		return nil, &api.StatusError{Status: 400, Body: "unknown payment method"}
	}
	resp.Success = true

	p.issue(resp.TransactionID, req, status)
	return p.encode(resp)
}

func (p *Provider) encode(resp *models.PaymentResponse) (*models.PaymentResponse, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	resp.Raw = raw
	return resp, nil
}

func (p *Provider) issue(txID string, req models.PaymentRequest, status int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := util.NowISO()
	inv := &invoice{status: "paid"}
	if status == models.TicketPendingPayment {
		inv.status = "pending"
	}
	qty := req.Quantity
	for _, pt := range req.Participants {
		p.nextID++
		total := float64(pricing.Price(pricing.ParseDistance(pt.Distance)))
		t := &models.Ticket{
			ID:        p.nextID,
			Code:      fmt.Sprintf("MT-%04d", p.nextID),
			Status:    status,
			Platform:  2,
			Distance:  pt.Distance,
			FirstName: pt.FirstName,
			LastName:  pt.LastName,
			BirthDate: pt.BirthDate,
			IPU:       pt.IPU,
			Quantity:  &qty,
			Total:     &total,
			CreatedAt: now,
			UpdatedAt: now,
		}
		p.tickets[t.ID] = t
		inv.tickets = append(inv.tickets, t.ID)
	}
	p.invoices[txID] = inv
}

func (p *Provider) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil {
		return nil, api.ErrNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.tickets[n]
	if !ok {
		return nil, api.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// Tickets lists the ticket ids issued for an invoice.
func (p *Provider) Tickets(invoice string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invoices[invoice]
	if !ok {
		return nil
	}
	return append([]int(nil), inv.tickets...)
}

// Status reports pending, paid or cancelled for a known invoice.
func (p *Provider) Status(invoice string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invoices[invoice]
	if !ok {
		return "", false
	}
	return inv.status, true
}

// Sign returns the X-Signature value for body.
func (p *Provider) Sign(body []byte) string {
	return util.HMACSHA256Hex(p.secret, string(body))
}

type webhookPayload struct {
	Invoice string `json:"invoice"`
	Status  string `json:"status"` // paid/cancelled
}

// WebhookBody is the JSON the checkout page posts for a status change.
func WebhookBody(invoice, status string) []byte {
	b, _ := json.Marshal(webhookPayload{Invoice: invoice, Status: status})
	return b
}

var (
	ErrBadSignature   = errors.New("invalid signature")
	ErrUnknownInvoice = errors.New("unknown invoice")
)

func (p *Provider) HandleWebhook(ctx context.Context, body []byte, headers map[string]string) (string, string, error) {
	if !util.ValidSignature(p.secret, string(body), headers["x-signature"]) {
		return "", "", ErrBadSignature
	}

	var pl webhookPayload
	if err := json.Unmarshal(body, &pl); err != nil {
		return "", "", err
	}

	status := strings.TrimSpace(pl.Status)
	if status == "" {
		status = "paid"
	}
	if status != "paid" && status != "cancelled" {
		return "", "", fmt.Errorf("bad status %q", status)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	inv, ok := p.invoices[pl.Invoice]
	if !ok {
		return "", "", ErrUnknownInvoice
	}
	ticketStatus := models.TicketSold
	if status == "cancelled" {
		ticketStatus = models.TicketInactive
	}
	now := util.NowISO()
	for _, id := range inv.tickets {
		if t := p.tickets[id]; t != nil {
			t.Status = ticketStatus
			t.UpdatedAt = now
		}
	}
	inv.status = status
	return pl.Invoice, status, nil
}
