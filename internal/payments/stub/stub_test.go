package stub

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrera-bot/internal/api"
	"carrera-bot/internal/models"
)

func request(method models.PaymentMethod, card string) models.PaymentRequest {
	req := models.PaymentRequest{
		Quantity: 2,
		Participants: []models.APIParticipant{
			{FirstName: "Ana", LastName: "López", Distance: "5K", BirthDate: "2000-01-15T00:00:00.000Z"},
			{FirstName: "Luis", LastName: "Pérez", Distance: "10K", BirthDate: "1990-07-04T00:00:00.000Z"},
		},
		PaymentMethod: method,
	}
	if method == models.MethodCard {
		req.CardData = &models.CardData{CardNumber: card, ExpiryMonth: "12", ExpiryYear: "28", CVV: "123", CardholderName: "ANA"}
	}
	return req
}

func TestCardPayment(t *testing.T) {
	p := New("secret", "http://localhost:8080/")
	ctx := context.Background()

	resp, err := p.RegisterPayment(ctx, request(models.MethodCard, "4111111111111111"))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Empty(t, resp.PaymentURL)
	assert.NotEmpty(t, resp.TransactionID)
	assert.JSONEq(t, `{"success":true,"transactionId":"`+resp.TransactionID+`"}`, string(resp.Raw))

	ids := p.Tickets(resp.TransactionID)
	require.Len(t, ids, 2)
	tk, err := p.GetTicket(ctx, strconv.Itoa(ids[1]))
	require.NoError(t, err)
	assert.Equal(t, "Vendido", tk.StatusText())
	assert.Equal(t, "Digital", tk.PlatformText())
	assert.Equal(t, 180.0, *tk.Total)
	assert.Equal(t, 2, *tk.Quantity)

	status, ok := p.Status(resp.TransactionID)
	require.True(t, ok)
	assert.Equal(t, "paid", status)
}

func TestCardDeclined(t *testing.T) {
	p := New("secret", "")
	resp, err := p.RegisterPayment(context.Background(), request(models.MethodCard, "4000000000000002"))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "Tarjeta rechazada", resp.Message)
	assert.Empty(t, p.Tickets(resp.TransactionID))
}

func TestBadRequests(t *testing.T) {
	p := New("secret", "")
	ctx := context.Background()
	var se *api.StatusError

	_, err := p.RegisterPayment(ctx, models.PaymentRequest{PaymentMethod: models.MethodCard})
	require.ErrorAs(t, err, &se)

	req := request(models.MethodCard, "")
	req.CardData = nil
	_, err = p.RegisterPayment(ctx, req)
	require.ErrorAs(t, err, &se)

	_, err = p.RegisterPayment(ctx, request(models.PaymentMethod(9), ""))
	require.ErrorAs(t, err, &se)

	_, err = p.GetTicket(ctx, "abc")
	assert.ErrorIs(t, err, api.ErrNotFound)
	_, err = p.GetTicket(ctx, "999")
	assert.ErrorIs(t, err, api.ErrNotFound)
}

func TestQRPaymentAndWebhook(t *testing.T) {
	p := New("secret", "http://localhost:8080/")
	ctx := context.Background()

	resp, err := p.RegisterPayment(ctx, request(models.MethodAlternateQR, ""))
	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "http://localhost:8080/pay/stub?invoice="+resp.TransactionID, resp.PaymentURL)

	ids := p.Tickets(resp.TransactionID)
	require.Len(t, ids, 2)
	tk, err := p.GetTicket(ctx, strconv.Itoa(ids[0]))
	require.NoError(t, err)
	assert.Equal(t, models.TicketPendingPayment, tk.Status)

	t.Run("rejects bad signature", func(t *testing.T) {
		body := WebhookBody(resp.TransactionID, "paid")
		_, _, err := p.HandleWebhook(ctx, body, map[string]string{"x-signature": "deadbeef"})
		assert.ErrorIs(t, err, ErrBadSignature)
		_, _, err = p.HandleWebhook(ctx, body, map[string]string{})
		assert.ErrorIs(t, err, ErrBadSignature)
	})

	t.Run("rejects unknown invoice", func(t *testing.T) {
		body := WebhookBody("nope", "paid")
		_, _, err := p.HandleWebhook(ctx, body, map[string]string{"x-signature": p.Sign(body)})
		assert.ErrorIs(t, err, ErrUnknownInvoice)
	})

	t.Run("rejects unknown status", func(t *testing.T) {
		body := WebhookBody(resp.TransactionID, "refunded")
		_, _, err := p.HandleWebhook(ctx, body, map[string]string{"x-signature": p.Sign(body)})
		assert.Error(t, err)
	})

	t.Run("marks tickets paid", func(t *testing.T) {
		body := WebhookBody(resp.TransactionID, "")
		txID, status, err := p.HandleWebhook(ctx, body, map[string]string{"x-signature": p.Sign(body)})
		require.NoError(t, err)
		assert.Equal(t, resp.TransactionID, txID)
		assert.Equal(t, "paid", status)

		tk, err := p.GetTicket(ctx, strconv.Itoa(ids[0]))
		require.NoError(t, err)
		assert.Equal(t, models.TicketSold, tk.Status)
	})

	t.Run("cancel deactivates tickets", func(t *testing.T) {
		body := WebhookBody(resp.TransactionID, "cancelled")
		_, status, err := p.HandleWebhook(ctx, body, map[string]string{"x-signature": p.Sign(body)})
		require.NoError(t, err)
		assert.Equal(t, "cancelled", status)
		tk, err := p.GetTicket(ctx, strconv.Itoa(ids[1]))
		require.NoError(t, err)
		assert.Equal(t, "Inactivo", tk.StatusText())
	})
}
