package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"carrera-bot/internal/models"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/session"
	"carrera-bot/internal/wizard"
)

// ErrRedirected means the view had nothing to show and sent the buyer back
// to the purchase entry.
var ErrRedirected = errors.New("confirm: purchase data missing, redirected")

type Line struct {
	ID        int
	Name      string
	Distance  models.Distance
	BirthDate time.Time
	IPU       string
	Price     int
}

type View struct {
	Pending       bool
	Lines         []Line
	Total         int
	TransactionID string
	PaymentURL    string
	Raw           json.RawMessage
}

func lines(ps []models.Participant) []Line {
	out := make([]Line, 0, len(ps))
	for _, p := range ps {
		out = append(out, Line{
			ID:        p.ID,
			Name:      strings.TrimSpace(p.FirstName + " " + p.LastName),
			Distance:  p.Distance,
			BirthDate: p.BirthDate,
			IPU:       p.IPU,
			Price:     pricing.Price(p.Distance),
		})
	}
	return out
}

// LoadSuccess reads the receipt of a completed card payment.
func LoadSuccess(ctx context.Context, b *session.Bridge, nav wizard.Navigator) (View, error) {
	r, ok := b.LoadReceipt(ctx)
	if !ok || len(r.Purchase.Participants) == 0 {
		nav(wizard.RoutePurchase)
		return View{}, ErrRedirected
	}
	return View{
		Lines:         lines(r.Purchase.Participants),
		Total:         pricing.Total(r.Purchase.Participants),
		TransactionID: r.Outcome.TransactionID,
	}, nil
}

// LoadPending reads a purchase waiting on an external QR payment. Both the
// purchase and the payment URL must be present.
func LoadPending(ctx context.Context, b *session.Bridge, nav wizard.Navigator) (View, error) {
	s, ok := b.LoadPurchase(ctx)
	if !ok || len(s.Participants) == 0 {
		nav(wizard.RoutePurchase)
		return View{}, ErrRedirected
	}
	p, ok := b.LoadPendingPayment(ctx)
	if !ok {
		nav(wizard.RoutePurchase)
		return View{}, ErrRedirected
	}
	v := View{
		Pending:    true,
		Lines:      lines(s.Participants),
		Total:      pricing.Total(s.Participants),
		PaymentURL: p.URL,
		Raw:        p.Raw,
	}
	var resp models.PaymentResponse
	if len(p.Raw) > 0 && json.Unmarshal(p.Raw, &resp) == nil {
		v.TransactionID = resp.TransactionID
	}
	return v, nil
}

// Finalize ends the flow: every session key is dropped and the buyer goes
// home.
func Finalize(ctx context.Context, b *session.Bridge, nav wizard.Navigator) error {
	if err := b.Clear(ctx); err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	nav(wizard.RouteHome)
	return nil
}

func Money(amount int) string { return fmt.Sprintf("Q%d", amount) }

func (v View) Title() string {
	if v.Pending {
		return "¡Compra Registrada Exitosamente!"
	}
	return "¡Pago Exitoso!"
}

// Text renders the view as plain text for chat front ends.
func (v View) Text() string {
	var b strings.Builder
	b.WriteString(v.Title())
	b.WriteString("\n")
	if v.Pending {
		b.WriteString("Tu compra ha sido registrada y está pendiente de pago. Una vez que completes el pago, recibirás una confirmación por correo electrónico.\n")
	} else {
		b.WriteString("Tu pago fue procesado correctamente.\n")
	}
	if v.TransactionID != "" {
		fmt.Fprintf(&b, "Transacción: %s\n", v.TransactionID)
	}
	b.WriteString("\nDetalle de la Compra\n")
	for _, l := range v.Lines {
		fmt.Fprintf(&b, "\nParticipante %d  %s\n", l.ID, Money(l.Price))
		fmt.Fprintf(&b, "Nombre: %s\n", l.Name)
		fmt.Fprintf(&b, "Distancia: %s\n", l.Distance)
		if !l.BirthDate.IsZero() {
			fmt.Fprintf(&b, "Fecha de nacimiento: %s\n", l.BirthDate.Format("2/1/2006"))
		}
		if l.IPU != "" {
			fmt.Fprintf(&b, "IPU: %s\n", l.IPU)
		}
	}
	fmt.Fprintf(&b, "\nTotal: %s\n", Money(v.Total))
	if v.Pending {
		b.WriteString("\nEscanea el código QR para completar tu pago de forma segura.\n")
		fmt.Fprintf(&b, "O copia este enlace:\n%s\n", v.PaymentURL)
	}
	return b.String()
}
