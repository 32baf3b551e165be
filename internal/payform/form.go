package payform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"carrera-bot/internal/models"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/session"
	"carrera-bot/internal/util"
	"carrera-bot/internal/wizard"
)

// Registrar is the part of the payment API the form talks to.
type Registrar interface {
	RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error)
}

var (
	ErrNoPurchase        = errors.New("payform: no purchase in session")
	ErrInvalid           = errors.New("payform: payment details are incomplete")
	ErrSubmitting        = errors.New("payform: submission already in progress")
	ErrMissingPaymentURL = errors.New("payform: payment accepted without a payment URL")
)

// ValidationError carries the field problems that blocked a submit.
type ValidationError struct {
	Fields []pricing.FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return ErrInvalid.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// RejectedError is a 2xx answer with success=false.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string { return "payment rejected: " + e.Message }

const defaultRejectMessage = "No se pudo procesar el pago. Intenta nuevamente."

const isoLayout = "2006-01-02T15:04:05.000Z"

var expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)

// Form holds the payer's details for the purchase persisted by the wizard.
type Form struct {
	bridge *session.Bridge
	reg    Registrar
	nav    wizard.Navigator
	log    *slog.Logger

	mu         sync.Mutex
	submitting bool

	purchase  models.PurchaseSession
	loaded    bool
	details   models.PaymentDetails
	lastError string
}

func New(bridge *session.Bridge, reg Registrar, nav wizard.Navigator, log *slog.Logger) *Form {
	if nav == nil {
		nav = func(string) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Form{
		bridge:  bridge,
		reg:     reg,
		nav:     nav,
		log:     log,
		details: models.PaymentDetails{Method: models.MethodCard, Card: &models.CardDetails{}},
	}
}

// Mount loads the purchase to pay. Without one the buyer is sent back to the
// start of the flow.
func (f *Form) Mount(ctx context.Context) error {
	s, ok := f.bridge.LoadPurchase(ctx)
	if !ok || len(s.Participants) == 0 {
		f.nav(wizard.RoutePurchase)
		return ErrNoPurchase
	}
	f.purchase = s
	f.loaded = true
	return nil
}

func (f *Form) Purchase() models.PurchaseSession { return f.purchase }

func (f *Form) Total() int { return pricing.Total(f.purchase.Participants) }

func (f *Form) Details() models.PaymentDetails {
	d := f.details
	if d.Card != nil {
		c := *d.Card
		d.Card = &c
	}
	return d
}

// LastError is the message of the last failed submission, empty after a
// successful one.
func (f *Form) LastError() string { return f.lastError }

func (f *Form) Submitting() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitting
}

func (f *Form) SetContactName(v string) { f.details.ContactName = v }
func (f *Form) SetEmail(v string)       { f.details.Email = strings.TrimSpace(v) }
func (f *Form) SetPhone(v string)       { f.details.Phone = v }
func (f *Form) SetAddress(v string)     { f.details.Address = v }

func (f *Form) SetMethod(m models.PaymentMethod) {
	f.details.Method = m
	if m == models.MethodCard {
		if f.details.Card == nil {
			f.details.Card = &models.CardDetails{}
		}
		return
	}
	f.details.Card = nil
}

func (f *Form) card() *models.CardDetails {
	if f.details.Card == nil {
		f.details.Card = &models.CardDetails{}
	}
	return f.details.Card
}

func (f *Form) SetCardNumber(v string) { f.card().Number = FormatCardNumber(v) }
func (f *Form) SetCardHolder(v string) { f.card().Holder = FormatHolder(v) }
func (f *Form) SetCardExpiry(v string) { f.card().Expiry = FormatExpiry(v) }
func (f *Form) SetCardCVV(v string)    { f.card().CVV = FormatCVV(v) }

// Validate lists every rule the current details break.
func (f *Form) Validate() []pricing.FieldError {
	return ValidateDetails(f.details)
}

func ValidateDetails(d models.PaymentDetails) []pricing.FieldError {
	var errs []pricing.FieldError
	add := func(field, msg string) {
		errs = append(errs, pricing.FieldError{Field: field, Message: msg})
	}
	if strings.TrimSpace(d.ContactName) == "" {
		add("nombre", "El nombre es obligatorio")
	}
	if strings.TrimSpace(d.Email) == "" {
		add("email", "El correo es obligatorio")
	}
	phone := strings.TrimSpace(d.Phone)
	switch {
	case phone == "":
		add("telefono", "El teléfono es obligatorio")
	case len(phone) != 8 || !util.IsDigits(phone):
		add("telefono", "El teléfono debe tener 8 dígitos")
	}
	if strings.TrimSpace(d.Address) == "" {
		add("direccion", "La dirección es obligatoria")
	}

	switch d.Method {
	case models.MethodAlternateQR:
	case models.MethodCard:
		c := d.Card
		if c == nil {
			c = &models.CardDetails{}
		}
		number := strings.ReplaceAll(c.Number, " ", "")
		if len(number) < 13 || len(number) > 16 || !util.IsDigits(number) {
			add("numeroTarjeta", "El número de tarjeta debe tener entre 13 y 16 dígitos")
		}
		if strings.TrimSpace(c.Holder) == "" {
			add("nombreTarjeta", "El nombre del titular es obligatorio")
		}
		if !expiryPattern.MatchString(c.Expiry) {
			add("vencimiento", "La fecha de expiración debe tener el formato MM/YY")
		}
		if len(c.CVV) < 3 || len(c.CVV) > 4 || !util.IsDigits(c.CVV) {
			add("cvv", "El CVV debe tener 3 o 4 dígitos")
		}
	default:
		add("metodoPago", "Selecciona un método de pago")
	}
	return errs
}

func (f *Form) CanSubmit() bool {
	return f.loaded && !f.Submitting() && len(f.Validate()) == 0
}

// Request composes the body for the register-payment call.
func (f *Form) Request() models.PaymentRequest {
	ps := make([]models.APIParticipant, 0, len(f.purchase.Participants))
	for _, p := range f.purchase.Participants {
		birth := ""
		if !p.BirthDate.IsZero() {
			birth = p.BirthDate.UTC().Format(isoLayout)
		}
		ps = append(ps, models.APIParticipant{
			FirstName: strings.TrimSpace(p.FirstName),
			LastName:  strings.TrimSpace(p.LastName),
			Distance:  string(p.Distance),
			BirthDate: birth,
			IPU:       p.IPU,
		})
	}

	first, last := splitName(f.details.ContactName)
	req := models.PaymentRequest{
		Quantity:     len(ps),
		Participants: ps,
		PurchaseData: models.PurchaseData{
			FirstName: first,
			LastName:  last,
			Email:     f.details.Email,
			Address:   strings.TrimSpace(f.details.Address),
		},
		PaymentMethod: f.details.Method,
	}
	if f.details.Method == models.MethodCard && f.details.Card != nil {
		c := f.details.Card
		month, year, _ := strings.Cut(c.Expiry, "/")
		req.CardData = &models.CardData{
			CardNumber:     strings.ReplaceAll(c.Number, " ", ""),
			ExpiryMonth:    month,
			ExpiryYear:     year,
			CVV:            c.CVV,
			CardholderName: strings.TrimSpace(c.Holder),
		}
	}
	return req
}

// Submit validates, registers the payment and routes to the matching
// confirmation. On any failure the form keeps its data so the buyer can retry.
func (f *Form) Submit(ctx context.Context) (models.PaymentOutcome, error) {
	f.mu.Lock()
	if f.submitting {
		f.mu.Unlock()
		return models.PaymentOutcome{}, ErrSubmitting
	}
	f.submitting = true
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.submitting = false
		f.mu.Unlock()
	}()

	if !f.loaded {
		return models.PaymentOutcome{}, ErrNoPurchase
	}
	if errs := f.Validate(); len(errs) > 0 {
		return models.PaymentOutcome{}, &ValidationError{Fields: errs}
	}

	resp, err := f.reg.RegisterPayment(ctx, f.Request())
	if err != nil {
		f.lastError = err.Error()
		f.log.Error("register payment failed", "method", f.details.Method.String(), "error", err)
		return models.PaymentOutcome{}, fmt.Errorf("register payment: %w", err)
	}
	if !resp.Success {
		msg := strings.TrimSpace(resp.Message)
		if msg == "" {
			msg = defaultRejectMessage
		}
		f.lastError = msg
		f.log.Warn("payment rejected", "method", f.details.Method.String(), "message", msg)
		return models.PaymentOutcome{}, &RejectedError{Message: msg}
	}

	outcome := resp.Outcome()
	switch f.details.Method {
	case models.MethodAlternateQR:
		if strings.TrimSpace(outcome.PaymentURL) == "" {
			f.lastError = ErrMissingPaymentURL.Error()
			return models.PaymentOutcome{}, ErrMissingPaymentURL
		}
		raw := resp.Raw
		if len(raw) == 0 {
			raw, _ = json.Marshal(resp)
		}
		if err := f.bridge.SavePendingPayment(ctx, outcome.PaymentURL, raw); err != nil {
			return outcome, fmt.Errorf("persist pending payment: %w", err)
		}
		f.lastError = ""
		f.nav(wizard.RouteQRConfirmation)
	default:
		if err := f.bridge.CompletePurchase(ctx, f.purchase, outcome); err != nil {
			return outcome, fmt.Errorf("complete purchase: %w", err)
		}
		f.lastError = ""
		f.nav(wizard.RouteConfirmation)
	}
	f.log.Info("payment registered", "method", f.details.Method.String(), "transaction_id", outcome.TransactionID)
	return outcome, nil
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
