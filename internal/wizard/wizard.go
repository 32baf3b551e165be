package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"carrera-bot/internal/models"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/session"
)

type State int

const (
	StateEmpty State = iota
	StateEditing
	StateValid
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateEditing:
		return "editing"
	case StateValid:
		return "valid"
	case StateSubmitted:
		return "submitted"
	default:
		return "unknown"
	}
}

type Field string

const (
	FieldFirstName Field = "nombre"
	FieldLastName  Field = "apellido"
	FieldDistance  Field = "distancia"
	FieldBirthDate Field = "fechaNacimiento"
	FieldIPU       Field = "ipu"
)

// Routes handed to the Navigator.
const (
	RoutePurchase       = "/compra"
	RoutePayment        = "/pagar"
	RouteConfirmation   = "/confirmacion"
	RouteQRConfirmation = "/confirmacion-pago"
	RouteHome           = "/"
)

// Navigator moves the front end to another screen.
type Navigator func(route string)

const (
	DefaultMaxParticipants = 5
	NoticeDuration         = 5 * time.Second
	RestoredNotice         = "Recuperamos los datos que habías ingresado."
)

var (
	ErrNotReady      = errors.New("wizard: purchase is not valid yet")
	ErrSubmitted     = errors.New("wizard: purchase already submitted")
	ErrNoParticipant = errors.New("wizard: no such participant")
	ErrUnknownField  = errors.New("wizard: unknown field")
)

var birthDateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", time.RFC3339}

type Option func(*Wizard)

func WithClock(now func() time.Time) Option {
	return func(w *Wizard) { w.now = now }
}

func WithMaxParticipants(n int) Option {
	return func(w *Wizard) {
		if n > 0 {
			w.max = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Wizard) { w.log = l }
}

// Wizard collects the participants of one purchase. It is driven by one
// front end at a time and is not safe for concurrent use.
type Wizard struct {
	bridge *session.Bridge
	nav    Navigator
	now    func() time.Time
	log    *slog.Logger
	max    int

	state        State
	participants []models.Participant
	stash        map[int]models.Participant
	createdAt    time.Time
	noticeUntil  time.Time
}

func New(bridge *session.Bridge, nav Navigator, opts ...Option) *Wizard {
	w := &Wizard{
		bridge: bridge,
		nav:    nav,
		now:    time.Now,
		log:    slog.Default(),
		max:    DefaultMaxParticipants,
		stash:  map[int]models.Participant{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.nav == nil {
		w.nav = func(string) {}
	}
	return w
}

// Mount restores a previously persisted purchase. Missing or broken data
// leaves the wizard Empty.
func (w *Wizard) Mount(ctx context.Context) {
	s, ok := w.bridge.LoadPurchase(ctx)
	if !ok || len(s.Participants) == 0 {
		w.reset()
		return
	}
	w.participants = make([]models.Participant, len(s.Participants))
	for i, p := range s.Participants {
		p.ID = i + 1
		w.participants[i] = p
	}
	if len(w.participants) > w.max {
		w.participants = w.participants[:w.max]
	}
	w.createdAt = s.CreatedAt
	if w.createdAt.IsZero() {
		w.createdAt = w.now()
	}
	w.stash = map[int]models.Participant{}
	w.noticeUntil = w.now().Add(NoticeDuration)
	w.recompute()
	w.log.Info("purchase restored", "participants", len(w.participants), "state", w.state.String())
}

func (w *Wizard) State() State { return w.state }

func (w *Wizard) MaxParticipants() int { return w.max }

func (w *Wizard) Quantity() int { return len(w.participants) }

func (w *Wizard) Participants() []models.Participant {
	out := make([]models.Participant, len(w.participants))
	copy(out, w.participants)
	return out
}

func (w *Wizard) Participant(id int) (models.Participant, bool) {
	if id < 1 || id > len(w.participants) {
		return models.Participant{}, false
	}
	return w.participants[id-1], true
}

func (w *Wizard) Total() int { return pricing.Total(w.participants) }

func (w *Wizard) Session() models.PurchaseSession {
	return models.PurchaseSession{
		Participants: w.Participants(),
		Quantity:     len(w.participants),
		Total:        w.Total(),
		CreatedAt:    w.createdAt,
	}
}

// Errors lists field problems across all participants.
func (w *Wizard) Errors() []pricing.FieldError {
	today := w.now()
	var errs []pricing.FieldError
	for _, p := range w.participants {
		errs = append(errs, pricing.ParticipantErrors(p, today)...)
	}
	return errs
}

// Notice returns the "data restored" message while it is still visible.
func (w *Wizard) Notice() (string, bool) {
	if w.noticeUntil.IsZero() || !w.now().Before(w.noticeUntil) {
		return "", false
	}
	return RestoredNotice, true
}

// SetQuantity resizes the participant list to n (clamped to 1..max).
// Entries dropped by shrinking come back if the list grows again.
func (w *Wizard) SetQuantity(n int) error {
	if w.state == StateSubmitted {
		return ErrSubmitted
	}
	if n < 1 {
		n = 1
	}
	if n > w.max {
		n = w.max
	}
	w.touch()

	cur := len(w.participants)
	switch {
	case n < cur:
		for _, p := range w.participants[n:] {
			w.stash[p.ID] = p
		}
		w.participants = w.participants[:n]
	case n > cur:
		for id := cur + 1; id <= n; id++ {
			p, ok := w.stash[id]
			if ok {
				delete(w.stash, id)
			} else {
				p = models.Participant{ID: id}
			}
			w.participants = append(w.participants, p)
		}
	}
	w.recompute()
	return nil
}

// UpdateField sets one field of one participant. Values that cannot be
// interpreted (a bad date, an unknown distance) clear the field rather than
// fail, so validity reflects them.
func (w *Wizard) UpdateField(id int, field Field, value string) error {
	if w.state == StateSubmitted {
		return ErrSubmitted
	}
	if w.state == StateEmpty {
		if err := w.SetQuantity(1); err != nil {
			return err
		}
	}
	if id < 1 || id > len(w.participants) {
		return fmt.Errorf("%w: %d", ErrNoParticipant, id)
	}
	p := &w.participants[id-1]
	switch field {
	case FieldFirstName:
		p.FirstName = value
	case FieldLastName:
		p.LastName = value
	case FieldDistance:
		p.Distance = pricing.ParseDistance(value)
	case FieldBirthDate:
		p.BirthDate = ParseBirthDate(value)
	case FieldIPU:
		p.IPU = strings.TrimSpace(value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	w.recompute()
	return nil
}

// Clear discards the purchase in memory and in the session store.
func (w *Wizard) Clear(ctx context.Context) error {
	w.reset()
	if err := w.bridge.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Continue persists a valid purchase and moves on to the payment form.
func (w *Wizard) Continue(ctx context.Context) error {
	switch w.state {
	case StateSubmitted:
		return ErrSubmitted
	case StateValid:
	default:
		return ErrNotReady
	}
	if err := w.bridge.SavePurchase(ctx, w.Session()); err != nil {
		return fmt.Errorf("persist purchase: %w", err)
	}
	w.state = StateSubmitted
	w.nav(RoutePayment)
	return nil
}

func (w *Wizard) touch() {
	if w.createdAt.IsZero() {
		w.createdAt = w.now()
	}
}

func (w *Wizard) reset() {
	w.state = StateEmpty
	w.participants = nil
	w.stash = map[int]models.Participant{}
	w.createdAt = time.Time{}
	w.noticeUntil = time.Time{}
}

func (w *Wizard) recompute() {
	if len(w.participants) == 0 {
		w.state = StateEmpty
		return
	}
	if pricing.IsPurchaseValid(w.Session(), w.now()) {
		w.state = StateValid
		return
	}
	w.state = StateEditing
}

// ParseBirthDate accepts ISO or day-first dates; anything else is the zero time.
func ParseBirthDate(v string) time.Time {
	v = strings.TrimSpace(v)
	for _, layout := range birthDateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t
		}
	}
	return time.Time{}
}
