package models

import (
	"encoding/json"
	"time"
)

type Distance string

const (
	DistanceUnset Distance = ""
	Distance5K    Distance = "5K"
	Distance10K   Distance = "10K"
)

// Participant is one runner inside a purchase. ID is the position (1-based)
// within the purchase session.
type Participant struct {
	ID        int       `json:"id"`
	FirstName string    `json:"nombre"`
	LastName  string    `json:"apellido"`
	Distance  Distance  `json:"distancia"`
	BirthDate time.Time `json:"fechaNacimiento"`
	IPU       string    `json:"ipu,omitempty"`
}

// PurchaseSession is what the wizard persists under the purchase key.
// Total is informational; readers recompute it from Participants.
type PurchaseSession struct {
	Participants []Participant `json:"participantes"`
	Quantity     int           `json:"cantidad"`
	Total        int           `json:"total"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type PaymentMethod int

const (
	MethodCard        PaymentMethod = 1
	MethodAlternateQR PaymentMethod = 2
)

func (m PaymentMethod) String() string {
	switch m {
	case MethodCard:
		return "card"
	case MethodAlternateQR:
		return "qr"
	default:
		return "unknown"
	}
}

type CardDetails struct {
	Number string // formatted, groups of 4
	Holder string
	Expiry string // MM/YY
	CVV    string
}

type PaymentDetails struct {
	ContactName string
	Email       string
	Phone       string
	Address     string
	Method      PaymentMethod
	Card        *CardDetails // set iff Method == MethodCard
}

type PaymentOutcome struct {
	Success       bool   `json:"success"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`
}

// ---------- external API shapes ----------

type APIParticipant struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Distance  string `json:"distance"`
	BirthDate string `json:"birthDate"`
	IPU       string `json:"ipu"`
}

type PurchaseData struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Address   string `json:"address"`
}

type CardData struct {
	CardNumber     string `json:"cardNumber"`
	ExpiryMonth    string `json:"expiryMonth"`
	ExpiryYear     string `json:"expiryYear"`
	CVV            string `json:"cvv"`
	CardholderName string `json:"cardholderName"`
}

type PaymentRequest struct {
	Quantity      int              `json:"quantity"`
	Participants  []APIParticipant `json:"participants"`
	PurchaseData  PurchaseData     `json:"purchaseData"`
	PaymentMethod PaymentMethod    `json:"paymentMethod"`
	CardData      *CardData        `json:"cardData,omitempty"`
}

type PaymentResponse struct {
	Success       bool   `json:"success"`
	Message       string `json:"message,omitempty"`
	PaymentURL    string `json:"paymentUrl,omitempty"`
	TransactionID string `json:"transactionId,omitempty"`

	Raw json.RawMessage `json:"-"`
}

func (r PaymentResponse) Outcome() PaymentOutcome {
	return PaymentOutcome{
		Success:       r.Success,
		PaymentURL:    r.PaymentURL,
		TransactionID: r.TransactionID,
	}
}

type Ticket struct {
	ID        int      `json:"id"`
	Code      string   `json:"codigo"`
	Status    int      `json:"estado"`
	Platform  int      `json:"platform"`
	Distance  string   `json:"distance,omitempty"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	BirthDate string   `json:"birthDate,omitempty"`
	IPU       string   `json:"ipu,omitempty"`
	Quantity  *int     `json:"quantity,omitempty"`
	Total     *float64 `json:"total,omitempty"`
	CreatedAt string   `json:"createdAt"`
	UpdatedAt string   `json:"updatedAt"`
}

const (
	TicketActive         = 1
	TicketInactive       = 2
	TicketSold           = 3
	TicketPendingPayment = 4
)

func (t Ticket) StatusText() string {
	switch t.Status {
	case TicketActive:
		return "Activo"
	case TicketInactive:
		return "Inactivo"
	case TicketSold:
		return "Vendido"
	case TicketPendingPayment:
		return "Pendiente de Pago"
	default:
		return "Desconocido"
	}
}

func (t Ticket) PlatformText() string {
	switch t.Platform {
	case 1:
		return "Físico"
	case 2:
		return "Digital"
	default:
		return "Desconocida"
	}
}

// Signup is the single-buyer form (deprecated path): one contact buys
// Quantity tickets for one distance.
type Signup struct {
	FirstName string    `json:"nombre" validate:"required,min=2,max=50"`
	LastName  string    `json:"apellido" validate:"required,min=2,max=50"`
	Email     string    `json:"correo" validate:"required,email"`
	BirthDate time.Time `json:"fechaNacimiento"`
	Distance  string    `json:"distancia" validate:"required"`
	Quantity  int       `json:"cantidad" validate:"min=1,max=10"`
}

// LedgerEntry is one purchase as recorded for the organizers.
type LedgerEntry struct {
	TransactionID string
	Method        PaymentMethod
	ContactName   string
	Email         string
	Address       string
	Quantity      int
	Total         int
	Participants  []APIParticipant
	Status        string // pending/paid/cancelled
	CreatedAt     string
}
