package pricing

import (
	"strings"
	"time"

	"carrera-bot/internal/models"
)

const (
	MinAge = 13

	SignupMinAge    = 5
	SignupMaxAge    = 100
	SignupUnitPrice = 125
)

// First match wins.
var priceTable = []struct {
	distance models.Distance
	amount   int
}{
	{models.Distance5K, 100},
	{models.Distance10K, 180},
}

func Price(d models.Distance) int {
	for _, row := range priceTable {
		if row.distance == d {
			return row.amount
		}
	}
	return 0
}

func ParseDistance(s string) models.Distance {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "5K":
		return models.Distance5K
	case "10K":
		return models.Distance10K
	default:
		return models.DistanceUnset
	}
}

// Age returns the number of whole years between birth and today, counting a
// year only once the birthday has been reached.
func Age(birth, today time.Time) int {
	if birth.IsZero() {
		return 0
	}
	y1, m1, d1 := birth.Date()
	y2, m2, d2 := today.Date()
	age := y2 - y1
	if m2 < m1 || (m2 == m1 && d2 < d1) {
		age--
	}
	return age
}

func Total(ps []models.Participant) int {
	sum := 0
	for _, p := range ps {
		sum += Price(p.Distance)
	}
	return sum
}

type FieldError struct {
	ParticipantID int    `json:"participantId,omitempty"`
	Field         string `json:"field"`
	Message       string `json:"message"`
}

func (e FieldError) Error() string { return e.Field + ": " + e.Message }

func ParticipantErrors(p models.Participant, today time.Time) []FieldError {
	var errs []FieldError
	add := func(field, msg string) {
		errs = append(errs, FieldError{ParticipantID: p.ID, Field: field, Message: msg})
	}
	if strings.TrimSpace(p.FirstName) == "" {
		add("nombre", "El nombre es obligatorio")
	}
	if strings.TrimSpace(p.LastName) == "" {
		add("apellido", "El apellido es obligatorio")
	}
	if p.Distance != models.Distance5K && p.Distance != models.Distance10K {
		add("distancia", "Selecciona una distancia")
	}
	switch {
	case p.BirthDate.IsZero():
		add("fechaNacimiento", "La fecha de nacimiento es obligatoria")
	case Age(p.BirthDate, today) < MinAge:
		add("fechaNacimiento", "La edad mínima es de 13 años")
	}
	return errs
}

func IsParticipantValid(p models.Participant, today time.Time) bool {
	return len(ParticipantErrors(p, today)) == 0
}

func IsPurchaseValid(s models.PurchaseSession, today time.Time) bool {
	if s.Quantity < 1 || s.Quantity != len(s.Participants) {
		return false
	}
	for _, p := range s.Participants {
		if !IsParticipantValid(p, today) {
			return false
		}
	}
	return true
}
