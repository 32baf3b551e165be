package pricing

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"carrera-bot/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var signupMessages = map[string]string{
	"nombre":    "El nombre debe tener entre 2 y 50 caracteres",
	"apellido":  "El apellido debe tener entre 2 y 50 caracteres",
	"correo":    "Ingresa un correo electrónico válido",
	"distancia": "Selecciona una distancia",
	"cantidad":  "La cantidad debe estar entre 1 y 10",
}

var signupFields = map[string]string{
	"FirstName": "nombre",
	"LastName":  "apellido",
	"Email":     "correo",
	"Distance":  "distancia",
	"Quantity":  "cantidad",
}

// ValidateSignup checks the single-buyer form. The age window is wider than
// the per-participant flow.
func ValidateSignup(s models.Signup, today time.Time) []FieldError {
	var errs []FieldError
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			seen := map[string]bool{}
			for _, fe := range verrs {
				field := signupFields[fe.StructField()]
				if field == "" || seen[field] {
					continue
				}
				seen[field] = true
				errs = append(errs, FieldError{Field: field, Message: signupMessages[field]})
			}
		}
	}
	if ParseDistance(s.Distance) == models.DistanceUnset && !hasField(errs, "distancia") {
		errs = append(errs, FieldError{Field: "distancia", Message: signupMessages["distancia"]})
	}
	age := Age(s.BirthDate, today)
	if s.BirthDate.IsZero() || age < SignupMinAge || age > SignupMaxAge {
		errs = append(errs, FieldError{Field: "fechaNacimiento", Message: "La edad debe estar entre 5 y 100 años"})
	}
	return errs
}

func SignupTotal(quantity int) int {
	return quantity * SignupUnitPrice
}

func hasField(errs []FieldError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}
