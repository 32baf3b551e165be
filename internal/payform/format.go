package payform

import (
	"regexp"
	"strings"

	"carrera-bot/internal/util"
)

const (
	maxCardDigits   = 16
	maxExpiryDigits = 4
	maxCVVDigits    = 4
)

// FormatCardNumber keeps at most 16 digits and groups them in fours.
func FormatCardNumber(v string) string {
	digits := util.Digits(v)
	if len(digits) > maxCardDigits {
		digits = digits[:maxCardDigits]
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatExpiry turns typed digits into MM/YY. The month is not checked here.
func FormatExpiry(v string) string {
	digits := util.Digits(v)
	if len(digits) > maxExpiryDigits {
		digits = digits[:maxExpiryDigits]
	}
	if len(digits) >= 2 {
		return digits[:2] + "/" + digits[2:]
	}
	return digits
}

func FormatCVV(v string) string {
	digits := util.Digits(v)
	if len(digits) > maxCVVDigits {
		digits = digits[:maxCVVDigits]
	}
	return digits
}

func FormatHolder(v string) string {
	return strings.ToUpper(v)
}

type Brand struct {
	Name  string
	Color string
}

var Unknown = Brand{Name: "Tarjeta", Color: "#666666"}

// Ordered; the first pattern that matches the bare number wins.
var brands = []struct {
	pattern *regexp.Regexp
	brand   Brand
}{
	{regexp.MustCompile(`^4`), Brand{Name: "Visa", Color: "#1a1f71"}},
	{regexp.MustCompile(`^5[1-5]`), Brand{Name: "Mastercard", Color: "#eb001b"}},
	{regexp.MustCompile(`^3[47]`), Brand{Name: "American Express", Color: "#006fcf"}},
	{regexp.MustCompile(`^6(?:011|5)`), Brand{Name: "Discover", Color: "#ff6000"}},
}

// DetectBrand reports the card network for number; ok is false when nothing
// matches and the generic card should be shown.
func DetectBrand(number string) (Brand, bool) {
	bare := strings.ReplaceAll(number, " ", "")
	for _, b := range brands {
		if b.pattern.MatchString(bare) {
			return b.brand, true
		}
	}
	return Unknown, false
}
