package payform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatCardNumber(t *testing.T) {
	assert.Equal(t, "4111 1111 1111 1111", FormatCardNumber("4111111111111111"))
	assert.Equal(t, "4111 1111 1111 1111", FormatCardNumber("4111-1111-1111-11119999"))
	assert.Equal(t, "4111 11", FormatCardNumber("411111"))
	assert.Equal(t, "4111", FormatCardNumber("4111"))
	assert.Equal(t, "", FormatCardNumber("abc"))
	// reformatting an already formatted value is stable
	assert.Equal(t, "5500 0000 0000 0004", FormatCardNumber(FormatCardNumber("5500000000000004")))
}

func TestFormatExpiry(t *testing.T) {
	assert.Equal(t, "12/25", FormatExpiry("1225"))
	assert.Equal(t, "1", FormatExpiry("1"))
	assert.Equal(t, "13/", FormatExpiry("13"))
	assert.Equal(t, "13/2", FormatExpiry("13/2"))
	assert.Equal(t, "12/25", FormatExpiry("12/2599"))
}

func TestFormatCVV(t *testing.T) {
	assert.Equal(t, "123", FormatCVV("12a3"))
	assert.Equal(t, "1234", FormatCVV("123456"))
}

func TestFormatHolder(t *testing.T) {
	assert.Equal(t, "ANA LÓPEZ", FormatHolder("Ana López"))
}

func TestDetectBrand(t *testing.T) {
	cases := []struct {
		number string
		want   string
		ok     bool
	}{
		{"4111 1111 1111 1111", "Visa", true},
		{"5105105105105100", "Mastercard", true},
		{"5600000000000000", "Tarjeta", false},
		{"378282246310005", "American Express", true},
		{"6011 1111 1111 1117", "Discover", true},
		{"6500000000000002", "Discover", true},
		{"6200000000000005", "Tarjeta", false},
		{"", "Tarjeta", false},
	}
	for _, tc := range cases {
		t.Run(tc.number, func(t *testing.T) {
			b, ok := DetectBrand(tc.number)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, b.Name)
		})
	}
}
