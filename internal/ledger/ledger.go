package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carrera-bot/internal/models"
)

var ErrNotFound = errors.New("ledger: transaction not found")

// Ledger keeps the organizers' record of registered purchases.
type Ledger interface {
	Record(ctx context.Context, e models.LedgerEntry) error
	UpdateStatus(ctx context.Context, txID, status string) error
	List(ctx context.Context) ([]models.LedgerEntry, error)
}

// Nop drops everything.
type Nop struct{}

func (Nop) Record(context.Context, models.LedgerEntry) error { return nil }
func (Nop) UpdateStatus(context.Context, string, string) error { return nil }
func (Nop) List(context.Context) ([]models.LedgerEntry, error) { return nil, nil }

const csvHeader = "transaction_id,method,contact_name,email,address,quantity,total,participants,status,created_at"

// CSV renders entries for the organizers' export.
func CSV(entries []models.LedgerEntry) string {
	b := strings.Builder{}
	b.WriteString(csvHeader)
	b.WriteString("\n")
	for _, e := range entries {
		line := fmt.Sprintf("%s,%s,%s,%s,%s,%d,%d,%s,%s,%s\n",
			escapeCSV(e.TransactionID),
			escapeCSV(e.Method.String()),
			escapeCSV(e.ContactName),
			escapeCSV(e.Email),
			escapeCSV(e.Address),
			e.Quantity,
			e.Total,
			escapeCSV(ParticipantSummary(e.Participants)),
			escapeCSV(e.Status),
			escapeCSV(e.CreatedAt),
		)
		b.WriteString(line)
	}
	return b.String()
}

// ParticipantSummary joins runners as "Nombre Apellido (5K); ...".
func ParticipantSummary(ps []models.APIParticipant) string {
	parts := make([]string, 0, len(ps))
	for _, p := range ps {
		parts = append(parts, fmt.Sprintf("%s %s (%s)", p.FirstName, p.LastName, p.Distance))
	}
	return strings.Join(parts, "; ")
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n\r") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
