package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"carrera-bot/internal/ledger"
	"carrera-bot/internal/models"
)

const SheetPurchases = "Compras"

// Columns of the Compras sheet; row 1 holds the headers.
var purchaseHeaders = []interface{}{
	"transaction_id", "method", "contact_name", "email", "address",
	"quantity", "total", "participants", "status", "created_at",
}

const statusColumn = "I"

var _ ledger.Ledger = (*Client)(nil)

func (c *Client) Record(ctx context.Context, e models.LedgerEntry) error {
	ps, err := json.Marshal(e.Participants)
	if err != nil {
		return fmt.Errorf("encode participants: %w", err)
	}
	return c.appendRow(ctx, SheetPurchases, []interface{}{
		e.TransactionID, e.Method.String(), e.ContactName, e.Email, e.Address,
		e.Quantity, e.Total, string(ps), e.Status, e.CreatedAt,
	})
}

func (c *Client) UpdateStatus(ctx context.Context, txID, status string) error {
	values, err := c.readAll(ctx, SheetPurchases)
	if err != nil {
		return err
	}
	for i := 1; i < len(values); i++ {
		if get(values[i], 0) == txID {
			rowNum := i + 1 // sheet rows are 1-indexed
			return c.updateCell(ctx, SheetPurchases, fmt.Sprintf("%s%d", statusColumn, rowNum), status)
		}
	}
	return ledger.ErrNotFound
}

func (c *Client) List(ctx context.Context) ([]models.LedgerEntry, error) {
	values, err := c.readAll(ctx, SheetPurchases)
	if err != nil {
		return nil, err
	}
	out := []models.LedgerEntry{}
	for i := 1; i < len(values); i++ {
		row := values[i]
		if get(row, 0) == "" {
			continue
		}
		e := models.LedgerEntry{
			TransactionID: get(row, 0),
			Method:        ledger.ParseMethod(get(row, 1)),
			ContactName:   get(row, 2),
			Email:         get(row, 3),
			Address:       get(row, 4),
			Status:        get(row, 8),
			CreatedAt:     get(row, 9),
		}
		e.Quantity, _ = strconv.Atoi(get(row, 5))
		e.Total, _ = strconv.Atoi(get(row, 6))
		if raw := get(row, 7); raw != "" {
			_ = json.Unmarshal([]byte(raw), &e.Participants)
		}
		out = append(out, e)
	}
	return out, nil
}

// EnsureHeaders writes the header row into an empty Compras sheet.
func (c *Client) EnsureHeaders(ctx context.Context) error {
	values, err := c.readAll(ctx, SheetPurchases)
	if err != nil {
		return err
	}
	if len(values) > 0 {
		return nil
	}
	return c.appendRow(ctx, SheetPurchases, purchaseHeaders)
}
