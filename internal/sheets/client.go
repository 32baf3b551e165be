package sheets

import (
	"context"
	"fmt"
	"os"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

type Client struct {
	srv           *sheetsv4.Service
	spreadsheetID string
}

// New authenticates with a service account key file.
func New(ctx context.Context, serviceAccountJSONPath, spreadsheetID string) (*Client, error) {
	if _, err := os.Stat(serviceAccountJSONPath); err != nil {
		return nil, fmt.Errorf("service account json: %w", err)
	}
	return NewWithOptions(ctx, spreadsheetID,
		option.WithCredentialsFile(serviceAccountJSONPath),
		option.WithScopes(sheetsv4.SpreadsheetsScope),
	)
}

// NewWithOptions builds a client from raw API options, e.g. an endpoint
// override in tests.
func NewWithOptions(ctx context.Context, spreadsheetID string, opts ...option.ClientOption) (*Client, error) {
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{srv: srv, spreadsheetID: spreadsheetID}, nil
}

func (c *Client) SpreadsheetID() string { return c.spreadsheetID }

func (c *Client) readAll(ctx context.Context, sheet string) ([][]interface{}, error) {
	resp, err := c.srv.Spreadsheets.Values.Get(c.spreadsheetID, sheet+"!A:Z").Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (c *Client) appendRow(ctx context.Context, sheet string, row []interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{row}}
	_, err := c.srv.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:Z", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

func (c *Client) updateCell(ctx context.Context, sheet, a1 string, value interface{}) error {
	vr := &sheetsv4.ValueRange{Values: [][]interface{}{{value}}}
	_, err := c.srv.Spreadsheets.Values.Update(c.spreadsheetID, sheet+"!"+a1, vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func get(row []interface{}, idx int) string {
	if idx < 0 || idx >= len(row) || row[idx] == nil {
		return ""
	}
	return fmt.Sprint(row[idx])
}
