package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"carrera-bot/internal/models"
)

const (
	DefaultBaseURL = "https://app-delivery-api-dev-eastus2.azurewebsites.net"

	registerPath = "api/v1/productcarrera/register-payment"
	ticketPath   = "api/v1/productcarrera/"
)

var ErrNotFound = errors.New("api: ticket not found")

// StatusError is a non-2xx answer from the race API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Error en la API: %d %s", e.Status, http.StatusText(e.Status))
}

// Client talks to the race backend. It does no retries and uses the
// context deadline only.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Name() string { return "api" }

func (c *Client) buildURL(endpoint string) string {
	return c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}
	u := c.buildURL(endpoint)
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("api call", "method", method, "url", u, "status", resp.StatusCode)
	return resp.StatusCode, raw, nil
}

// RegisterPayment posts the purchase. The decoded response keeps the raw body
// so callers can persist it untouched.
func (c *Client) RegisterPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentResponse, error) {
	status, raw, err := c.do(ctx, http.MethodPost, registerPath, req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		c.log.Error("register payment failed", "status", status, "body", string(raw))
		return nil, &StatusError{Status: status, Body: string(raw)}
	}

	var out models.PaymentResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payment response: %w", err)
	}
	out.Raw = json.RawMessage(raw)
	return &out, nil
}

func (c *Client) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrNotFound
	}
	status, raw, err := c.do(ctx, http.MethodGet, ticketPath+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if status < 200 || status > 299 {
		return nil, &StatusError{Status: status, Body: string(raw)}
	}

	var t models.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	return &t, nil
}
