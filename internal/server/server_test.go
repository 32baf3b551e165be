package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrera-bot/internal/api"
	"carrera-bot/internal/config"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/models"
	"carrera-bot/internal/payments"
	"carrera-bot/internal/payments/stub"
	"carrera-bot/internal/session"
)

func init() { gin.SetMode(gin.TestMode) }

type fakeProvider struct {
	resp *models.PaymentResponse
	err  error
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) RegisterPayment(context.Context, models.PaymentRequest) (*models.PaymentResponse, error) {
	return f.resp, f.err
}

func (f *fakeProvider) GetTicket(_ context.Context, id string) (*models.Ticket, error) {
	if id == "42" {
		return &models.Ticket{ID: 42, Code: "MT-0042", Status: models.TicketPendingPayment, Platform: 1}, nil
	}
	return nil, api.ErrNotFound
}

type memLedger struct {
	entries []models.LedgerEntry
	updates map[string]string
}

func (m *memLedger) Record(_ context.Context, e models.LedgerEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) UpdateStatus(_ context.Context, txID, status string) error {
	if m.updates == nil {
		m.updates = map[string]string{}
	}
	m.updates[txID] = status
	return nil
}

func (m *memLedger) List(context.Context) ([]models.LedgerEntry, error) { return m.entries, nil }

func do(r http.Handler, method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func deps(p payments.Provider) Deps {
	return Deps{
		Config:   config.Config{PaymentWebhookSecret: "secret", CORSAllowedOrigins: []string{"*"}},
		Provider: p,
		Store:    session.NewMemoryStore(),
		Ledger:   &memLedger{},
		Metrics:  metrics.New(prometheus.NewRegistry()),
		Gatherer: prometheus.NewRegistry(),
		Now:      func() time.Time { return time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC) },
	}
}

func TestRegisterPaymentProxy(t *testing.T) {
	t.Run("passes the api body through", func(t *testing.T) {
		raw := []byte(`{"success":true,"paymentUrl":"https://pay.example/1","extra":1}`)
		r := NewRouter(deps(&fakeProvider{resp: &models.PaymentResponse{Success: true, Raw: raw}}))
		w := do(r, http.MethodPost, "/api/payment/register", []byte(`{"quantity":1,"paymentMethod":2}`), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, string(raw), w.Body.String())
	})

	t.Run("api failure is a 500 with success false", func(t *testing.T) {
		r := NewRouter(deps(&fakeProvider{err: &api.StatusError{Status: 502}}))
		w := do(r, http.MethodPost, "/api/payment/register", []byte(`{}`), nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["error"], "502")
	})

	t.Run("bad json is a 500", func(t *testing.T) {
		r := NewRouter(deps(&fakeProvider{}))
		w := do(r, http.MethodPost, "/api/payment/register", []byte(`{`), nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestTicketLookup(t *testing.T) {
	r := NewRouter(deps(&fakeProvider{}))

	w := do(r, http.MethodGet, "/api/ticket/42", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "MT-0042", body["codigo"])
	assert.Equal(t, "Pendiente de Pago", body["estadoTexto"])
	assert.Equal(t, "Físico", body["platformTexto"])

	w = do(r, http.MethodGet, "/api/ticket/7", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "error")

	w = do(r, http.MethodGet, "/api/ticket", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "ID de ticket requerido")
}

func TestSignup(t *testing.T) {
	d := deps(&fakeProvider{})
	r := NewRouter(d)

	t.Run("invalid", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/signup", []byte(`{"nombre":"A","apellido":"López","correo":"nope","fechaNacimiento":"2024-01-01","distancia":"","cantidad":0}`), nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		var body struct {
			Errors []struct{ Field string } `json:"errors"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		var fields []string
		for _, e := range body.Errors {
			fields = append(fields, e.Field)
		}
		assert.ElementsMatch(t, []string{"nombre", "correo", "distancia", "cantidad", "fechaNacimiento"}, fields)
	})

	t.Run("valid is stored under the web session", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/signup",
			[]byte(`{"nombre":"Ana","apellido":"López","correo":"ana@example.com","fechaNacimiento":"2015-03-01","distancia":"10k","cantidad":3}`),
			map[string]string{headerSessionID: "abc"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"total":375,"sessionId":"abc"}`, w.Body.String())
		assert.Equal(t, "abc", w.Header().Get(headerSessionID))

		raw, ok, err := d.Store.Get(context.Background(), "web:abc:"+session.KeySignup)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Contains(t, raw, `"total":375`)
	})

	t.Run("session id is issued when missing", func(t *testing.T) {
		w := do(r, http.MethodPost, "/api/signup",
			[]byte(`{"nombre":"Ana","apellido":"López","correo":"ana@example.com","fechaNacimiento":"01/03/2015","distancia":"5K","cantidad":1}`), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.NotEmpty(t, w.Header().Get(headerSessionID))
	})
}

func TestQRImage(t *testing.T) {
	r := NewRouter(deps(&fakeProvider{}))
	w := do(r, http.MethodGet, "/qr.png?url=https%3A%2F%2Fpay.example%2F1&size=128", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))

	w = do(r, http.MethodGet, "/qr.png", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthAndCORS(t *testing.T) {
	r := NewRouter(deps(&fakeProvider{}))
	w := do(r, http.MethodGet, "/health", nil, map[string]string{"Origin": "https://carrera.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	w = do(r, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExportCSV(t *testing.T) {
	d := deps(&fakeProvider{})
	d.Ledger = &memLedger{entries: []models.LedgerEntry{{TransactionID: "tx-1", Method: models.MethodCard, Status: "paid"}}}
	r := NewRouter(d)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/export/purchases.csv", nil, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodGet, "/export/purchases.csv?token=bad", nil, nil).Code)

	w := do(r, http.MethodGet, "/export/purchases.csv?token="+ExportToken("secret"), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Body.String(), "transaction_id,"))
	assert.Contains(t, w.Body.String(), "tx-1,card,")
}

func TestStubCheckoutAndWebhook(t *testing.T) {
	s := stub.New("secret", "")
	resp, err := s.RegisterPayment(context.Background(), models.PaymentRequest{
		Quantity:      1,
		Participants:  []models.APIParticipant{{FirstName: "Ana", LastName: "López", Distance: "5K"}},
		PaymentMethod: models.MethodAlternateQR,
	})
	require.NoError(t, err)

	l := &memLedger{}
	notified := make(chan string, 1)
	d := deps(s)
	d.Ledger = l
	d.Notify = func(_ context.Context, txID, status string) { notified <- txID + ":" + status }
	r := NewRouter(d)

	t.Run("pay page", func(t *testing.T) {
		w := do(r, http.MethodGet, "/pay/stub?invoice="+resp.TransactionID, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), resp.TransactionID)
		assert.Contains(t, w.Body.String(), s.Sign(stub.WebhookBody(resp.TransactionID, "paid")))

		assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/pay/stub?invoice=nope", nil, nil).Code)
		assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/pay/stub", nil, nil).Code)
	})

	t.Run("unsigned webhook is rejected", func(t *testing.T) {
		w := do(r, http.MethodPost, "/webhooks/stub", stub.WebhookBody(resp.TransactionID, "paid"), nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("signed webhook settles the purchase", func(t *testing.T) {
		body := stub.WebhookBody(resp.TransactionID, "paid")
		w := do(r, http.MethodPost, "/webhooks/stub", body, map[string]string{"X-Signature": s.Sign(body)})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"pay_status":"paid"`)
		assert.Equal(t, "paid", l.updates[resp.TransactionID])

		select {
		case got := <-notified:
			assert.Equal(t, resp.TransactionID+":paid", got)
		case <-time.After(time.Second):
			t.Fatal("buyer was not notified")
		}
	})
}

func TestNoStubRoutesForAPIProvider(t *testing.T) {
	r := NewRouter(deps(&fakeProvider{err: errors.New("x")}))
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/pay/stub?invoice=x", nil, nil).Code)
}
