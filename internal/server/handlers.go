package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carrera-bot/internal/confirm"
	"carrera-bot/internal/ledger"
	"carrera-bot/internal/models"
	"carrera-bot/internal/payments"
	"carrera-bot/internal/payments/stub"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/session"
	"carrera-bot/internal/util"
	"carrera-bot/internal/wizard"
)

const headerSessionID = "X-Session-ID"

// ExportToken is the token the CSV export link must carry.
func ExportToken(secret string) string {
	return util.HMACSHA256Hex(secret, "export:purchases")
}

func (h *handlers) registerPayment(c *gin.Context) {
	var req models.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	resp, err := h.Provider.RegisterPayment(c.Request.Context(), req)
	if err != nil {
		h.Log.Error("payment proxy failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}
	if len(resp.Raw) > 0 {
		c.Data(http.StatusOK, "application/json; charset=utf-8", resp.Raw)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type ticketView struct {
	models.Ticket
	EstadoTexto   string `json:"estadoTexto"`
	PlatformTexto string `json:"platformTexto"`
}

func (h *handlers) ticketMissingID(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "ID de ticket requerido"})
}

func (h *handlers) ticket(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		h.ticketMissingID(c)
		return
	}
	t, err := h.Provider.GetTicket(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, ticketView{Ticket: *t, EstadoTexto: t.StatusText(), PlatformTexto: t.PlatformText()})
}

type signupRequest struct {
	Nombre          string `json:"nombre"`
	Apellido        string `json:"apellido"`
	Correo          string `json:"correo"`
	FechaNacimiento string `json:"fechaNacimiento"`
	Distancia       string `json:"distancia"`
	Cantidad        int    `json:"cantidad"`
}

// signup validates the single-buyer form and keeps it in the caller's web
// session, identified by the X-Session-ID header.
func (h *handlers) signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s := models.Signup{
		FirstName: strings.TrimSpace(req.Nombre),
		LastName:  strings.TrimSpace(req.Apellido),
		Email:     strings.TrimSpace(req.Correo),
		BirthDate: wizard.ParseBirthDate(req.FechaNacimiento),
		Distance:  string(pricing.ParseDistance(req.Distancia)),
		Quantity:  req.Cantidad,
	}
	if errs := pricing.ValidateSignup(s, h.Now()); len(errs) > 0 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"errors": errs})
		return
	}

	sid := strings.TrimSpace(c.GetHeader(headerSessionID))
	if sid == "" {
		sid = uuid.NewString()
	}
	total := pricing.SignupTotal(s.Quantity)
	if h.Store != nil {
		b := session.NewBridge(session.Scoped(h.Store, "web:"+sid+":"), h.Log)
		if err := b.SaveSignup(c.Request.Context(), s, total); err != nil {
			h.Log.Error("save signup", "session_id", sid, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "no se pudo guardar la compra"})
			return
		}
	}
	c.Header(headerSessionID, sid)
	c.JSON(http.StatusOK, gin.H{"total": total, "sessionId": sid})
}

func (h *handlers) qr(c *gin.Context) {
	size, _ := strconv.Atoi(c.Query("size"))
	if size > 1024 {
		size = 1024
	}
	png, err := confirm.QRCode(c.Query("url"), size)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (h *handlers) exportCSV(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
		return
	}
	if !util.ValidSignature(h.Config.PaymentWebhookSecret, "export:purchases", token) {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid token"})
		return
	}
	entries, err := h.Ledger.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="compras.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(ledger.CSV(entries)))
}

// checkout is the local pay page's view of the stub provider.
type checkout interface {
	Sign(body []byte) string
	Status(invoice string) (string, bool)
}

type payPage struct {
	Invoice       string
	Status        string
	PaidBody      string
	PaidSig       string
	CancelledBody string
	CancelledSig  string
}

func (h *handlers) payPage(c *gin.Context) {
	invoice := c.Query("invoice")
	if invoice == "" {
		c.String(http.StatusBadRequest, "invoice required")
		return
	}
	co, ok := h.hooks.(checkout)
	if !ok {
		c.String(http.StatusNotFound, "checkout not available")
		return
	}
	status, ok := co.Status(invoice)
	if !ok {
		c.String(http.StatusNotFound, "unknown invoice")
		return
	}
	paid := stub.WebhookBody(invoice, payments.StatusPaid)
	cancelled := stub.WebhookBody(invoice, payments.StatusCancelled)
	c.HTML(http.StatusOK, "pay", payPage{
		Invoice:       invoice,
		Status:        status,
		PaidBody:      string(paid),
		PaidSig:       co.Sign(paid),
		CancelledBody: string(cancelled),
		CancelledSig:  co.Sign(cancelled),
	})
}

func (h *handlers) webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	headers := map[string]string{}
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			headers[strings.ToLower(k)] = v[0]
		}
	}

	txID, status, err := h.hooks.HandleWebhook(c.Request.Context(), body, headers)
	if err != nil {
		h.Log.Warn("webhook rejected", "error", err)
		if h.Metrics != nil {
			h.Metrics.IncWebhook("invalid")
		}
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	if h.Metrics != nil {
		h.Metrics.IncWebhook(status)
	}

	if err := h.Ledger.UpdateStatus(c.Request.Context(), txID, status); err != nil && !errors.Is(err, ledger.ErrNotFound) {
		h.Log.Error("ledger update failed", "transaction_id", txID, "error", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	// Buyer notification runs past the request.
	go h.Notify(context.WithoutCancel(c.Request.Context()), txID, status)

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"transaction_id": txID,
		"pay_status":     status,
		"ts":             util.NowISO(),
	})
}

const payPageHTML = `<!doctype html><html><head><meta charset="utf-8"><title>Pago de prueba</title></head><body>
<h2>Pago (proveedor de prueba)</h2>
<p>Factura: {{.Invoice}}</p>
<p>Estado: <span id="status">{{.Status}}</span></p>
<button onclick="send(paid)">Pagar</button>
<button onclick="send(cancelled)">Cancelar</button>
<pre id="out"></pre>
<script>
const paid = {body: {{.PaidBody}}, sig: {{.PaidSig}}};
const cancelled = {body: {{.CancelledBody}}, sig: {{.CancelledSig}}};
async function send(p){
  const res = await fetch("/webhooks/stub", {method:"POST", headers: {"Content-Type":"application/json","X-Signature": p.sig}, body: p.body});
  document.getElementById("out").textContent = await res.text();
}
</script>
</body></html>`
