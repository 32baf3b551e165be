package server

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"carrera-bot/internal/config"
	"carrera-bot/internal/ledger"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/payments"
	"carrera-bot/internal/session"
)

// PaymentNotifier is told when a webhook settles a transaction.
type PaymentNotifier func(ctx context.Context, txID, status string)

type Deps struct {
	Config   config.Config
	Provider payments.Provider
	Store    session.Store
	Ledger   ledger.Ledger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Log      *slog.Logger
	Notify   PaymentNotifier
	Now      func() time.Time
}

type handlers struct {
	Deps
	hooks    payments.WebhookHandler
	hasHooks bool
}

func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Ledger == nil {
		d.Ledger = ledger.Nop{}
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notify == nil {
		d.Notify = func(context.Context, string, string) {}
	}
	h := &handlers{Deps: d}
	h.hooks, h.hasHooks = payments.Webhooks(d.Provider)

	r := gin.New()
	r.Use(requestID(), requestLogger(d.Log), gin.Recovery(), cors.New(corsConfig(d.Config.CORSAllowedOrigins)))
	if err := r.SetTrustedProxies(nil); err != nil {
		d.Log.Warn("set trusted proxies", "error", err)
	}
	r.SetHTMLTemplate(template.Must(template.New("pay").Parse(payPageHTML)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ruta no encontrada", "path": c.Request.URL.Path})
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/qr.png", h.qr)

	api := r.Group("/api")
	{
		api.POST("/payment/register", h.registerPayment)
		api.GET("/ticket", h.ticketMissingID)
		api.GET("/ticket/:id", h.ticket)
		api.POST("/signup", h.signup)
	}

	r.GET("/export/purchases.csv", h.exportCSV)

	if h.hasHooks {
		r.GET("/pay/stub", h.payPage)
		r.POST("/webhooks/stub", h.webhook)
	}
	return r
}

func New(d Deps) *http.Server {
	return &http.Server{
		Addr:              d.Config.HTTPAddr,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       20 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", headerSessionID},
		ExposeHeaders:    []string{headerSessionID, headerRequestID},
		AllowCredentials: false,
		MaxAge:           24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
