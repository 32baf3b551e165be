package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks payment registrations, webhook confirmations and ticket
// lookups.
type Metrics struct {
	PaymentsRegistered *prometheus.CounterVec
	PaymentDuration    prometheus.Histogram
	WebhooksReceived   *prometheus.CounterVec
	TicketLookups      *prometheus.CounterVec
	WizardsCompleted   prometheus.Counter
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PaymentsRegistered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carrera_payments_registered_total",
			Help: "Payment registrations by method and result",
		}, []string{"provider", "method", "result"}),
		PaymentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "carrera_payment_register_duration_seconds",
			Help:    "Duration of register-payment calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		WebhooksReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carrera_payment_webhooks_total",
			Help: "Payment webhooks by resulting status",
		}, []string{"status"}),
		TicketLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "carrera_ticket_lookups_total",
			Help: "Ticket lookups by result",
		}, []string{"result"}),
		WizardsCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "carrera_purchases_submitted_total",
			Help: "Purchases that left the participant wizard",
		}),
	}
}

// ObservePayment records one register-payment call. Call with time.Now() at
// the start of the operation.
func (m *Metrics) ObservePayment(provider, method, result string, start time.Time) {
	m.PaymentsRegistered.WithLabelValues(provider, method, result).Inc()
	m.PaymentDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncWebhook(status string) {
	m.WebhooksReceived.WithLabelValues(status).Inc()
}

func (m *Metrics) IncTicketLookup(result string) {
	m.TicketLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) IncWizardCompleted() {
	m.WizardsCompleted.Inc()
}
