package payments

import (
	"fmt"
	"log/slog"

	"carrera-bot/internal/api"
	"carrera-bot/internal/config"
	"carrera-bot/internal/payments/stub"
)

func NewProvider(cfg config.Config, log *slog.Logger) (Provider, error) {
	switch cfg.PaymentProvider {
	case "", "api":
		return api.New(cfg.APIBaseURL, api.WithLogger(log)), nil
	case "stub":
		return stub.New(cfg.PaymentWebhookSecret, cfg.BasePublicURL), nil
	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.PaymentProvider)
	}
}
