package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"carrera-bot/internal/models"
)

const (
	KeyPurchase    = "datosCompra"
	KeyPaymentURL  = "zigiPaymentUrl"
	KeyPaymentData = "zigiPaymentData"
	KeyReceipt     = "comprobante"

	// KeySignup belongs to the single-buyer form.
	KeySignup = "purchaseData"
)

var allKeys = []string{KeyPurchase, KeyPaymentURL, KeyPaymentData, KeyReceipt}

// PendingPayment is an alternate-method payment waiting for the buyer to
// complete it outside the flow.
type PendingPayment struct {
	URL string
	Raw json.RawMessage
}

// Receipt is what the success confirmation reads after a card payment.
type Receipt struct {
	Purchase models.PurchaseSession `json:"compra"`
	Outcome  models.PaymentOutcome  `json:"resultado"`
}

// Bridge reads and writes the wizard/payment state as whole JSON values.
// Reads are best-effort: anything missing or unparsable counts as absent.
type Bridge struct {
	store Store
	log   *slog.Logger
}

func NewBridge(store Store, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{store: store, log: log}
}

func (b *Bridge) setJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.store.Set(ctx, key, string(raw)); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (b *Bridge) getJSON(ctx context.Context, key string, v any) bool {
	raw, ok, err := b.store.Get(ctx, key)
	if err != nil {
		b.log.Warn("session read failed", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		b.log.Warn("session data unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (b *Bridge) SavePurchase(ctx context.Context, s models.PurchaseSession) error {
	return b.setJSON(ctx, KeyPurchase, s)
}

func (b *Bridge) LoadPurchase(ctx context.Context) (models.PurchaseSession, bool) {
	var s models.PurchaseSession
	if !b.getJSON(ctx, KeyPurchase, &s) {
		return models.PurchaseSession{}, false
	}
	return s, true
}

func (b *Bridge) SavePendingPayment(ctx context.Context, url string, raw json.RawMessage) error {
	if err := b.store.Set(ctx, KeyPaymentURL, url); err != nil {
		return fmt.Errorf("store %s: %w", KeyPaymentURL, err)
	}
	if len(raw) == 0 {
		return nil
	}
	if err := b.store.Set(ctx, KeyPaymentData, string(raw)); err != nil {
		return fmt.Errorf("store %s: %w", KeyPaymentData, err)
	}
	return nil
}

// LoadPendingPayment returns the stored payment URL. The raw response is
// optional; an unparsable one is dropped.
func (b *Bridge) LoadPendingPayment(ctx context.Context) (PendingPayment, bool) {
	url, ok, err := b.store.Get(ctx, KeyPaymentURL)
	if err != nil {
		b.log.Warn("session read failed", "key", KeyPaymentURL, "error", err)
		return PendingPayment{}, false
	}
	url = strings.TrimSpace(url)
	if !ok || url == "" {
		return PendingPayment{}, false
	}
	p := PendingPayment{URL: url}
	var raw json.RawMessage
	if b.getJSON(ctx, KeyPaymentData, &raw) {
		p.Raw = raw
	}
	return p, true
}

func (b *Bridge) SaveReceipt(ctx context.Context, r Receipt) error {
	return b.setJSON(ctx, KeyReceipt, r)
}

func (b *Bridge) LoadReceipt(ctx context.Context) (Receipt, bool) {
	var r Receipt
	if !b.getJSON(ctx, KeyReceipt, &r) {
		return Receipt{}, false
	}
	return r, true
}

// CompletePurchase moves the active purchase into the receipt slot, so the
// wizard starts fresh while the confirmation can still show what was paid.
func (b *Bridge) CompletePurchase(ctx context.Context, s models.PurchaseSession, outcome models.PaymentOutcome) error {
	if err := b.SaveReceipt(ctx, Receipt{Purchase: s, Outcome: outcome}); err != nil {
		return err
	}
	if err := b.store.Delete(ctx, KeyPurchase); err != nil {
		return fmt.Errorf("delete %s: %w", KeyPurchase, err)
	}
	return nil
}

func (b *Bridge) SaveSignup(ctx context.Context, s models.Signup, total int) error {
	return b.setJSON(ctx, KeySignup, struct {
		models.Signup
		Total int `json:"total"`
	}{s, total})
}

// Clear removes every key of the flow. Deletes are idempotent, so a failure
// half-way is fixed by calling Clear again.
func (b *Bridge) Clear(ctx context.Context) error {
	for _, k := range allKeys {
		if err := b.store.Delete(ctx, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}
