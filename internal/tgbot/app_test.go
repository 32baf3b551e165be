package tgbot

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carrera-bot/internal/config"
	"carrera-bot/internal/confirm"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/models"
	"carrera-bot/internal/payments/stub"
	"carrera-bot/internal/session"
	"carrera-bot/internal/wizard"
)

const chatID int64 = 7

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	nextID   int
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeBot) StopReceivingUpdates() {}

func (f *fakeBot) last() tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeBot) lastText() string {
	switch m := f.last().(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.PhotoConfig:
		return m.Caption
	case tgbotapi.DocumentConfig:
		return m.Caption
	}
	return ""
}

func (f *fakeBot) allTexts() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b strings.Builder
	for _, c := range f.sent {
		switch m := c.(type) {
		case tgbotapi.MessageConfig:
			b.WriteString(m.Text)
		case tgbotapi.PhotoConfig:
			b.WriteString(m.Caption)
		case tgbotapi.DocumentConfig:
			b.WriteString(m.Caption)
		}
		b.WriteString("\n")
	}
	return b.String()
}

type harness struct {
	app   *App
	bot   *fakeBot
	store *session.MemoryStore
	pay   *stub.Provider
	reg   *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bot:   &fakeBot{},
		store: session.NewMemoryStore(),
		pay:   stub.New("secret", "https://bot.example"),
		reg:   prometheus.NewRegistry(),
	}
	h.app = newApp(h.bot, Deps{
		Config:   config.Config{MaxParticipants: 3},
		Provider: h.pay,
		Store:    h.store,
		Metrics:  metrics.New(h.reg),
	})
	h.app.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	h.app.later = func(_ time.Duration, fn func()) { fn() }
	return h
}

func (h *harness) text(t *testing.T, txt string) {
	t.Helper()
	err := h.app.handleMessage(context.Background(), &tgbotapi.Message{
		Text: txt,
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: chatID},
	})
	require.NoError(t, err)
}

func (h *harness) press(t *testing.T, data string) {
	t.Helper()
	err := h.app.handleCallback(context.Background(), &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		From:    &tgbotapi.User{ID: chatID},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	})
	require.NoError(t, err)
}

func (h *harness) chat() *chat { return h.app.chats[chatID] }

// fillParticipant walks the participant prompts for one runner.
func (h *harness) fillParticipant(t *testing.T, id int, first, last, birth, distance string) {
	t.Helper()
	h.press(t, "u:edit:"+strconv.Itoa(id))
	h.text(t, first)
	h.text(t, last)
	h.text(t, birth)
	h.text(t, "-")
	h.press(t, "u:dist:"+strconv.Itoa(id)+":"+distance)
}

func (h *harness) fillContact(t *testing.T, values ...string) {
	t.Helper()
	h.press(t, "u:details")
	for _, v := range values {
		h.text(t, v)
	}
}

func TestParseCallback(t *testing.T) {
	action, args, ok := parseCallback("u:dist:2:10K")
	require.True(t, ok)
	assert.Equal(t, "dist", action)
	assert.Equal(t, []string{"2", "10K"}, args)

	action, args, ok = parseCallback("u:pay")
	require.True(t, ok)
	assert.Equal(t, "pay", action)
	assert.Empty(t, args)

	_, _, ok = parseCallback("a:stage:1")
	assert.False(t, ok)
	_, _, ok = parseCallback("u:")
	assert.False(t, ok)
}

func TestRendering(t *testing.T) {
	t.Run("mask card", func(t *testing.T) {
		assert.Equal(t, "Visa •••• 1111", maskCard("4111 1111 1111 1111"))
		assert.Equal(t, "-", maskCard(""))
	})

	t.Run("ticket", func(t *testing.T) {
		total := 150.0
		txt := ticketText(&models.Ticket{ID: 3, Code: "MT-0003", Status: models.TicketSold, Platform: 2, FirstName: "Ana", LastName: "López", Distance: "10K", Total: &total})
		assert.Contains(t, txt, "MT-0003")
		assert.Contains(t, txt, "Estado: Vendido")
		assert.Contains(t, txt, "Plataforma: Digital")
		assert.Contains(t, txt, "Participante: Ana López")
		assert.Contains(t, txt, "Total: Q150")
	})

	t.Run("finish keyboard only links absolute urls", func(t *testing.T) {
		kb := finishKeyboard("https://pay.example/1")
		require.Len(t, kb.InlineKeyboard, 2)
		require.NotNil(t, kb.InlineKeyboard[0][0].URL)
		assert.Equal(t, "https://pay.example/1", *kb.InlineKeyboard[0][0].URL)

		assert.Len(t, finishKeyboard("/pay/stub?invoice=x").InlineKeyboard, 1)
	})
}

func TestStartShowsHome(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/start")
	assert.Contains(t, h.bot.lastText(), "Bienvenido")
	assert.Equal(t, wizard.RouteHome, h.chat().route)
}

func TestWizardFlow(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	assert.Contains(t, h.bot.lastText(), "Elige cuántos boletos")

	h.press(t, "u:qty:9")
	assert.Equal(t, 3, h.chat().wiz.Quantity(), "quantity is clamped to the maximum")
	h.press(t, "u:qty:1")

	h.press(t, "u:edit:1")
	assert.Equal(t, "Nombre del participante 1:", h.bot.lastText())
	h.text(t, "Ana")
	h.text(t, "López")
	h.text(t, "ayer")
	assert.Contains(t, h.bot.lastText(), "Fecha inválida")
	h.text(t, "2000-01-15")
	h.text(t, "-")
	assert.Equal(t, "Distancia del participante 1:", h.bot.lastText())
	h.press(t, "u:dist:1:10K")

	assert.Equal(t, wizard.StateValid, h.chat().wiz.State())
	assert.Contains(t, h.bot.lastText(), "Total: Q180")
	assert.Empty(t, h.chat().input.Flow)

	h.press(t, "u:continue")
	assert.Equal(t, wizard.RoutePayment, h.chat().route)
	assert.Contains(t, h.bot.lastText(), "💳 Pago")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.app.metrics.WizardsCompleted))

	_, ok, err := h.store.Get(context.Background(), "tg:7:"+session.KeyPurchase)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestContinueBeforeValid(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	h.press(t, "u:qty:2")
	h.fillParticipant(t, 1, "Ana", "López", "2000-01-15", "5K")
	h.press(t, "u:continue")
	assert.Contains(t, h.bot.lastText(), "Completa los datos")
	assert.Equal(t, wizard.RoutePurchase, h.chat().route)
}

func TestCardPurchase(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	h.press(t, "u:qty:1")
	h.fillParticipant(t, 1, "Ana", "López", "15/01/2000", "5K")
	h.press(t, "u:continue")

	t.Run("declined card keeps the form", func(t *testing.T) {
		h.fillContact(t, "Ana López", "ana@example.com", "55551234", "Zona 10", "4000 0000 0000 0002", "ana lopez", "1230", "123")
		h.press(t, "u:pay")
		assert.Equal(t, "❌ Tarjeta rechazada", h.bot.lastText())
		assert.Equal(t, wizard.RoutePayment, h.chat().route)
	})

	t.Run("accepted card sends the receipt", func(t *testing.T) {
		h.fillContact(t, "Ana López", "ana@example.com", "55551234", "Zona 10", "4111111111111111", "ana lopez", "1230", "123")
		h.press(t, "u:pay")
		assert.Equal(t, wizard.RouteConfirmation, h.chat().route)

		doc, ok := h.bot.last().(tgbotapi.DocumentConfig)
		require.True(t, ok, "receipt document is sent last")
		assert.Equal(t, "Comprobante de pago", doc.Caption)
		assert.Contains(t, h.bot.allTexts(), "¡Pago Exitoso!")
	})

	t.Run("finalize clears the session", func(t *testing.T) {
		h.press(t, "u:finish")
		assert.Nil(t, h.chat(), "finished chats are forgotten")
		assert.Contains(t, h.bot.lastText(), "Bienvenido")
		for _, k := range []string{session.KeyPurchase, session.KeyReceipt, session.KeyPaymentURL, session.KeyPaymentData} {
			_, ok, err := h.store.Get(context.Background(), "tg:7:"+k)
			require.NoError(t, err)
			assert.False(t, ok, k)
		}
	})
}

func TestQRPurchaseAndNotification(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	h.press(t, "u:qty:1")
	h.fillParticipant(t, 1, "Ana", "López", "2000-01-15", "10K")
	h.press(t, "u:continue")
	h.press(t, "u:method:2")
	h.fillContact(t, "Ana López", "ana@example.com", "55551234", "Zona 10")
	h.press(t, "u:pay")

	require.Equal(t, wizard.RouteQRConfirmation, h.chat().route)
	n := len(h.bot.sent)
	require.GreaterOrEqual(t, n, 2)
	photo, ok := h.bot.sent[n-2].(tgbotapi.PhotoConfig)
	require.True(t, ok, "QR photo precedes the details")
	assert.Equal(t, "¡Compra Registrada Exitosamente!\nEscanea el código para pagar Q180.", photo.Caption)
	details, ok := h.bot.sent[n-1].(tgbotapi.MessageConfig)
	require.True(t, ok, "details follow as text")
	assert.Contains(t, details.Text, "¡Compra Registrada Exitosamente!")
	assert.Contains(t, details.Text, "https://bot.example/pay/stub?invoice=")
	assert.NotNil(t, details.ReplyMarkup)

	require.Len(t, h.app.txChats, 1)
	var txID string
	for id := range h.app.txChats {
		txID = id
	}

	h.app.NotifyPayment(context.Background(), txID, "paid")
	assert.Contains(t, h.bot.lastText(), "Recibimos tu pago")
	assert.Empty(t, h.app.txChats)

	before := len(h.bot.sent)
	h.app.NotifyPayment(context.Background(), txID, "paid")
	assert.Len(t, h.bot.sent, before, "a transaction is notified once")
}

func TestPendingCaptionFitsPhotoLimit(t *testing.T) {
	v := confirm.View{Pending: true, Total: 9000, PaymentURL: "https://bot.example/pay/" + strings.Repeat("x", 900)}
	for i := 1; i <= 50; i++ {
		v.Lines = append(v.Lines, confirm.Line{ID: i, Name: strings.Repeat("Ñandú ", 8), Distance: models.Distance10K, IPU: strings.Repeat("9", 20), Price: 180})
	}
	require.Greater(t, len(utf16.Encode([]rune(v.Text()))), 1024, "details alone would overflow a caption")
	assert.LessOrEqual(t, len(utf16.Encode([]rune(pendingCaption(v)))), 1024)
}

func TestReturnToPurchaseAfterContinue(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	h.press(t, "u:qty:1")
	h.fillParticipant(t, 1, "Ana", "López", "2000-01-15", "5K")
	h.press(t, "u:continue")
	require.Equal(t, wizard.StateSubmitted, h.chat().wiz.State())

	h.text(t, "/start")
	h.press(t, "u:buy")
	assert.Equal(t, wizard.RoutePurchase, h.chat().route)
	assert.Equal(t, wizard.StateValid, h.chat().wiz.State(), "stored purchase is editable again")

	h.press(t, "u:qty:2")
	assert.NotContains(t, h.bot.allTexts(), "already submitted")
	w := h.chat().wiz
	assert.Equal(t, 2, w.Quantity())
	assert.Equal(t, wizard.StateEditing, w.State())
	assert.Equal(t, "Ana", w.Participants()[0].FirstName)
	assert.Nil(t, h.chat().form)

	t.Run("back from payment", func(t *testing.T) {
		h.fillParticipant(t, 2, "Luis", "Pérez", "1995-03-02", "10K")
		h.press(t, "u:continue")
		require.Equal(t, wizard.RoutePayment, h.chat().route)
		h.press(t, "u:back")
		h.press(t, "u:qty:1")
		assert.NotContains(t, h.bot.allTexts(), "already submitted")
		assert.Equal(t, 1, h.chat().wiz.Quantity())
	})
}

func TestEvictIdleChats(t *testing.T) {
	h := newHarness(t)
	start := h.app.now()
	h.text(t, "/comprar")
	h.press(t, "u:qty:1")
	h.fillParticipant(t, 1, "Ana", "López", "2000-01-15", "5K")
	h.press(t, "u:continue")
	require.NotNil(t, h.chat())

	h.app.now = func() time.Time { return start.Add(23 * time.Hour) }
	assert.Zero(t, h.app.evictIdle())
	assert.NotNil(t, h.chat())

	h.app.now = func() time.Time { return start.Add(25 * time.Hour) }
	assert.Equal(t, 1, h.app.evictIdle())
	assert.Nil(t, h.chat())

	h.text(t, "/comprar")
	require.NotNil(t, h.chat())
	assert.Equal(t, 1, h.chat().wiz.Quantity(), "evicted chat restores its stored purchase")
	assert.Equal(t, wizard.StateValid, h.chat().wiz.State())
	assert.Equal(t, wizard.RoutePurchase, h.chat().route)
}

func TestRestoredNotice(t *testing.T) {
	h := newHarness(t)
	b := session.NewBridge(session.Scoped(h.store, "tg:7:"), nil)
	require.NoError(t, b.SavePurchase(context.Background(), models.PurchaseSession{
		Participants: []models.Participant{{ID: 1, FirstName: "Ana", LastName: "López", Distance: models.Distance5K, BirthDate: time.Date(2000, 1, 15, 0, 0, 0, 0, time.UTC)}},
		Quantity:     1,
	}))

	h.text(t, "/comprar")
	assert.Contains(t, h.bot.allTexts(), wizard.RestoredNotice)
	assert.Equal(t, wizard.StateValid, h.chat().wiz.State())

	var deleted bool
	for _, r := range h.bot.requests {
		if _, ok := r.(tgbotapi.DeleteMessageConfig); ok {
			deleted = true
		}
	}
	assert.True(t, deleted, "notice is removed after it expires")
}

func TestClearCommand(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/comprar")
	h.press(t, "u:qty:1")
	h.fillParticipant(t, 1, "Ana", "López", "2000-01-15", "5K")
	h.press(t, "u:continue")

	h.text(t, "/limpiar")
	assert.Equal(t, wizard.RoutePurchase, h.chat().route)
	assert.Equal(t, wizard.StateEmpty, h.chat().wiz.State())
	_, ok, err := h.store.Get(context.Background(), "tg:7:"+session.KeyPurchase)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTicketCommand(t *testing.T) {
	h := newHarness(t)
	h.text(t, "/ticket")
	assert.Contains(t, h.bot.lastText(), "/ticket <id>")

	h.text(t, "/ticket 99")
	assert.Equal(t, "No encontramos el ticket 99.", h.bot.lastText())

	_, err := h.pay.RegisterPayment(context.Background(), models.PaymentRequest{
		Quantity:      1,
		Participants:  []models.APIParticipant{{FirstName: "Ana", LastName: "López", Distance: "5K"}},
		PaymentMethod: models.MethodAlternateQR,
	})
	require.NoError(t, err)
	h.text(t, "/ticket 1")
	assert.Contains(t, h.bot.lastText(), "MT-0001")
	assert.Contains(t, h.bot.lastText(), "Pendiente de Pago")
}
