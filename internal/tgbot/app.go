package tgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"carrera-bot/internal/config"
	"carrera-bot/internal/confirm"
	"carrera-bot/internal/metrics"
	"carrera-bot/internal/models"
	"carrera-bot/internal/payform"
	"carrera-bot/internal/payments"
	"carrera-bot/internal/session"
	"carrera-bot/internal/wizard"
)

// botAPI is the part of *tgbotapi.BotAPI the app uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Deps struct {
	Config   config.Config
	Provider payments.Provider
	Store    session.Store
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

type App struct {
	cfg     config.Config
	bot     botAPI
	pay     payments.Provider
	store   session.Store
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time

	// runs fn once the restored notice should disappear
	later func(d time.Duration, fn func())

	// chats are only touched from the update loop
	chats     map[int64]*chat
	chatIdle  time.Duration
	sweepTick time.Duration

	mu      sync.Mutex
	txChats map[string]int64
}

// chat is one buyer's walk through the purchase screens.
type chat struct {
	id     int64
	bridge *session.Bridge
	wiz    *wizard.Wizard
	form   *payform.Form
	route  string
	input  userState
	seen   time.Time
}

type userState struct {
	Flow string
	Step int
	Data map[string]string
}

func New(d Deps) (*App, error) {
	if err := d.Config.RequireTelegram(); err != nil {
		return nil, err
	}
	b, err := tgbotapi.NewBotAPI(d.Config.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	b.Debug = d.Config.TelegramDebug
	return newApp(b, d), nil
}

func newApp(b botAPI, d Deps) *App {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &App{
		cfg:       d.Config,
		bot:       b,
		pay:       d.Provider,
		store:     d.Store,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       time.Now,
		later:     func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		chats:     map[int64]*chat{},
		chatIdle:  idleTimeout(d.Config.SessionTTL),
		sweepTick: 10 * time.Minute,
		txChats:   map[string]int64{},
	}
}

const defaultChatIdle = 24 * time.Hour

func idleTimeout(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultChatIdle
	}
	return ttl
}

func (a *App) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := a.bot.GetUpdatesChan(u)
	defer a.bot.StopReceivingUpdates()

	sweep := time.NewTicker(a.sweepTick)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			if n := a.evictIdle(); n > 0 {
				a.log.Debug("idle chats evicted", "count", n, "active", len(a.chats))
			}
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram: updates channel closed")
			}
			if upd.Message != nil {
				if err := a.handleMessage(ctx, upd.Message); err != nil {
					a.log.Error("handle message", "chat_id", upd.Message.Chat.ID, "error", err)
				}
			} else if upd.CallbackQuery != nil {
				if err := a.handleCallback(ctx, upd.CallbackQuery); err != nil {
					a.log.Error("handle callback", "data", upd.CallbackQuery.Data, "error", err)
				}
			}
		}
	}
}

func (a *App) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	_, err := a.bot.Send(msg)
	return err
}

// NotifyPayment tells the buyer who started txID how the payment ended.
func (a *App) NotifyPayment(ctx context.Context, txID, status string) {
	a.mu.Lock()
	chatID, ok := a.txChats[txID]
	if ok {
		delete(a.txChats, txID)
	}
	a.mu.Unlock()
	if !ok {
		a.log.Warn("payment for unknown chat", "transaction_id", txID, "status", status)
		return
	}

	var txt string
	switch status {
	case payments.StatusPaid:
		txt = "✅ Recibimos tu pago. Transacción: " + txID + "\nRecibirás la confirmación por correo electrónico."
	case payments.StatusCancelled:
		txt = "⚠️ El pago de la transacción " + txID + " fue cancelado. Puedes intentarlo de nuevo con /comprar."
	default:
		txt = "Estado del pago " + txID + ": " + status
	}
	if err := a.SendText(chatID, txt); err != nil {
		a.log.Error("notify payment", "chat_id", chatID, "transaction_id", txID, "error", err)
	}
}

func (a *App) trackPayment(txID string, chatID int64) {
	if txID == "" {
		return
	}
	a.mu.Lock()
	a.txChats[txID] = chatID
	a.mu.Unlock()
}

// chatFor returns the chat's screens, restoring a stored purchase the first
// time the chat is seen.
func (a *App) chatFor(ctx context.Context, chatID int64) *chat {
	if c, ok := a.chats[chatID]; ok {
		c.seen = a.now()
		return c
	}
	c := &chat{
		id:     chatID,
		bridge: session.NewBridge(session.Scoped(a.store, "tg:"+strconv.FormatInt(chatID, 10)+":"), a.log),
		route:  wizard.RouteHome,
		seen:   a.now(),
	}
	a.chats[chatID] = c
	a.resetWizard(c)
	a.mountWizard(ctx, c)
	if _, ok := c.bridge.LoadPurchase(ctx); ok {
		c.route = wizard.RoutePurchase
	}
	return c
}

// evictIdle forgets chats nobody touched for chatIdle. Their purchase stays
// in the session store and is restored on the next message.
func (a *App) evictIdle() int {
	cutoff := a.now().Add(-a.chatIdle)
	n := 0
	for id, c := range a.chats {
		if c.seen.Before(cutoff) {
			delete(a.chats, id)
			n++
		}
	}
	return n
}

func (a *App) nav(c *chat) wizard.Navigator {
	return func(route string) { c.route = route }
}

func (a *App) resetWizard(c *chat) {
	c.wiz = wizard.New(c.bridge, a.nav(c),
		wizard.WithMaxParticipants(a.cfg.MaxParticipants),
		wizard.WithLogger(a.log.With("chat_id", c.id)),
		wizard.WithClock(func() time.Time { return a.now() }),
	)
	c.form = nil
	c.input = userState{}
}

// mountWizard restores the stored purchase and flashes the restored notice.
func (a *App) mountWizard(ctx context.Context, c *chat) {
	c.wiz.Mount(ctx)
	notice, ok := c.wiz.Notice()
	if !ok {
		return
	}
	sent, err := a.bot.Send(tgbotapi.NewMessage(c.id, "ℹ️ "+notice))
	if err != nil {
		a.log.Warn("send restored notice", "chat_id", c.id, "error", err)
		return
	}
	a.later(wizard.NoticeDuration, func() {
		if _, err := a.bot.Request(tgbotapi.NewDeleteMessage(c.id, sent.MessageID)); err != nil {
			a.log.Debug("delete restored notice", "chat_id", c.id, "error", err)
		}
	})
}

// ---------- Message handling ----------

func (a *App) handleMessage(ctx context.Context, m *tgbotapi.Message) error {
	if m.Chat == nil {
		return nil
	}
	chatID := m.Chat.ID
	txt := strings.TrimSpace(m.Text)

	switch {
	case strings.HasPrefix(txt, "/start"):
		c := a.chatFor(ctx, chatID)
		c.input = userState{}
		c.route = wizard.RouteHome
		return a.show(ctx, c)
	case strings.HasPrefix(txt, "/comprar"):
		c := a.chatFor(ctx, chatID)
		c.input = userState{}
		if c.route == wizard.RouteHome {
			c.route = wizard.RoutePurchase
		}
		return a.show(ctx, c)
	case strings.HasPrefix(txt, "/limpiar"):
		c := a.chatFor(ctx, chatID)
		if err := c.wiz.Clear(ctx); err != nil {
			return err
		}
		a.resetWizard(c)
		c.route = wizard.RoutePurchase
		if err := a.SendText(chatID, "🧹 Se borraron los datos de la compra."); err != nil {
			return err
		}
		return a.show(ctx, c)
	case strings.HasPrefix(txt, "/ticket"):
		return a.showTicket(ctx, chatID, strings.TrimSpace(strings.TrimPrefix(txt, "/ticket")))
	}

	// flow-based input
	c := a.chatFor(ctx, chatID)
	if c.input.Flow != "" {
		return a.handleFlowInput(ctx, c, txt)
	}
	return a.show(ctx, c)
}

func (a *App) showTicket(ctx context.Context, chatID int64, id string) error {
	if id == "" {
		return a.SendText(chatID, "Indica el número de ticket: /ticket <id>")
	}
	t, err := a.pay.GetTicket(ctx, id)
	if err != nil {
		a.log.Info("ticket lookup failed", "ticket_id", id, "error", err)
		return a.SendText(chatID, "No encontramos el ticket "+id+".")
	}
	return a.SendText(chatID, ticketText(t))
}

// ---------- Callbacks ----------

func (a *App) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	// ack
	_, _ = a.bot.Request(tgbotapi.NewCallback(q.ID, ""))

	chatID := int64(0)
	if q.Message != nil && q.Message.Chat != nil {
		chatID = q.Message.Chat.ID
	} else if q.From != nil {
		chatID = q.From.ID
	}
	action, args, ok := parseCallback(q.Data)
	if !ok || chatID == 0 {
		return nil
	}
	c := a.chatFor(ctx, chatID)

	switch action {
	case "home":
		c.input = userState{}
		c.route = wizard.RouteHome
	case "buy":
		c.input = userState{}
		c.route = wizard.RoutePurchase
	case "qty":
		n, err := intArg(args, 0)
		if err != nil {
			return nil
		}
		if err := c.wiz.SetQuantity(n); err != nil {
			return a.SendText(chatID, "No se puede cambiar la compra: "+err.Error())
		}
	case "edit":
		id, err := intArg(args, 0)
		if err != nil {
			return nil
		}
		if c.wiz.State() == wizard.StateEmpty {
			if err := c.wiz.SetQuantity(1); err != nil {
				return err
			}
		}
		if _, ok := c.wiz.Participant(id); !ok {
			return nil
		}
		c.input = userState{Flow: flowParticipant, Data: map[string]string{"id": strconv.Itoa(id)}}
		return a.SendText(chatID, participantPrompt(id, 0))
	case "dist":
		id, err := intArg(args, 0)
		if err != nil || len(args) < 2 {
			return nil
		}
		if err := c.wiz.UpdateField(id, wizard.FieldDistance, args[1]); err != nil {
			return a.SendText(chatID, "No se pudo guardar la distancia: "+err.Error())
		}
		if c.input.Flow == flowParticipant && c.input.Data["id"] == args[0] {
			c.input = userState{}
		}
	case "continue":
		if err := c.wiz.Continue(ctx); err != nil {
			if errors.Is(err, wizard.ErrNotReady) {
				return a.SendText(chatID, "Completa los datos de todos los participantes para continuar.")
			}
			return err
		}
		if a.metrics != nil {
			a.metrics.IncWizardCompleted()
		}
	case "clear":
		if err := c.wiz.Clear(ctx); err != nil {
			return err
		}
		a.resetWizard(c)
		c.route = wizard.RoutePurchase
	case "back":
		c.input = userState{}
		c.route = wizard.RoutePurchase
	case "method":
		n, err := intArg(args, 0)
		if err != nil || c.form == nil {
			return nil
		}
		c.form.SetMethod(models.PaymentMethod(n))
	case "details":
		if c.form == nil {
			return nil
		}
		c.input = userState{Flow: flowContact}
		return a.SendText(chatID, contactSteps(c.form.Details().Method)[0].prompt)
	case "pay":
		return a.submit(ctx, c)
	case "finish":
		if err := confirm.Finalize(ctx, c.bridge, a.nav(c)); err != nil {
			return err
		}
		delete(a.chats, c.id)
		if err := a.SendText(chatID, "🏁 ¡Gracias por tu compra! Nos vemos en la carrera."); err != nil {
			return err
		}
	default:
		return nil
	}
	return a.show(ctx, c)
}

func (a *App) submit(ctx context.Context, c *chat) error {
	if c.form == nil {
		return a.show(ctx, c)
	}
	if c.form.Submitting() {
		return a.SendText(c.id, "⏳ Estamos procesando tu pago…")
	}
	outcome, err := c.form.Submit(ctx)
	if err != nil {
		var verr *payform.ValidationError
		var rej *payform.RejectedError
		switch {
		case errors.As(err, &verr):
			return a.SendText(c.id, "Revisa los datos del pago:\n"+fieldErrorsText(verr.Fields))
		case errors.As(err, &rej):
			return a.SendText(c.id, "❌ "+rej.Message)
		case errors.Is(err, payform.ErrNoPurchase):
			return a.show(ctx, c)
		case errors.Is(err, payform.ErrSubmitting):
			return a.SendText(c.id, "⏳ Estamos procesando tu pago…")
		default:
			a.log.Error("submit payment", "chat_id", c.id, "error", err)
			msg := c.form.LastError()
			if msg == "" {
				msg = err.Error()
			}
			return a.SendText(c.id, "❌ Error al procesar el pago: "+msg)
		}
	}
	if c.route == wizard.RouteQRConfirmation {
		a.trackPayment(outcome.TransactionID, c.id)
	}
	return a.show(ctx, c)
}

// parseCallback splits "u:<action>[:<arg>...]".
func parseCallback(data string) (action string, args []string, ok bool) {
	rest, found := strings.CutPrefix(data, "u:")
	if !found || rest == "" {
		return "", nil, false
	}
	parts := strings.Split(rest, ":")
	return parts[0], parts[1:], true
}

func intArg(args []string, i int) (int, error) {
	if i >= len(args) {
		return 0, errors.New("missing argument")
	}
	return strconv.Atoi(args[i])
}
