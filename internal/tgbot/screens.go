package tgbot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"carrera-bot/internal/confirm"
	"carrera-bot/internal/models"
	"carrera-bot/internal/payform"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/wizard"
)

// show renders the screen for the chat's current route. Screens that find
// nothing to show navigate elsewhere, so the route is re-read until it settles.
func (a *App) show(ctx context.Context, c *chat) error {
	for i := 0; i < 3; i++ {
		route := c.route
		var err error
		switch route {
		case wizard.RoutePurchase:
			a.reopenWizard(ctx, c)
			err = a.showPurchase(c)
		case wizard.RoutePayment:
			err = a.showPayment(ctx, c)
		case wizard.RouteConfirmation:
			err = a.showSuccess(ctx, c)
		case wizard.RouteQRConfirmation:
			err = a.showPending(ctx, c)
		default:
			err = a.showHome(c)
		}
		if c.route == route {
			return err
		}
	}
	return nil
}

// reopenWizard rebuilds a wizard that already handed its purchase to the
// payment form, so the buyer can edit the stored purchase again.
func (a *App) reopenWizard(ctx context.Context, c *chat) {
	if c.wiz.State() != wizard.StateSubmitted {
		return
	}
	a.resetWizard(c)
	a.mountWizard(ctx, c)
}

func (a *App) showHome(c *chat) error {
	msg := tgbotapi.NewMessage(c.id, "🏃 ¡Bienvenido a la Carrera!\n\nCompra tus boletos para 5K o 10K desde aquí.\n\nComandos: /comprar, /limpiar, /ticket <id>")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🎟 Comprar boletos", "u:buy"),
		),
	)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) showPurchase(c *chat) error {
	msg := tgbotapi.NewMessage(c.id, purchaseText(c.wiz))
	msg.ReplyMarkup = purchaseKeyboard(c.wiz)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) showPayment(ctx context.Context, c *chat) error {
	if c.form == nil {
		c.form = payform.New(c.bridge, a.pay, a.nav(c), a.log.With("chat_id", c.id))
		if err := c.form.Mount(ctx); err != nil {
			c.form = nil
			if errors.Is(err, payform.ErrNoPurchase) {
				return nil
			}
			return err
		}
	}
	msg := tgbotapi.NewMessage(c.id, paymentText(c.form))
	msg.ReplyMarkup = paymentKeyboard(c.form)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) showSuccess(ctx context.Context, c *chat) error {
	v, err := confirm.LoadSuccess(ctx, c.bridge, a.nav(c))
	if err != nil {
		return nil
	}
	c.form = nil
	msg := tgbotapi.NewMessage(c.id, v.Text())
	msg.ReplyMarkup = finishKeyboard("")
	if _, err := a.bot.Send(msg); err != nil {
		return err
	}

	pdf, err := confirm.ReceiptPDF(v, a.now())
	if err != nil {
		a.log.Warn("receipt pdf", "chat_id", c.id, "error", err)
		return nil
	}
	doc := tgbotapi.NewDocument(c.id, tgbotapi.FileBytes{Name: "comprobante.pdf", Bytes: pdf})
	doc.Caption = "Comprobante de pago"
	_, err = a.bot.Send(doc)
	return err
}

func (a *App) showPending(ctx context.Context, c *chat) error {
	v, err := confirm.LoadPending(ctx, c.bridge, a.nav(c))
	if err != nil {
		return nil
	}
	c.form = nil

	png, err := confirm.QRCode(v.PaymentURL, confirm.DefaultQRSize)
	if err != nil {
		a.log.Warn("qr code", "chat_id", c.id, "error", err)
		msg := tgbotapi.NewMessage(c.id, v.Text())
		msg.ReplyMarkup = finishKeyboard(v.PaymentURL)
		_, err := a.bot.Send(msg)
		return err
	}
	photo := tgbotapi.NewPhoto(c.id, tgbotapi.FileBytes{Name: "pago.png", Bytes: png})
	photo.Caption = pendingCaption(v)
	if _, err := a.bot.Send(photo); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(c.id, v.Text())
	msg.ReplyMarkup = finishKeyboard(v.PaymentURL)
	_, err = a.bot.Send(msg)
	return err
}

// pendingCaption stays short; photo captions are capped at 1024 characters.
func pendingCaption(v confirm.View) string {
	return v.Title() + "\nEscanea el código para pagar " + confirm.Money(v.Total) + "."
}

// ---------- Rendering ----------

func purchaseText(w *wizard.Wizard) string {
	var b strings.Builder
	b.WriteString("🎟 Compra de boletos\n")
	fmt.Fprintf(&b, "Participantes: %d (máximo %d)\n", w.Quantity(), w.MaxParticipants())
	if w.Quantity() == 0 {
		b.WriteString("\nElige cuántos boletos quieres comprar.")
		return b.String()
	}

	byID := map[int][]pricing.FieldError{}
	for _, e := range w.Errors() {
		byID[e.ParticipantID] = append(byID[e.ParticipantID], e)
	}
	for _, p := range w.Participants() {
		fmt.Fprintf(&b, "\nParticipante %d  %s\n", p.ID, confirm.Money(pricing.Price(p.Distance)))
		fmt.Fprintf(&b, "Nombre: %s\n", orDash(strings.TrimSpace(p.FirstName+" "+p.LastName)))
		fmt.Fprintf(&b, "Distancia: %s\n", orDash(string(p.Distance)))
		birth := ""
		if !p.BirthDate.IsZero() {
			birth = p.BirthDate.Format("2/1/2006")
		}
		fmt.Fprintf(&b, "Fecha de nacimiento: %s\n", orDash(birth))
		fmt.Fprintf(&b, "IPU: %s\n", orDash(p.IPU))
		for _, e := range byID[p.ID] {
			fmt.Fprintf(&b, "⚠️ %s\n", e.Message)
		}
	}
	fmt.Fprintf(&b, "\nTotal: %s", confirm.Money(w.Total()))
	return b.String()
}

func purchaseKeyboard(w *wizard.Wizard) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	var qty []tgbotapi.InlineKeyboardButton
	for n := 1; n <= w.MaxParticipants(); n++ {
		label := fmt.Sprintf("%d", n)
		if n == w.Quantity() {
			label = "• " + label
		}
		qty = append(qty, tgbotapi.NewInlineKeyboardButtonData(label, fmt.Sprintf("u:qty:%d", n)))
	}
	rows = append(rows, qty)

	for _, p := range w.Participants() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✏️ Participante %d", p.ID), fmt.Sprintf("u:edit:%d", p.ID)),
		))
	}

	var last []tgbotapi.InlineKeyboardButton
	if w.State() == wizard.StateValid {
		last = append(last, tgbotapi.NewInlineKeyboardButtonData("Continuar ➡️", "u:continue"))
	}
	if w.Quantity() > 0 {
		last = append(last, tgbotapi.NewInlineKeyboardButtonData("🧹 Limpiar", "u:clear"))
	}
	last = append(last, tgbotapi.NewInlineKeyboardButtonData("🏠 Inicio", "u:home"))
	rows = append(rows, last)
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func distanceKeyboard(id int) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("5K  "+confirm.Money(pricing.Price(models.Distance5K)), fmt.Sprintf("u:dist:%d:%s", id, models.Distance5K)),
			tgbotapi.NewInlineKeyboardButtonData("10K  "+confirm.Money(pricing.Price(models.Distance10K)), fmt.Sprintf("u:dist:%d:%s", id, models.Distance10K)),
		),
	)
}

func paymentText(f *payform.Form) string {
	d := f.Details()
	var b strings.Builder
	b.WriteString("💳 Pago\n")
	fmt.Fprintf(&b, "Participantes: %d\n", len(f.Purchase().Participants))
	fmt.Fprintf(&b, "Total: %s\n\n", confirm.Money(f.Total()))
	fmt.Fprintf(&b, "Método: %s\n", methodLabel(d.Method))
	fmt.Fprintf(&b, "Nombre: %s\n", orDash(d.ContactName))
	fmt.Fprintf(&b, "Correo: %s\n", orDash(d.Email))
	fmt.Fprintf(&b, "Teléfono: %s\n", orDash(d.Phone))
	fmt.Fprintf(&b, "Dirección: %s\n", orDash(d.Address))
	if d.Method == models.MethodCard && d.Card != nil {
		fmt.Fprintf(&b, "Tarjeta: %s\n", maskCard(d.Card.Number))
	}
	if msg := f.LastError(); msg != "" {
		fmt.Fprintf(&b, "\n❌ %s\n", msg)
	}
	return strings.TrimRight(b.String(), "\n")
}

func paymentKeyboard(f *payform.Form) tgbotapi.InlineKeyboardMarkup {
	card, qr := "💳 Tarjeta", "📱 QR"
	if f.Details().Method == models.MethodAlternateQR {
		qr = "• " + qr
	} else {
		card = "• " + card
	}
	rows := [][]tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(card, fmt.Sprintf("u:method:%d", models.MethodCard)),
			tgbotapi.NewInlineKeyboardButtonData(qr, fmt.Sprintf("u:method:%d", models.MethodAlternateQR)),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✏️ Ingresar datos", "u:details"),
		),
	}
	if f.CanSubmit() {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Pagar "+confirm.Money(f.Total()), "u:pay"),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("⬅️ Volver", "u:back"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// finishKeyboard offers the external payment link (when Telegram can open
// it) and the button that ends the flow.
func finishKeyboard(payURL string) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	if strings.HasPrefix(payURL, "https://") || strings.HasPrefix(payURL, "http://") {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Ir a pagar", payURL),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Finalizar compra", "u:finish"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func ticketText(t *models.Ticket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎫 Ticket %s (#%d)\n", t.Code, t.ID)
	fmt.Fprintf(&b, "Estado: %s\n", t.StatusText())
	fmt.Fprintf(&b, "Plataforma: %s\n", t.PlatformText())
	if name := strings.TrimSpace(t.FirstName + " " + t.LastName); name != "" {
		fmt.Fprintf(&b, "Participante: %s\n", name)
	}
	if t.Distance != "" {
		fmt.Fprintf(&b, "Distancia: %s\n", t.Distance)
	}
	if t.Total != nil {
		fmt.Fprintf(&b, "Total: %s\n", confirm.Money(int(*t.Total)))
	}
	return strings.TrimRight(b.String(), "\n")
}

func fieldErrorsText(errs []pricing.FieldError) string {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		lines = append(lines, "• "+e.Message)
	}
	return strings.Join(lines, "\n")
}

func methodLabel(m models.PaymentMethod) string {
	if m == models.MethodAlternateQR {
		return "Código QR"
	}
	return "Tarjeta"
}

func maskCard(number string) string {
	digits := strings.ReplaceAll(number, " ", "")
	if digits == "" {
		return "-"
	}
	brand, _ := payform.DetectBrand(digits)
	if len(digits) > 4 {
		digits = digits[len(digits)-4:]
	}
	return brand.Name + " •••• " + digits
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
