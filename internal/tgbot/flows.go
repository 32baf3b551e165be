package tgbot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"carrera-bot/internal/models"
	"carrera-bot/internal/payform"
	"carrera-bot/internal/pricing"
	"carrera-bot/internal/wizard"
)

const (
	flowParticipant = "participant"
	flowContact     = "contact"
)

// skipValue leaves an optional field empty.
const skipValue = "-"

var participantSteps = []struct {
	field  wizard.Field
	prompt string
}{
	{wizard.FieldFirstName, "Nombre del participante %d:"},
	{wizard.FieldLastName, "Apellido del participante %d:"},
	{wizard.FieldBirthDate, "Fecha de nacimiento del participante %d (AAAA-MM-DD o DD/MM/AAAA):"},
	{wizard.FieldIPU, "IPU del participante %d (opcional, envía - para omitir):"},
}

func participantPrompt(id, step int) string {
	return fmt.Sprintf(participantSteps[step].prompt, id)
}

type contactStep struct {
	prompt string
	set    func(f *payform.Form, v string)
}

func contactSteps(m models.PaymentMethod) []contactStep {
	steps := []contactStep{
		{"Nombre completo de quien paga:", (*payform.Form).SetContactName},
		{"Correo electrónico:", (*payform.Form).SetEmail},
		{"Teléfono (8 dígitos):", (*payform.Form).SetPhone},
		{"Dirección:", (*payform.Form).SetAddress},
	}
	if m != models.MethodCard {
		return steps
	}
	return append(steps,
		contactStep{"Número de tarjeta:", (*payform.Form).SetCardNumber},
		contactStep{"Nombre del titular (como aparece en la tarjeta):", (*payform.Form).SetCardHolder},
		contactStep{"Vencimiento (MM/YY):", (*payform.Form).SetCardExpiry},
		contactStep{"CVV:", (*payform.Form).SetCardCVV},
	)
}

func (a *App) handleFlowInput(ctx context.Context, c *chat, txt string) error {
	switch c.input.Flow {
	case flowParticipant:
		return a.handleParticipantFlow(ctx, c, txt)
	case flowContact:
		return a.handleContactFlow(ctx, c, txt)
	default:
		c.input = userState{}
		return a.show(ctx, c)
	}
}

func (a *App) handleParticipantFlow(ctx context.Context, c *chat, txt string) error {
	st := c.input
	id, err := strconv.Atoi(st.Data["id"])
	if err != nil {
		c.input = userState{}
		return a.show(ctx, c)
	}

	// distance is normally picked from the keyboard; typed values work too
	if st.Step >= len(participantSteps) {
		d := pricing.ParseDistance(txt)
		if d == models.DistanceUnset {
			return a.askDistance(c.id, id)
		}
		if err := c.wiz.UpdateField(id, wizard.FieldDistance, string(d)); err != nil {
			return a.SendText(c.id, "No se pudo guardar el dato: "+err.Error())
		}
		c.input = userState{}
		return a.show(ctx, c)
	}

	step := participantSteps[st.Step]
	value := txt
	switch step.field {
	case wizard.FieldFirstName, wizard.FieldLastName:
		if value == "" {
			return a.SendText(c.id, participantPrompt(id, st.Step))
		}
	case wizard.FieldBirthDate:
		if wizard.ParseBirthDate(value).IsZero() {
			return a.SendText(c.id, "Fecha inválida. "+participantPrompt(id, st.Step))
		}
	case wizard.FieldIPU:
		if value == skipValue {
			value = ""
		}
	}
	if err := c.wiz.UpdateField(id, step.field, value); err != nil {
		c.input = userState{}
		return a.SendText(c.id, "No se pudo guardar el dato: "+err.Error())
	}

	st.Step++
	c.input = st
	if st.Step < len(participantSteps) {
		return a.SendText(c.id, participantPrompt(id, st.Step))
	}
	return a.askDistance(c.id, id)
}

func (a *App) askDistance(chatID int64, id int) error {
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Distancia del participante %d:", id))
	msg.ReplyMarkup = distanceKeyboard(id)
	_, err := a.bot.Send(msg)
	return err
}

func (a *App) handleContactFlow(ctx context.Context, c *chat, txt string) error {
	if c.form == nil {
		c.input = userState{}
		return a.show(ctx, c)
	}
	steps := contactSteps(c.form.Details().Method)
	st := c.input
	if st.Step >= len(steps) {
		c.input = userState{}
		return a.show(ctx, c)
	}
	if strings.TrimSpace(txt) == "" {
		return a.SendText(c.id, steps[st.Step].prompt)
	}
	steps[st.Step].set(c.form, txt)

	st.Step++
	if st.Step < len(steps) {
		c.input = st
		return a.SendText(c.id, steps[st.Step].prompt)
	}
	c.input = userState{}
	if errs := c.form.Validate(); len(errs) > 0 {
		if err := a.SendText(c.id, "Revisa los datos del pago:\n"+fieldErrorsText(errs)); err != nil {
			return err
		}
	}
	return a.show(ctx, c)
}
