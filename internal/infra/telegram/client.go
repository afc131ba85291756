// internal/infra/telegram/client.go
package telegram

import (
	domainTelegram "reminder_dispatcher/internal/domain/telegram"

	"gopkg.in/telebot.v3"
)

// TelebotAdapter implements the Client interface using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot *telebot.Bot
}

func NewTelebotAdapter(b *telebot.Bot) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// SendMessage sends a text message to the specified chat, with the actions as one
// row of inline buttons.
func (tba *TelebotAdapter) SendMessage(recipientChatID int64, text string, actions ...domainTelegram.Action) error {
	options := &telebot.SendOptions{}
	if markup := inlineMarkup(actions); markup != nil {
		options.ReplyMarkup = markup
	}

	recipient := &telebot.User{ID: recipientChatID} // operator chats are direct user chats
	_, err := tba.bot.Send(recipient, text, options)
	return err
}

func inlineMarkup(actions []domainTelegram.Action) *telebot.ReplyMarkup {
	if len(actions) == 0 {
		return nil
	}
	markup := &telebot.ReplyMarkup{}
	buttons := make([]telebot.Btn, 0, len(actions))
	for _, a := range actions {
		buttons = append(buttons, markup.Data(a.Label, a.Data))
	}
	markup.Inline(markup.Row(buttons...))
	return markup
}
