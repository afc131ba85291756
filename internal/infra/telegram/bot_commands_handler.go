// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(b *telebot.Bot, adminTelegramID int64, baseLogger *logrus.Entry) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", senderID)
		logCtx.Info("Processing /start command")

		if senderID == adminTelegramID {
			return c.Send(fmt.Sprintf("Hello %s! Batch summaries will arrive here. Use /help for the command list.", c.Sender().FirstName))
		}
		logCtx.Info("User is unknown")
		return c.Send("This bot only talks to the dispatcher operator.")
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		if senderID != adminTelegramID {
			return c.Send("No commands are available to you.")
		}
		return c.Send(adminHelpText(), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func adminHelpText() string {
	var helpText strings.Builder
	helpText.WriteString("Operator commands:\n\n")
	helpText.WriteString("`/stats`\n - Queue, delivery tracking and last batch summary.\n\n")
	helpText.WriteString("`/logs [count]`\n - Newest entries of the activity log.\n\n")
	helpText.WriteString("`/batches [count]`\n - Recent batch runs.\n\n")
	helpText.WriteString("`/flush`\n - Retry writing pending changes to the sheet.\n\n")
	helpText.WriteString("`/reset`\n - Forget delivery statuses and clear the activity log.\n\n")
	helpText.WriteString("`/help`\n - Show this message.")
	return helpText.String()
}
