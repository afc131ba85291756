package telegram

// Action is an inline button attached to an operator message. Data is what the
// bot receives back when the button is pressed.
type Action struct {
	Label string
	Data  string
}

// ActionFlushRetry asks the bot to retry writing pending sheet changes.
const ActionFlushRetry = "flush_retry"

// Client sends plain text messages to an operator chat.
// Keeps the application layer free of the bot library.
type Client interface {
	SendMessage(recipientChatID int64, text string, actions ...Action) error
}
