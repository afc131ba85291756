package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/dispatch"
	domainTelegram "reminder_dispatcher/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	defaultLogLines = 20
	maxLogLines     = 100
	defaultBatches  = 5
	unauthorizedMsg = "Error: you are not allowed to run this command."
)

// AdminOperations is the part of the admin service the bot exposes.
type AdminOperations interface {
	Stats(performingAdminID int64) (app.Stats, error)
	RecentLogs(performingAdminID int64, n int) ([]app.LogEntry, error)
	RecentBatches(ctx context.Context, performingAdminID int64, limit int) ([]dispatch.BatchRun, error)
	Flush(ctx context.Context, performingAdminID int64) error
	Reset(ctx context.Context, performingAdminID int64) error
}

type adminHandlers struct {
	ctx    context.Context
	admin  AdminOperations
	logger *logrus.Entry
}

// RegisterAdminHandlers registers handlers for admin commands and the retry button
// attached to failed batch summaries. Authorization is checked by the service.
func RegisterAdminHandlers(ctx context.Context, b *telebot.Bot, admin AdminOperations, baseLogger *logrus.Entry) {
	h := &adminHandlers{ctx: ctx, admin: admin, logger: baseLogger}
	b.Handle("/stats", h.stats)
	b.Handle("/logs", h.logs)
	b.Handle("/batches", h.batches)
	b.Handle("/flush", h.flush)
	b.Handle("/reset", h.reset)
	b.Handle(&telebot.Btn{Unique: domainTelegram.ActionFlushRetry}, h.flushCallback)
}

func (h *adminHandlers) handlerLogger(c telebot.Context, command string) *logrus.Entry {
	return h.logger.WithFields(logrus.Fields{
		"handler":   command,
		"sender_id": c.Sender().ID,
	})
}

func (h *adminHandlers) stats(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/stats")
	st, err := h.admin.Stats(c.Sender().ID)
	if err != nil {
		return h.fail(c, handlerLogger, err, "Could not read stats")
	}
	handlerLogger.Info("Stats requested")
	return c.Send(FormatStats(st))
}

func (h *adminHandlers) logs(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/logs")
	n, err := countArg(c.Args(), defaultLogLines, maxLogLines)
	if err != nil {
		return c.Send("Invalid format. Use: /logs [count]")
	}
	entries, err := h.admin.RecentLogs(c.Sender().ID, n)
	if err != nil {
		return h.fail(c, handlerLogger, err, "Could not read the activity log")
	}
	if len(entries) == 0 {
		return c.Send("The activity log is empty.")
	}
	return c.Send(FormatLogEntries(entries))
}

func (h *adminHandlers) batches(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/batches")
	n, err := countArg(c.Args(), defaultBatches, maxLogLines)
	if err != nil {
		return c.Send("Invalid format. Use: /batches [count]")
	}
	runs, err := h.admin.RecentBatches(h.ctx, c.Sender().ID, n)
	if err != nil {
		return h.fail(c, handlerLogger, err, "Could not list batches")
	}
	if len(runs) == 0 {
		return c.Send("No batches have run yet.")
	}
	var response strings.Builder
	for i := range runs {
		if i > 0 {
			response.WriteString("\n\n")
		}
		response.WriteString(app.FormatBatchSummary(&runs[i]))
	}
	return c.Send(response.String())
}

func (h *adminHandlers) flush(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/flush")
	if err := h.admin.Flush(h.ctx, c.Sender().ID); err != nil {
		return h.fail(c, handlerLogger, err, "Sheet write failed")
	}
	handlerLogger.Info("Pending sheet writes flushed")
	return c.Send("Pending sheet changes written.")
}

func (h *adminHandlers) reset(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "/reset")
	if err := h.admin.Reset(h.ctx, c.Sender().ID); err != nil {
		return h.fail(c, handlerLogger, err, "Reset failed")
	}
	handlerLogger.Info("Delivery statuses and activity log cleared")
	return c.Send("Delivery statuses and activity log cleared.")
}

func (h *adminHandlers) flushCallback(c telebot.Context) error {
	handlerLogger := h.handlerLogger(c, "flush_retry_button")
	if err := h.admin.Flush(h.ctx, c.Sender().ID); err != nil {
		if errors.Is(err, app.ErrAdminNotAuthorized) {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Respond(&telebot.CallbackResponse{Text: unauthorizedMsg})
		}
		handlerLogger.WithError(err).Error("Retry of sheet write failed")
		return c.Respond(&telebot.CallbackResponse{Text: "Sheet write failed again."})
	}
	return c.Respond(&telebot.CallbackResponse{Text: "Pending sheet changes written."})
}

func (h *adminHandlers) fail(c telebot.Context, handlerLogger *logrus.Entry, err error, what string) error {
	if errors.Is(err, app.ErrAdminNotAuthorized) {
		handlerLogger.Warn("Unauthorized access attempt")
		return c.Send(unauthorizedMsg)
	}
	handlerLogger.WithError(err).Error(what)
	return c.Send(fmt.Sprintf("%s: %s", what, err.Error()))
}

func countArg(args []string, def, limit int) (int, error) {
	if len(args) == 0 {
		return def, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q", args[0])
	}
	if n > limit {
		n = limit
	}
	return n, nil
}

// FormatStats renders a stats snapshot for the operator chat.
func FormatStats(st app.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tracked recipients: %d\n", st.TrackedRecipients)
	fmt.Fprintf(&b, "Rows in queue: %d\n", st.QueuedRows)
	fmt.Fprintf(&b, "Pending sheet writes: %d updates, %d inserts\n", st.PendingUpdates, st.PendingInserts)
	fmt.Fprintf(&b, "Receipts received: %d", st.Receipts)
	if st.LastBatch != nil {
		b.WriteString("\n\nLast batch:\n")
		b.WriteString(app.FormatBatchSummary(st.LastBatch))
	}
	return b.String()
}

// FormatLogEntries renders activity entries one per line.
func FormatLogEntries(entries []app.LogEntry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s [%s] %s: %s", e.Timestamp.Format("15:04:05"), e.Type, e.Phone, e.Message)
	}
	return b.String()
}
