package telegram

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/dispatch"
	domainTelegram "reminder_dispatcher/internal/domain/telegram"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// fakeContext implements only the telebot.Context methods the handlers use.
type fakeContext struct {
	telebot.Context
	sender    *telebot.User
	args      []string
	sent      []string
	responses []string
}

func (c *fakeContext) Sender() *telebot.User { return c.sender }
func (c *fakeContext) Args() []string        { return c.args }

func (c *fakeContext) Send(what interface{}, _ ...interface{}) error {
	c.sent = append(c.sent, what.(string))
	return nil
}

func (c *fakeContext) Respond(resp ...*telebot.CallbackResponse) error {
	for _, r := range resp {
		c.responses = append(c.responses, r.Text)
	}
	return nil
}

type fakeAdmin struct {
	adminID  int64
	flushErr error
	flushes  int
	resets   int
	entries  []app.LogEntry
	logsN    int
}

func (f *fakeAdmin) check(id int64) error {
	if id != f.adminID {
		return app.ErrAdminNotAuthorized
	}
	return nil
}

func (f *fakeAdmin) Stats(id int64) (app.Stats, error) {
	if err := f.check(id); err != nil {
		return app.Stats{}, err
	}
	return app.Stats{TrackedRecipients: 4, PendingUpdates: 1, LastBatch: &dispatch.BatchRun{ID: "b-1", Total: 4, Sent: 3, Invalid: 1}}, nil
}

func (f *fakeAdmin) RecentLogs(id int64, n int) ([]app.LogEntry, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	f.logsN = n
	return f.entries, nil
}

func (f *fakeAdmin) RecentBatches(_ context.Context, id int64, _ int) ([]dispatch.BatchRun, error) {
	if err := f.check(id); err != nil {
		return nil, err
	}
	return []dispatch.BatchRun{{ID: "b-2"}, {ID: "b-1"}}, nil
}

func (f *fakeAdmin) Flush(_ context.Context, id int64) error {
	if err := f.check(id); err != nil {
		return err
	}
	f.flushes++
	return f.flushErr
}

func (f *fakeAdmin) Reset(_ context.Context, id int64) error {
	if err := f.check(id); err != nil {
		return err
	}
	f.resets++
	return nil
}

func newTestHandlers(admin *fakeAdmin) *adminHandlers {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &adminHandlers{ctx: context.Background(), admin: admin, logger: logrus.NewEntry(l)}
}

func TestAdminHandlersRejectStrangers(t *testing.T) {
	h := newTestHandlers(&fakeAdmin{adminID: 7})
	for name, handler := range map[string]func(telebot.Context) error{
		"stats": h.stats, "logs": h.logs, "batches": h.batches, "flush": h.flush, "reset": h.reset,
	} {
		c := &fakeContext{sender: &telebot.User{ID: 99}}
		if err := handler(c); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if len(c.sent) != 1 || c.sent[0] != unauthorizedMsg {
			t.Fatalf("%s: expected unauthorized reply, got %v", name, c.sent)
		}
	}
}

func TestAdminHandlersStats(t *testing.T) {
	h := newTestHandlers(&fakeAdmin{adminID: 7})
	c := &fakeContext{sender: &telebot.User{ID: 7}}
	if err := h.stats(c); err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"Tracked recipients: 4", "1 updates", "b-1", "Messages sent: 3"} {
		if !strings.Contains(c.sent[0], want) {
			t.Fatalf("expected %q in %q", want, c.sent[0])
		}
	}
}

func TestAdminHandlersLogsCount(t *testing.T) {
	admin := &fakeAdmin{adminID: 7, entries: []app.LogEntry{
		{Timestamp: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC), Phone: "5216641234567", Message: "templates sent", Type: app.EntrySuccess},
	}}
	h := newTestHandlers(admin)

	c := &fakeContext{sender: &telebot.User{ID: 7}, args: []string{"500"}}
	if err := h.logs(c); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if admin.logsN != maxLogLines {
		t.Fatalf("expected the count capped at %d, got %d", maxLogLines, admin.logsN)
	}
	if c.sent[0] != "09:30:00 [success] 5216641234567: templates sent" {
		t.Fatalf("unexpected log line %q", c.sent[0])
	}

	bad := &fakeContext{sender: &telebot.User{ID: 7}, args: []string{"many"}}
	if err := h.logs(bad); err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.HasPrefix(bad.sent[0], "Invalid format") {
		t.Fatalf("expected a format error, got %q", bad.sent[0])
	}
}

func TestAdminHandlersFlushCallback(t *testing.T) {
	admin := &fakeAdmin{adminID: 7, flushErr: errors.New("quota")}
	h := newTestHandlers(admin)

	c := &fakeContext{sender: &telebot.User{ID: 7}}
	if err := h.flushCallback(c); err != nil {
		t.Fatalf("callback: %v", err)
	}
	if admin.flushes != 1 || c.responses[0] != "Sheet write failed again." {
		t.Fatalf("unexpected callback outcome %v", c.responses)
	}

	admin.flushErr = nil
	c = &fakeContext{sender: &telebot.User{ID: 7}}
	_ = h.flushCallback(c)
	if c.responses[0] != "Pending sheet changes written." {
		t.Fatalf("unexpected callback response %v", c.responses)
	}
}

func TestAdminHandlersReset(t *testing.T) {
	admin := &fakeAdmin{adminID: 7}
	h := newTestHandlers(admin)
	c := &fakeContext{sender: &telebot.User{ID: 7}}
	if err := h.reset(c); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if admin.resets != 1 {
		t.Fatalf("expected one reset, got %d", admin.resets)
	}
}

func TestInlineMarkup(t *testing.T) {
	if inlineMarkup(nil) != nil {
		t.Fatalf("expected no markup without actions")
	}
	markup := inlineMarkup([]domainTelegram.Action{{Label: "Retry sheet write", Data: domainTelegram.ActionFlushRetry}})
	if len(markup.InlineKeyboard) != 1 || len(markup.InlineKeyboard[0]) != 1 {
		t.Fatalf("expected one row with one button, got %+v", markup.InlineKeyboard)
	}
	if btn := markup.InlineKeyboard[0][0]; btn.Text != "Retry sheet write" || btn.Unique != domainTelegram.ActionFlushRetry {
		t.Fatalf("unexpected button %+v", btn)
	}
}
