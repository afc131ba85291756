package whatsapp

import (
	"errors"

	"reminder_dispatcher/internal/app"
	"reminder_dispatcher/internal/domain/dispatch"

	"github.com/tidwall/gjson"
)

// ErrMalformedPayload is returned for a webhook body that is not JSON.
var ErrMalformedPayload = errors.New("malformed webhook payload")

// Events is everything a single webhook delivery carries that the dispatcher acts on.
type Events struct {
	Statuses []app.StatusEvent
	Media    []app.MediaEvent
}

// ParseWebhook extracts outbound delivery statuses and inbound image/document
// messages from a Cloud API webhook body. Unknown fields and message types are
// ignored; statuses without a string recipient are skipped.
func ParseWebhook(body []byte) (Events, error) {
	if !gjson.ValidBytes(body) {
		return Events{}, ErrMalformedPayload
	}
	var events Events
	gjson.GetBytes(body, "entry").ForEach(func(_, entry gjson.Result) bool {
		entry.Get("changes").ForEach(func(_, change gjson.Result) bool {
			value := change.Get("value")
			if change.Get("field").String() == "messages" {
				value.Get("messages").ForEach(func(_, msg gjson.Result) bool {
					if ev, ok := mediaEvent(msg); ok {
						events.Media = append(events.Media, ev)
					}
					return true
				})
			}
			value.Get("statuses").ForEach(func(_, st gjson.Result) bool {
				if ev, ok := statusEvent(st); ok {
					events.Statuses = append(events.Statuses, ev)
				}
				return true
			})
			return true
		})
		return true
	})
	return events, nil
}

func mediaEvent(msg gjson.Result) (app.MediaEvent, bool) {
	kind := dispatch.MediaKind(msg.Get("type").String())
	if kind != dispatch.MediaImage && kind != dispatch.MediaDocument {
		return app.MediaEvent{}, false
	}
	id := msg.Get(string(kind) + ".id").String()
	if id == "" {
		return app.MediaEvent{}, false
	}
	return app.MediaEvent{From: msg.Get("from").String(), MediaID: id, Kind: kind}, true
}

func statusEvent(st gjson.Result) (app.StatusEvent, bool) {
	recipient := st.Get("recipient_id")
	if recipient.Type != gjson.String {
		recipient = st.Get("from")
	}
	if recipient.Type != gjson.String {
		return app.StatusEvent{}, false
	}
	ev := app.StatusEvent{RawPhone: recipient.String(), Status: st.Get("status").String()}
	st.Get("errors").ForEach(func(_, e gjson.Result) bool {
		if title := e.Get("title").String(); title != "" {
			ev.Errors = append(ev.Errors, title)
		} else {
			ev.Errors = append(ev.Errors, e.Get("code").String())
		}
		return true
	})
	return ev, true
}
