package app

import (
	"time"

	"reminder_dispatcher/internal/domain/dispatch"
)

const (
	ReminderTemplate    = "auto_pay_reminder_cobranza_3"
	DirectDebitTemplate = "domiciliar_cobranza"
	TemplateLanguage    = "es_MX"

	missingValue = "N/A"
)

// CollectionTemplates returns the payment reminder sequence: a reminder with the
// customer's account details followed by the direct debit offer. A non-empty
// followUpImage is sent as an image after both templates.
func CollectionTemplates(headerImage, followUpImage string, interMessageDelay time.Duration) RowProcessorConfig {
	cfg := RowProcessorConfig{
		FirstTemplate: func(row dispatch.Row) dispatch.TemplateMessage {
			return dispatch.TemplateMessage{
				Name:     ReminderTemplate,
				Language: TemplateLanguage,
				Components: []dispatch.Component{
					{
						Type:       "header",
						Parameters: []dispatch.Parameter{{Type: "image", Image: &dispatch.Media{Link: headerImage}}},
					},
					{
						Type: "body",
						Parameters: []dispatch.Parameter{
							textParam(row.GetOr(dispatch.FieldCustomerName, missingValue)),
							textParam(row.GetOr(dispatch.FieldAccountID, missingValue)),
							textParam(row.GetOr(dispatch.FieldDueDate, missingValue)),
							textParam(row.GetOr(dispatch.FieldBalance, missingValue)),
						},
					},
				},
			}
		},
		SecondTemplate: func(dispatch.Row) dispatch.TemplateMessage {
			return dispatch.TemplateMessage{
				Name:       DirectDebitTemplate,
				Language:   TemplateLanguage,
				Components: []dispatch.Component{{Type: "body", Parameters: []dispatch.Parameter{}}},
			}
		},
		InterMessageDelay: interMessageDelay,
	}
	if followUpImage != "" {
		cfg.FollowUp = func(dispatch.Row) *dispatch.MediaMessage {
			return &dispatch.MediaMessage{Kind: dispatch.MediaImage, Link: followUpImage}
		}
	}
	return cfg
}

func textParam(text string) dispatch.Parameter {
	return dispatch.Parameter{Type: "text", Text: text}
}
