// internal/app/row_processor.go
package app

import (
	"context"
	"fmt"
	"time"

	"reminder_dispatcher/internal/domain/dispatch"
	"reminder_dispatcher/internal/domain/phone"

	"github.com/sirupsen/logrus"
)

// RowState is a step of the per-row send workflow.
type RowState int

const (
	RowUnvalidated RowState = iota
	RowInvalidPhone
	RowAttempt1
	RowAttempt2
	RowMediaSend
	RowFinalized
)

func (s RowState) String() string {
	switch s {
	case RowUnvalidated:
		return "unvalidated"
	case RowInvalidPhone:
		return "invalid_phone"
	case RowAttempt1:
		return "attempt_1"
	case RowAttempt2:
		return "attempt_2"
	case RowMediaSend:
		return "media_send"
	case RowFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("row_state(%d)", int(s))
	}
}

func (s RowState) terminal() bool { return s == RowInvalidPhone || s == RowFinalized }

// RowProcessorConfig holds the templates sent to every row.
type RowProcessorConfig struct {
	FirstTemplate  dispatch.TemplateBuilder
	SecondTemplate dispatch.TemplateBuilder
	// FollowUp is optional; a nil builder or a nil result skips the media step.
	FollowUp          func(row dispatch.Row) *dispatch.MediaMessage
	InterMessageDelay time.Duration
}

// RowProcessor runs validate → template 1 → template 2 → optional media for one row.
// Any failure in the template sequence marks the row as an invalid number;
// send errors never escape Process.
type RowProcessor struct {
	cfg      RowProcessorConfig
	sender   dispatch.Sender
	retrier  *Retrier
	keyer    *phone.Keyer
	activity *ActivityLog
	logger   *logrus.Entry
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewRowProcessor(
	cfg RowProcessorConfig,
	sender dispatch.Sender,
	retrier *Retrier,
	keyer *phone.Keyer,
	activity *ActivityLog,
	logger *logrus.Entry,
) *RowProcessor {
	return &RowProcessor{
		cfg:      cfg,
		sender:   sender,
		retrier:  retrier,
		keyer:    keyer,
		activity: activity,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// rowRun is the state carried between transitions of one row.
type rowRun struct {
	row      dispatch.Row
	raw      string
	sendTo   string
	key      string
	label    dispatch.Label
	trail    []RowState
	activity []LogEntry
}

func (run *rowRun) note(message string, typ EntryType) {
	run.activity = append(run.activity, LogEntry{Timestamp: time.Now(), Phone: run.key, Message: message, Type: typ})
}

type rowTransition func(ctx context.Context, run *rowRun) RowState

func (p *RowProcessor) transitions() map[RowState]rowTransition {
	return map[RowState]rowTransition{
		RowUnvalidated: p.validate,
		RowAttempt1:    p.sendFirst,
		RowAttempt2:    p.sendSecond,
		RowMediaSend:   p.sendFollowUp,
	}
}

// Process runs the workflow for one row and returns its provisional record.
func (p *RowProcessor) Process(ctx context.Context, row dispatch.Row) dispatch.RowRecord {
	record, _ := p.process(ctx, row)
	return record
}

func (p *RowProcessor) process(ctx context.Context, row dispatch.Row) (dispatch.RowRecord, []RowState) {
	run := &rowRun{
		row:   row,
		raw:   row.Get(dispatch.FieldPhone),
		label: dispatch.LabelMessagesSent,
	}
	steps := p.transitions()
	state := RowUnvalidated
	for !state.terminal() {
		run.trail = append(run.trail, state)
		step, ok := steps[state]
		if !ok {
			p.logger.WithField("state", state.String()).Error("No transition for row state")
			run.label = dispatch.LabelInvalidNumber
			break
		}
		state = step(ctx, run)
	}
	run.trail = append(run.trail, state)

	for _, entry := range run.activity {
		p.activity.Add(entry)
	}
	return p.record(run), run.trail
}

func (p *RowProcessor) validate(_ context.Context, run *rowRun) RowState {
	if run.raw != "" {
		if key, err := p.keyer.KeyForm(run.raw); err == nil {
			run.key = key
		}
	}
	if run.raw == "" || !p.keyer.Valid(run.raw) {
		run.label = dispatch.LabelInvalidNumber
		if run.raw != "" {
			if run.key == "" {
				run.key = run.raw
			}
			run.note("invalid local format", EntryError)
			p.logger.WithField("phone", run.raw).Warn("Row phone failed format validation")
		}
		return RowInvalidPhone
	}
	run.sendTo = "+" + run.key
	return RowAttempt1
}

func (p *RowProcessor) sendTemplate(ctx context.Context, run *rowRun, build dispatch.TemplateBuilder, step string) error {
	if build == nil {
		return fmt.Errorf("%s template is not configured", step)
	}
	msg := build(run.row)
	_, err := Execute(ctx, p.retrier, func(ctx context.Context) (dispatch.Ack, error) {
		return p.sender.SendTemplate(ctx, run.sendTo, msg)
	})
	if err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{"phone": run.sendTo, "template": msg.Name}).Errorf("Failed to send %s template", step)
		run.note(fmt.Sprintf("%s template failed: %v", step, err), EntryError)
		return err
	}
	return nil
}

func (p *RowProcessor) sendFirst(ctx context.Context, run *rowRun) RowState {
	if err := p.sendTemplate(ctx, run, p.cfg.FirstTemplate, "first"); err != nil {
		run.label = dispatch.LabelInvalidNumber
		return RowFinalized
	}
	if p.cfg.InterMessageDelay > 0 {
		if err := p.sleep(ctx, p.cfg.InterMessageDelay); err != nil {
			run.label = dispatch.LabelInvalidNumber
			return RowFinalized
		}
	}
	return RowAttempt2
}

func (p *RowProcessor) sendSecond(ctx context.Context, run *rowRun) RowState {
	if err := p.sendTemplate(ctx, run, p.cfg.SecondTemplate, "second"); err != nil {
		run.label = dispatch.LabelInvalidNumber
		return RowFinalized
	}
	run.note("templates sent", EntrySuccess)
	return RowMediaSend
}

// sendFollowUp never changes the label.
func (p *RowProcessor) sendFollowUp(ctx context.Context, run *rowRun) RowState {
	if p.cfg.FollowUp == nil {
		return RowFinalized
	}
	media := p.cfg.FollowUp(run.row)
	if media == nil {
		return RowFinalized
	}
	_, err := Execute(ctx, p.retrier, func(ctx context.Context) (dispatch.Ack, error) {
		if media.Kind == dispatch.MediaDocument {
			return p.sender.SendDocument(ctx, run.sendTo, media.Link, media.Filename)
		}
		return p.sender.SendImage(ctx, run.sendTo, media.Link, media.Caption)
	})
	if err != nil {
		p.logger.WithError(err).WithField("phone", run.sendTo).Warn("Follow-up media failed")
		run.note(fmt.Sprintf("follow-up %s failed", media.Kind), EntryError)
	}
	return RowFinalized
}

func (p *RowProcessor) record(run *rowRun) dispatch.RowRecord {
	return dispatch.RowRecord{
		Phone:        run.key,
		CustomerName: run.row.Get(dispatch.FieldCustomerName),
		AccountID:    run.row.Get(dispatch.FieldAccountID),
		Balance:      run.row.Get(dispatch.FieldBalance),
		RPT:          run.row.Get(dispatch.FieldRPT),
		SellerKey:    run.row.Get(dispatch.FieldSellerKey),
		Status:       run.label,
	}
}
