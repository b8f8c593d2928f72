// Package worker mirrors transaction events into a spreadsheet.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"finboard/internal/amqp"
	"finboard/internal/core"
	applog "finboard/internal/log"
	"finboard/internal/sheets"
)

// Consumer delivers transaction events until its context ends.
type Consumer interface {
	ConsumeTransactionCreated(ctx context.Context, handler amqp.Handler) error
}

// Stats counts handled events.
type Stats struct {
	Mirrored uint64
	Failed   uint64
}

// MirrorWorker appends one sheet row per transaction.created event.
type MirrorWorker struct {
	appender sheets.TransactionAppender
	loc      *time.Location
	logger   *applog.Logger

	mirrored atomic.Uint64
	failed   atomic.Uint64
}

func NewMirrorWorker(appender sheets.TransactionAppender, loc *time.Location, logger *applog.Logger) *MirrorWorker {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = applog.Discard()
	}
	return &MirrorWorker{
		appender: appender,
		loc:      loc,
		logger:   logger.WithComponent(applog.ComponentWorker),
	}
}

// Run consumes events until ctx is cancelled. Cancellation is not an error.
func (w *MirrorWorker) Run(ctx context.Context, c Consumer) error {
	w.logger.InfoContext(ctx, "Mirror worker started")
	err := c.ConsumeTransactionCreated(ctx, w.HandleTransactionCreated)
	if errors.Is(err, context.Canceled) {
		st := w.Stats()
		w.logger.InfoContext(ctx, "Mirror worker stopped", "mirrored", st.Mirrored, "failed", st.Failed)
		return nil
	}
	return err
}

// HandleTransactionCreated mirrors one event. An unparseable transaction
// date falls back to the publish time.
func (w *MirrorWorker) HandleTransactionCreated(ctx context.Context, msg *amqp.TransactionCreated) error {
	date := msg.PublishedAt
	if ts, err := core.ParseTimestamp(msg.Date); err == nil {
		date = ts.In(w.loc)
	} else {
		w.logger.WarnContext(ctx, "Event has an unreadable date, using publish time",
			"message_id", msg.ID, applog.FieldError, err)
	}

	row := sheets.Row{
		MessageID:   msg.ID,
		Date:        date,
		Type:        msg.Type,
		Category:    msg.Category,
		Description: msg.Description,
		Amount:      float64(msg.Amount),
	}
	ref, err := w.appender.AppendTransaction(ctx, row)
	if err != nil {
		w.failed.Add(1)
		return fmt.Errorf("mirror transaction %s: %w", msg.ID, err)
	}
	w.mirrored.Add(1)

	w.logger.InfoContext(ctx, "Transaction event mirrored",
		applog.FieldOperation, applog.OpMirror,
		"message_id", msg.ID,
		"ref", ref)
	return nil
}

func (w *MirrorWorker) Stats() Stats {
	return Stats{Mirrored: w.mirrored.Load(), Failed: w.failed.Load()}
}
