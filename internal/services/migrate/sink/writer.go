// Package sink writes canonical events to the analytics store
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"fourkeys/internal/core/events"
	perr "fourkeys/internal/platform/errors"
	"fourkeys/internal/platform/logger"
	"fourkeys/internal/platform/store"
	"fourkeys/internal/services/migrate/domain"
)

const columns = "event_type, id, metadata, time_created, signature, msg_id, source"

// Option configures a Writer
type Option func(*Writer)

// WithLogger overrides the context logger
func WithLogger(l logger.Logger) Option {
	return func(w *Writer) { w.log = &l }
}

// Writer performs best effort bulk inserts and existence checks
type Writer struct {
	ch    store.Clickhouse
	table TableRef
	log   *logger.Logger
}

var _ domain.Sink = (*Writer)(nil)

// NewWriter returns a Writer for table
func NewWriter(ch store.Clickhouse, table TableRef, opts ...Option) *Writer {
	w := &Writer{ch: ch, table: table}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *Writer) logf(ctx context.Context) *logger.Logger {
	if w.log != nil {
		return w.log
	}
	return logger.C(ctx)
}

// rowLog is the shape rejected rows are logged in
type rowLog struct {
	EventType   string `json:"event_type"`
	ID          string `json:"id"`
	Metadata    string `json:"metadata"`
	TimeCreated string `json:"time_created"`
	Signature   string `json:"signature"`
	MsgID       string `json:"msg_id"`
	Source      string `json:"source"`
}

func toRowLog(e domain.CanonicalEvent) rowLog {
	return rowLog{
		EventType:   string(e.EventType),
		ID:          e.ID,
		Metadata:    e.Metadata,
		TimeCreated: e.TimeCreated.UTC().Format(events.TimestampLayout),
		Signature:   e.Signature,
		MsgID:       e.MsgID,
		Source:      e.Source,
	}
}

// Insert sends evs as one batch. Rows that fail the row checks are reported
// in the result and logged once; only a failure of the batch itself is an error.
func (w *Writer) Insert(ctx context.Context, evs ...domain.CanonicalEvent) (domain.InsertResult, error) {
	var res domain.InsertResult
	if len(evs) == 0 {
		return res, nil
	}

	batch, err := w.ch.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s (%s)", w.table.Qualified(), columns))
	if err != nil {
		return res, perr.Wrapf(err, perr.ErrorCodeSink, "prepare batch for %s", w.table)
	}

	var (
		rejected []rowLog
		sendable int
	)
	for i, e := range evs {
		if err := checkRow(e); err != nil {
			res.Rejected = append(res.Rejected, domain.RowError{Index: i, Key: e.Key(), Err: err.Error()})
			rejected = append(rejected, toRowLog(e))
			continue
		}
		err := batch.Append(
			string(e.EventType), e.ID, e.Metadata, e.TimeCreated.UTC(), e.Signature, e.MsgID, e.Source,
		)
		if err != nil {
			// a failed append can leave the columnar block uneven, so nothing in it is safe to send
			_ = batch.Abort()
			return res, perr.Wrapf(err, perr.ErrorCodeSink, "append %s to %s", e.Key(), w.table)
		}
		sendable++
	}

	if sendable == 0 {
		_ = batch.Abort()
	} else {
		start := time.Now()
		if err := batch.Send(); err != nil {
			return res, perr.Wrapf(err, perr.ErrorCodeSink, "send %d rows to %s", sendable, w.table)
		}
		res.Sent = sendable
		w.logf(ctx).Debug().
			Int("rows", res.Sent).
			Str("table", w.table.String()).
			Dur("latency", time.Since(start)).
			Msg("sink batch sent")
	}

	if len(rejected) > 0 {
		w.logf(ctx).Warn().
			Str("table", w.table.String()).
			Interface("rows", rejected).
			Interface("errors", res.Rejected).
			Msg("rows not inserted")
	}
	return res, nil
}

// Exists reports whether a row with eventType and id is already in the table
func (w *Writer) Exists(ctx context.Context, eventType events.EventType, id string) (bool, error) {
	q := fmt.Sprintf("SELECT count() FROM %s WHERE event_type = ? AND id = ?", w.table.Qualified())
	rows, err := w.ch.Query(ctx, q, string(eventType), id)
	if err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeSink, "exists %s/%s", eventType, id)
	}
	defer rows.Close()

	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return false, perr.Wrapf(err, perr.ErrorCodeSink, "scan exists %s/%s", eventType, id)
		}
	}
	if err := rows.Err(); err != nil {
		return false, perr.Wrapf(err, perr.ErrorCodeSink, "exists %s/%s", eventType, id)
	}
	return n > 0, nil
}

// checkRow rejects rows the events_raw schema cannot hold
func checkRow(e domain.CanonicalEvent) error {
	switch {
	case e.EventType == "":
		return errors.New("event_type is empty")
	case e.ID == "":
		return errors.New("id is empty")
	case len(e.Signature) != 40:
		return fmt.Errorf("signature has length %d, want 40", len(e.Signature))
	case e.TimeCreated.IsZero():
		return errors.New("time_created is zero")
	case !utf8.ValidString(e.Metadata):
		return errors.New("metadata is not valid utf-8")
	case !json.Valid([]byte(e.Metadata)):
		return errors.New("metadata is not valid json")
	}
	return nil
}
