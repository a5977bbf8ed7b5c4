// Package export copies each user's expenses to a Google spreadsheet.
//
// Every owner gets a tab named after their id. A re-export rewrites the whole
// tab from the current store contents, so replaying a change is harmless.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendly/internal/core"
	"spendly/internal/events"
	"spendly/internal/feed"
	"spendly/internal/log"
	"spendly/internal/store"
)

// Header is the first row of every exported tab.
var Header = []any{"Date", "Category", "Amount", "Note", "ID"}

// TabWriter replaces the content of a spreadsheet tab.
type TabWriter interface {
	ReplaceTab(ctx context.Context, tab string, rows [][]any) error
}

// Reader is the part of the document store the exporter reads.
type Reader interface {
	Get(ctx context.Context, collection, id string) (store.Document, error)
	Query(ctx context.Context, q store.Query) ([]store.Document, error)
}

type Exporter struct {
	store  Reader
	sheets TabWriter
	logger *log.Logger
	now    func() time.Time
}

func NewExporter(r Reader, w TabWriter, logger *log.Logger) *Exporter {
	return &Exporter{
		store:  r,
		sheets: w,
		logger: logger.WithComponent(log.ComponentExport),
		now:    time.Now,
	}
}

// Rows renders expenses as sheet rows, header first.
func Rows(expenses []core.Expense) [][]any {
	rows := make([][]any, 0, len(expenses)+1)
	rows = append(rows, Header)
	for _, e := range expenses {
		rows = append(rows, []any{core.DateString(e.Date), e.Category, e.Amount.Float(), e.Note, e.ID})
	}
	return rows
}

// Export rewrites ownerID's tab and returns the number of expenses written.
func (x *Exporter) Export(ctx context.Context, ownerID string) (int, error) {
	if ownerID == "" {
		return 0, core.ErrEmptyOwner
	}
	docs, err := x.store.Query(ctx, feed.OwnerQuery(ownerID))
	if err != nil {
		return 0, fmt.Errorf("query expenses: %w", err)
	}

	now := x.now()
	expenses := make([]core.Expense, 0, len(docs))
	for _, doc := range docs {
		e, _, err := feed.Normalize(doc, now)
		if err != nil {
			x.logger.WarnContext(ctx, "Skipping unreadable expense in export",
				log.FieldOwnerID, ownerID, log.FieldDocumentID, doc.ID, log.FieldError, err)
			continue
		}
		expenses = append(expenses, e)
	}

	if err := x.sheets.ReplaceTab(ctx, ownerID, Rows(expenses)); err != nil {
		return 0, err
	}
	x.logger.InfoContext(ctx, "Expenses exported",
		log.FieldOwnerID, ownerID, log.FieldCount, len(expenses), log.FieldOperation, log.OpExport)
	return len(expenses), nil
}

// Worker re-exports an owner whenever one of their expenses changes.
type Worker struct {
	exporter *Exporter
	logger   *log.Logger
}

func NewWorker(x *Exporter, logger *log.Logger) *Worker {
	return &Worker{exporter: x, logger: logger.WithComponent(log.ComponentWorker)}
}

// HandleChange is an events.Handler. Errors are returned so the broker
// redelivers the change.
func (w *Worker) HandleChange(ctx context.Context, c events.Change) error {
	if c.Collection != feed.Collection {
		return nil
	}

	owner := c.Match[feed.FieldOwnerID]
	if owner == "" && c.Op != events.OpDelete {
		doc, err := w.exporter.store.Get(ctx, c.Collection, c.DocumentID)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return fmt.Errorf("load changed expense: %w", err)
		default:
			owner, _ = doc.Fields[feed.FieldOwnerID].(string)
		}
	}
	if owner == "" {
		w.logger.WarnContext(ctx, "Change without owner ignored",
			log.FieldDocumentID, c.DocumentID, log.FieldOperation, log.OpConsume)
		return nil
	}

	if _, err := w.exporter.Export(ctx, owner); err != nil {
		return fmt.Errorf("export %s: %w", owner, err)
	}
	return nil
}
