// Package gateway validates expense form input and writes it to the store.
//
// Every operation produces a user-facing notice. Input is checked before the
// store is touched; store failures collapse into one generic message per
// operation and are never retried. The gateway does not touch the feed: the
// list changes when the next snapshot arrives.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"spendly/internal/core"
	"spendly/internal/feed"
	"spendly/internal/identity"
	"spendly/internal/log"
	"spendly/internal/store"
)

// User-facing messages.
const (
	MsgNotAuthenticated = "Not authenticated."
	MsgMissingFields    = "Fill all required fields."
	MsgInvalidAmount    = "Invalid amount."
	MsgInvalidDate      = "Invalid date."
	MsgAdded            = "Expense added!"
	MsgUpdated          = "Expense updated!"
	MsgDeleted          = "Expense deleted!"
	MsgSaveFailed       = "Error processing expense."
	MsgDeleteFailed     = "Error deleting expense."
)

var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotOwner         = errors.New("expense belongs to another owner")
)

// Fields is the raw expense form.
type Fields struct {
	Amount   string
	Category string
	Date     string
	Note     string
}

// Result tells the caller what to show and how the form should react.
type Result struct {
	Notice    Notice
	ResetForm bool
	ExitEdit  bool
}

// Writer is the part of the document store the gateway needs.
type Writer interface {
	Add(ctx context.Context, collection string, fields store.Fields) (string, error)
	Get(ctx context.Context, collection, id string) (store.Document, error)
	Update(ctx context.Context, collection, id string, fields store.Fields) error
	Delete(ctx context.Context, collection, id string) error
}

type Gateway struct {
	store          Writer
	logger         *log.Logger
	noticeDuration time.Duration
}

func New(w Writer, noticeDuration time.Duration, logger *log.Logger) *Gateway {
	if noticeDuration <= 0 {
		noticeDuration = DefaultNoticeDuration
	}
	return &Gateway{
		store:          w,
		logger:         logger.WithComponent(log.ComponentGateway),
		noticeDuration: noticeDuration,
	}
}

// Validate turns form input into an expense for owner, or returns the message
// describing the first failed check.
func Validate(owner *identity.User, f Fields) (core.Expense, string, error) {
	if owner == nil {
		return core.Expense{}, MsgNotAuthenticated, ErrNotAuthenticated
	}
	if strings.TrimSpace(f.Amount) == "" || strings.TrimSpace(f.Category) == "" || strings.TrimSpace(f.Date) == "" {
		return core.Expense{}, MsgMissingFields, ErrInvalidInput
	}
	amount, err := core.ParseAmount(f.Amount)
	if err != nil {
		return core.Expense{}, MsgInvalidAmount, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	date, err := core.ParseDate(f.Date)
	if err != nil {
		return core.Expense{}, MsgInvalidDate, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	e := core.Expense{
		OwnerID:  owner.ID,
		Amount:   amount,
		Category: strings.TrimSpace(f.Category),
		Date:     date,
		Note:     strings.TrimSpace(f.Note),
	}
	if err := e.Validate(); err != nil {
		switch {
		case errors.Is(err, core.ErrEmptyOwner):
			return core.Expense{}, MsgNotAuthenticated, ErrNotAuthenticated
		case errors.Is(err, core.ErrInvalidAmount):
			return core.Expense{}, MsgInvalidAmount, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		case errors.Is(err, core.ErrInvalidDate):
			return core.Expense{}, MsgInvalidDate, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		default:
			return core.Expense{}, MsgMissingFields, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
	}
	return e, "", nil
}

func documentFields(e core.Expense) store.Fields {
	return store.Fields{
		feed.FieldOwnerID:  e.OwnerID,
		feed.FieldAmount:   json.Number(e.Amount.String()),
		feed.FieldCategory: e.Category,
		feed.FieldDate:     e.Date,
		feed.FieldNote:     e.Note,
	}
}

// Create stores a new expense. On success the form should be cleared.
func (g *Gateway) Create(ctx context.Context, owner *identity.User, f Fields) (Result, error) {
	e, msg, err := Validate(owner, f)
	if err != nil {
		return g.fail(msg), err
	}

	id, err := g.store.Add(ctx, feed.Collection, documentFields(e))
	if err != nil {
		g.logFailure(ctx, log.OpCreate, e, err)
		return g.fail(MsgSaveFailed), fmt.Errorf("create expense: %w", err)
	}

	e.ID = id
	g.logSuccess(ctx, log.OpCreate, e)
	return Result{Notice: g.success(MsgAdded), ResetForm: true}, nil
}

// Update replaces an expense owned by owner. On success edit mode ends.
func (g *Gateway) Update(ctx context.Context, owner *identity.User, id string, f Fields) (Result, error) {
	e, msg, err := Validate(owner, f)
	if err != nil {
		return g.fail(msg), err
	}
	e.ID = id

	if err := g.checkOwner(ctx, owner, id); err != nil {
		g.logFailure(ctx, log.OpUpdate, e, err)
		return g.fail(MsgSaveFailed), err
	}
	if err := g.store.Update(ctx, feed.Collection, id, documentFields(e)); err != nil {
		g.logFailure(ctx, log.OpUpdate, e, err)
		return g.fail(MsgSaveFailed), fmt.Errorf("update expense: %w", err)
	}

	g.logSuccess(ctx, log.OpUpdate, e)
	return Result{Notice: g.success(MsgUpdated), ExitEdit: true}, nil
}

// Delete removes an expense owned by owner.
func (g *Gateway) Delete(ctx context.Context, owner *identity.User, id string) (Result, error) {
	if owner == nil {
		return g.fail(MsgNotAuthenticated), ErrNotAuthenticated
	}
	e := core.Expense{ID: id, OwnerID: owner.ID}

	if err := g.checkOwner(ctx, owner, id); err != nil {
		g.logFailure(ctx, log.OpDelete, e, err)
		return g.fail(MsgDeleteFailed), err
	}
	if err := g.store.Delete(ctx, feed.Collection, id); err != nil {
		g.logFailure(ctx, log.OpDelete, e, err)
		return g.fail(MsgDeleteFailed), fmt.Errorf("delete expense: %w", err)
	}

	g.logSuccess(ctx, log.OpDelete, e)
	return Result{Notice: g.success(MsgDeleted)}, nil
}

func (g *Gateway) checkOwner(ctx context.Context, owner *identity.User, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("load expense: %w", store.ErrNotFound)
	}
	doc, err := g.store.Get(ctx, feed.Collection, id)
	if err != nil {
		return fmt.Errorf("load expense: %w", err)
	}
	if got, _ := doc.Fields[feed.FieldOwnerID].(string); got != owner.ID {
		return fmt.Errorf("%w: %w", store.ErrPermissionDenied, ErrNotOwner)
	}
	return nil
}

func (g *Gateway) success(text string) Notice {
	return Notice{Kind: NoticeSuccess, Text: text, Duration: g.noticeDuration}
}

func (g *Gateway) fail(text string) Result {
	return Result{Notice: Notice{Kind: NoticeError, Text: text, Duration: g.noticeDuration}}
}

func (g *Gateway) logSuccess(ctx context.Context, op string, e core.Expense) {
	fields := log.NewFields().
		WithOperation(op).
		WithExpense(e.OwnerID, e.ID, e.Amount.Cents, e.Category)
	g.logger.InfoContext(ctx, "Expense "+op+" succeeded", fields.ToSlice()...)
}

func (g *Gateway) logFailure(ctx context.Context, op string, e core.Expense, err error) {
	fields := log.NewFields().
		WithOperation(op).
		WithExpense(e.OwnerID, e.ID, e.Amount.Cents, e.Category).
		WithError(err)
	g.logger.ErrorContext(ctx, "Expense "+op+" failed", fields.ToSlice()...)
}
