package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/store"
)

// Stored expense field names.
const (
	FieldOwnerID  = "ownerId"
	FieldAmount   = "amount"
	FieldCategory = "category"
	FieldDate     = "date"
	FieldNote     = "note"
)

var ErrMissingAmount = errors.New("missing amount")

// Normalize turns a stored expense document into a typed record.
//
// The date is taken from a store timestamp, a time value or a date string. A
// document with no date at all gets now and dateDefaulted is true; a date that
// is present but unreadable fails the record like a bad amount does.
func Normalize(doc store.Document, now time.Time) (e core.Expense, dateDefaulted bool, err error) {
	e = core.Expense{
		ID:       doc.ID,
		OwnerID:  stringField(doc.Fields, FieldOwnerID),
		Category: stringField(doc.Fields, FieldCategory),
		Note:     stringField(doc.Fields, FieldNote),
	}

	e.Amount, err = amountOf(doc.Fields[FieldAmount])
	if err != nil {
		return core.Expense{}, false, fmt.Errorf("expense %s: %w", doc.ID, err)
	}

	raw, ok := doc.Fields[FieldDate]
	if !ok || raw == nil || raw == "" {
		e.Date = now.UTC()
		return e, true, nil
	}
	e.Date, err = dateOf(raw)
	if err != nil {
		return core.Expense{}, false, fmt.Errorf("expense %s: %w", doc.ID, err)
	}
	return e, false, nil
}

func stringField(f store.Fields, key string) string {
	s, _ := f[key].(string)
	return s
}

func amountOf(v any) (core.Money, error) {
	switch a := v.(type) {
	case nil:
		return core.Money{}, ErrMissingAmount
	case json.Number:
		d, err := decimal.NewFromString(a.String())
		if err != nil {
			return core.Money{}, core.ErrInvalidAmount
		}
		return core.MoneyFromDecimal(d)
	case float64:
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return core.Money{}, core.ErrInvalidAmount
		}
		return core.MoneyFromDecimal(decimal.NewFromFloat(a))
	case int:
		return core.MoneyFromDecimal(decimal.NewFromInt(int64(a)))
	case int64:
		return core.MoneyFromDecimal(decimal.NewFromInt(a))
	case string:
		if strings.TrimSpace(a) == "" {
			return core.Money{}, ErrMissingAmount
		}
		return core.ParseAmount(a)
	default:
		return core.Money{}, core.ErrInvalidAmount
	}
}

func dateOf(v any) (time.Time, error) {
	switch d := v.(type) {
	case store.Timestamp:
		return d.ToTime(), nil
	case time.Time:
		return d.UTC(), nil
	case string:
		t, err := core.ParseDate(d)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	default:
		return time.Time{}, core.ErrInvalidDate
	}
}
