package core

import (
	"errors"
	"strings"
	"time"
)

// Categories offered by the expense form. Stored records are never checked
// against this list; any category string is accepted.
const (
	CategoryFood          = "Food"
	CategoryTravel        = "Travel"
	CategoryShopping      = "Shopping"
	CategoryBills         = "Bills"
	CategoryEntertainment = "Entertainment"
)

// Categories lists the form categories in display order.
var Categories = []string{
	CategoryFood,
	CategoryTravel,
	CategoryShopping,
	CategoryBills,
	CategoryEntertainment,
}

// DateLayout is the plain calendar date format used by forms and filters.
const DateLayout = "2006-01-02"

type (
	// Expense is an owner-scoped financial record.
	Expense struct {
		ID       string
		OwnerID  string
		Amount   Money
		Category string
		Date     time.Time
		Note     string
	}
)

var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidDate   = errors.New("invalid date")
	ErrEmptyCategory = errors.New("empty category")
	ErrEmptyOwner    = errors.New("empty owner")
)

// IsKnownCategory reports whether c is one of the form categories.
func IsKnownCategory(c string) bool {
	for _, known := range Categories {
		if known == c {
			return true
		}
	}
	return false
}

// ParseDate parses a calendar date in YYYY-MM-DD form, falling back to RFC 3339
// for full timestamps.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.Time{}, ErrInvalidDate
}

// DateString renders t as a plain calendar date.
func DateString(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Validate checks the invariants every stored expense must hold.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.OwnerID) == "" {
		return ErrEmptyOwner
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Category) == "" {
		return ErrEmptyCategory
	}
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}
