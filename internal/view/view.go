// Package view derives what the dashboard shows from an expense snapshot.
//
// Everything here is a pure function of the snapshot and the user's view
// state: filtering and sorting shape the list, while the summary and the
// category totals always cover the whole snapshot.
package view

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"spendly/internal/core"
)

type SortOrder string

const (
	SortDateDesc   SortOrder = "date_desc"
	SortDateAsc    SortOrder = "date_asc"
	SortAmountDesc SortOrder = "amount_desc"
	SortAmountAsc  SortOrder = "amount_asc"
)

// SortOrders lists the orders in the order the sort menu shows them.
var SortOrders = []SortOrder{SortDateDesc, SortDateAsc, SortAmountDesc, SortAmountAsc}

type ChartType string

const (
	ChartPie      ChartType = "pie"
	ChartDoughnut ChartType = "doughnut"
	ChartBar      ChartType = "bar"
	ChartLine     ChartType = "line"
)

var ChartTypes = []ChartType{ChartPie, ChartDoughnut, ChartBar, ChartLine}

// Palette colors chart slices in category order, wrapping around.
var Palette = []string{"#FF6384", "#36A2EB", "#FFCE56", "#4BC0C0", "#9966FF", "#8A2BE2", "#00FA9A"}

// Filter holds the active list predicates. Zero values are inactive.
type Filter struct {
	Category string
	Start    *time.Time
	End      *time.Time
	Search   string
}

// State is the dashboard's view state.
type State struct {
	Filter Filter
	Sort   SortOrder
	Chart  ChartType
}

// DefaultState shows everything, newest first, as a pie chart.
func DefaultState() State {
	return State{Sort: SortDateDesc, Chart: ChartPie}
}

// ParseState reads view state from query or form values. Unknown or invalid
// values fall back to their defaults. The search term is kept verbatim, so a
// search of spaces matches notes containing them.
func ParseState(v url.Values) State {
	s := DefaultState()
	s.Filter.Category = strings.TrimSpace(v.Get("category"))
	s.Filter.Search = v.Get("search")
	if t, err := core.ParseDate(v.Get("start")); err == nil {
		s.Filter.Start = &t
	}
	if t, err := core.ParseDate(v.Get("end")); err == nil {
		s.Filter.End = &t
	}
	if o := SortOrder(v.Get("sort")); slices.Contains(SortOrders, o) {
		s.Sort = o
	}
	if c := ChartType(v.Get("chart")); slices.Contains(ChartTypes, c) {
		s.Chart = c
	}
	return s
}

// Values encodes s back into query values.
func (s State) Values() url.Values {
	v := url.Values{}
	if s.Filter.Category != "" {
		v.Set("category", s.Filter.Category)
	}
	if s.Filter.Search != "" {
		v.Set("search", s.Filter.Search)
	}
	if s.Filter.Start != nil {
		v.Set("start", core.DateString(*s.Filter.Start))
	}
	if s.Filter.End != nil {
		v.Set("end", core.DateString(*s.Filter.End))
	}
	v.Set("sort", string(s.Sort))
	v.Set("chart", string(s.Chart))
	return v
}

// Reset clears the filters and keeps the sort order and chart type.
func (s State) Reset() State {
	s.Filter = Filter{}
	return s
}

// Active reports whether any filter predicate is set.
func (f Filter) Active() bool {
	return f.Category != "" || f.Start != nil || f.End != nil || f.Search != ""
}

// Matches reports whether e passes every active predicate. The end date
// covers the whole end day.
func (f Filter) Matches(e core.Expense) bool {
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	if f.Start != nil && e.Date.Before(*f.Start) {
		return false
	}
	if f.End != nil && !e.Date.Before(endOfDay(*f.End)) {
		return false
	}
	if f.Search != "" {
		if e.Note == "" || !strings.Contains(strings.ToLower(e.Note), strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Apply filters and sorts a copy of expenses. The input is never modified.
func Apply(expenses []core.Expense, f Filter, order SortOrder) []core.Expense {
	var out []core.Expense
	if f.Active() {
		out = make([]core.Expense, 0, len(expenses))
		for _, e := range expenses {
			if f.Matches(e) {
				out = append(out, e)
			}
		}
	} else {
		out = slices.Clone(expenses)
	}
	slices.SortStableFunc(out, compareFor(order))
	return out
}

func compareFor(order SortOrder) func(a, b core.Expense) int {
	switch order {
	case SortDateAsc:
		return func(a, b core.Expense) int { return a.Date.Compare(b.Date) }
	case SortAmountDesc:
		return func(a, b core.Expense) int { return cmpInt(b.Amount.Cents, a.Amount.Cents) }
	case SortAmountAsc:
		return func(a, b core.Expense) int { return cmpInt(a.Amount.Cents, b.Amount.Cents) }
	default:
		return func(a, b core.Expense) int { return b.Date.Compare(a.Date) }
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
