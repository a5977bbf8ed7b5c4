package view

import "spendly/internal/core"

// Summary holds the headline numbers of a snapshot.
type Summary struct {
	Count int
	Total core.Money
	Max   core.Money
}

// Summarize covers every expense given; Max is zero for an empty slice.
func Summarize(expenses []core.Expense) Summary {
	var s Summary
	for _, e := range expenses {
		s.Count++
		s.Total = s.Total.Add(e.Amount)
		if e.Amount.Cents > s.Max.Cents {
			s.Max = e.Amount
		}
	}
	return s
}

// CategoryTotal is the summed amount of one category.
type CategoryTotal struct {
	Category string
	Total    core.Money
	Color    string
}

// CategoryTotals groups expenses by category in order of first appearance.
func CategoryTotals(expenses []core.Expense) []CategoryTotal {
	index := make(map[string]int)
	var totals []CategoryTotal
	for _, e := range expenses {
		i, ok := index[e.Category]
		if !ok {
			i = len(totals)
			index[e.Category] = i
			totals = append(totals, CategoryTotal{Category: e.Category, Color: Palette[i%len(Palette)]})
		}
		totals[i].Total = totals[i].Total.Add(e.Amount)
	}
	return totals
}

// Chart is the data behind the category chart.
type Chart struct {
	Type   ChartType
	Labels []string
	Data   []float64
	Colors []string
}

func chartOf(t ChartType, totals []CategoryTotal) Chart {
	c := Chart{Type: t}
	for _, ct := range totals {
		c.Labels = append(c.Labels, ct.Category)
		c.Data = append(c.Data, ct.Total.Float())
		c.Colors = append(c.Colors, ct.Color)
	}
	return c
}

// View is everything the dashboard renders for one snapshot and state.
type View struct {
	State   State
	List    []core.Expense
	Summary Summary
	Totals  []CategoryTotal
	Chart   Chart
	// Empty is true when the snapshot has no expenses at all.
	Empty bool
}

// Derive computes the dashboard view. The list honours the filters; the
// summary, totals and chart use the whole snapshot.
func Derive(expenses []core.Expense, s State) View {
	totals := CategoryTotals(expenses)
	return View{
		State:   s,
		List:    Apply(expenses, s.Filter, s.Sort),
		Summary: Summarize(expenses),
		Totals:  totals,
		Chart:   chartOf(s.Chart, totals),
		Empty:   len(expenses) == 0,
	}
}
