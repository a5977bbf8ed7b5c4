package view

import (
	"net/url"
	"testing"
	"time"

	"spendly/internal/core"
)

func day(s string) time.Time {
	t, err := time.Parse(core.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func ptr(t time.Time) *time.Time { return &t }

func exp(id, category string, cents int64, date, note string) core.Expense {
	return core.Expense{ID: id, OwnerID: "u1", Category: category, Amount: core.Money{Cents: cents}, Date: day(date), Note: note}
}

func ids(es []core.Expense) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var sample = []core.Expense{
	exp("a", "Food", 1250, "2024-03-01", "Lunch with Bob"),
	exp("b", "Travel", 4000, "2024-03-10", ""),
	exp("c", "Food", 300, "2024-02-20", "coffee"),
	exp("d", "Bills", 9900, "2024-03-31", "Power bill"),
}

func TestApply_Filters(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter", Filter{}, []string{"d", "b", "a", "c"}},
		{"category", Filter{Category: "Food"}, []string{"a", "c"}},
		{"category is exact", Filter{Category: "food"}, []string{}},
		{"start inclusive", Filter{Start: ptr(day("2024-03-01"))}, []string{"d", "b", "a"}},
		{"end covers whole day", Filter{End: ptr(day("2024-03-01"))}, []string{"a", "c"}},
		{"range", Filter{Start: ptr(day("2024-03-01")), End: ptr(day("2024-03-10"))}, []string{"b", "a"}},
		{"search is case-insensitive", Filter{Search: "BOB"}, []string{"a"}},
		{"records without note fail search", Filter{Search: "b"}, []string{"d", "a"}},
		{"all predicates", Filter{Category: "Food", Search: "coffee", End: ptr(day("2024-02-28"))}, []string{"c"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Apply(sample, tt.filter, SortDateDesc))
			if !equal(got, tt.want) {
				t.Errorf("Apply = %v, want %v", got, tt.want)
			}
			for _, e := range Apply(sample, tt.filter, SortDateDesc) {
				if !tt.filter.Matches(e) {
					t.Errorf("%s in result but fails the filter", e.ID)
				}
			}
		})
	}
}

func TestApply_Sort(t *testing.T) {
	tests := []struct {
		order SortOrder
		want  []string
	}{
		{SortDateDesc, []string{"d", "b", "a", "c"}},
		{SortDateAsc, []string{"c", "a", "b", "d"}},
		{SortAmountDesc, []string{"d", "b", "a", "c"}},
		{SortAmountAsc, []string{"c", "a", "b", "d"}},
		{"bogus", []string{"d", "b", "a", "c"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			if got := ids(Apply(sample, Filter{}, tt.order)); !equal(got, tt.want) {
				t.Errorf("Apply(%s) = %v, want %v", tt.order, got, tt.want)
			}
		})
	}
}

func TestApply_DoesNotModifyInput(t *testing.T) {
	in := append([]core.Expense(nil), sample...)
	Apply(in, Filter{}, SortAmountAsc)
	if !equal(ids(in), ids(sample)) {
		t.Errorf("input reordered: %v", ids(in))
	}
}

func TestSummarize(t *testing.T) {
	if s := Summarize(nil); s.Count != 0 || s.Total.Cents != 0 || s.Max.Cents != 0 {
		t.Errorf("empty summary = %+v", s)
	}

	s := Summarize([]core.Expense{
		exp("a", "Food", 1250, "2024-03-01", ""),
		exp("b", "Travel", 4000, "2024-03-02", ""),
	})
	if s.Count != 2 || s.Total.String() != "52.50" || s.Max.String() != "40.00" {
		t.Errorf("summary = count %d total %s max %s", s.Count, s.Total, s.Max)
	}
}

func TestCategoryTotals(t *testing.T) {
	totals := CategoryTotals(sample)
	want := []struct {
		category string
		cents    int64
	}{{"Food", 1550}, {"Travel", 4000}, {"Bills", 9900}}

	if len(totals) != len(want) {
		t.Fatalf("totals = %+v", totals)
	}
	for i, w := range want {
		if totals[i].Category != w.category || totals[i].Total.Cents != w.cents {
			t.Errorf("totals[%d] = %+v, want %s %d", i, totals[i], w.category, w.cents)
		}
		if totals[i].Color != Palette[i] {
			t.Errorf("totals[%d] color = %s", i, totals[i].Color)
		}
	}
}

func TestDerive_ChartIgnoresFilters(t *testing.T) {
	s := DefaultState()
	s.Filter.Category = "Travel"
	s.Chart = ChartBar

	v := Derive(sample, s)
	if !equal(ids(v.List), []string{"b"}) {
		t.Errorf("list = %v", ids(v.List))
	}
	if v.Summary.Count != 4 || len(v.Totals) != 3 {
		t.Errorf("summary/totals should cover the whole snapshot: %+v %+v", v.Summary, v.Totals)
	}
	if v.Chart.Type != ChartBar || len(v.Chart.Labels) != 3 || v.Chart.Data[0] != 15.5 {
		t.Errorf("chart = %+v", v.Chart)
	}
	if v.Empty {
		t.Error("Empty should be false")
	}
	if !Derive(nil, s).Empty {
		t.Error("Empty should be true for no expenses")
	}
}

func TestParseState(t *testing.T) {
	v := url.Values{
		"category": {"Food"},
		"start":    {"2024-03-01"},
		"end":      {"not a date"},
		"search":   {"  lunch "},
		"sort":     {"amount_asc"},
		"chart":    {"radar"},
	}
	s := ParseState(v)

	if s.Filter.Category != "Food" || s.Filter.Search != "  lunch " {
		t.Errorf("filter = %+v", s.Filter)
	}
	if s.Filter.Start == nil || !s.Filter.Start.Equal(day("2024-03-01")) || s.Filter.End != nil {
		t.Errorf("dates = %v %v", s.Filter.Start, s.Filter.End)
	}
	if s.Sort != SortAmountAsc || s.Chart != ChartPie {
		t.Errorf("sort/chart = %s %s", s.Sort, s.Chart)
	}

	back := ParseState(s.Values())
	if back.Filter.Category != "Food" || back.Sort != SortAmountAsc || back.Filter.Start == nil {
		t.Errorf("round trip lost state: %+v", back)
	}
}

func TestParseState_WhitespaceSearchIsAFilter(t *testing.T) {
	s := ParseState(url.Values{"search": {"  "}})
	if s.Filter.Search != "  " || !s.Filter.Active() {
		t.Fatalf("filter = %+v", s.Filter)
	}
	expenses := []core.Expense{
		{ID: "a", Note: "two  spaces"},
		{ID: "b", Note: "one space"},
		{ID: "c"},
	}
	got := Apply(expenses, s.Filter, SortDateDesc)
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("Apply = %+v", got)
	}
}

func TestApply_NoFilterKeepsEverything(t *testing.T) {
	expenses := []core.Expense{{ID: "a"}, {ID: "b", Note: "x"}}
	got := Apply(expenses, Filter{}, SortDateDesc)
	if len(got) != 2 {
		t.Fatalf("Apply = %+v", got)
	}
	got[0].ID = "changed"
	if expenses[0].ID != "a" {
		t.Fatal("Apply must not alias its input")
	}
}

func TestState_Reset(t *testing.T) {
	s := ParseState(url.Values{"category": {"Food"}, "search": {"x"}, "sort": {"date_asc"}, "chart": {"line"}})
	r := s.Reset()
	if r.Filter.Active() {
		t.Errorf("filters still active: %+v", r.Filter)
	}
	if r.Sort != SortDateAsc || r.Chart != ChartLine {
		t.Errorf("Reset changed sort/chart: %+v", r)
	}
	if !s.Filter.Active() {
		t.Error("Reset modified the original state")
	}
}
