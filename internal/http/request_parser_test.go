package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"spendly/internal/view"
)

func TestRequestBodyParser_JSON(t *testing.T) {
	body := `{"amount": 42.5, "category": "Food", "date": "2024-03-01", "note": " lunch "}`
	req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !parser.IsJSON() {
		t.Error("Expected IsJSON() to be true")
	}

	f := parser.ExpenseFields()
	if f.Amount != "42.5" || f.Category != "Food" || f.Date != "2024-03-01" || f.Note != "lunch" {
		t.Errorf("ExpenseFields() = %+v", f)
	}
}

func TestRequestBodyParser_FormData(t *testing.T) {
	body := "amount=12%2C50&category=Bills&date=2024-03-01&note=power%01bill"
	req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parser.IsJSON() {
		t.Error("Expected IsJSON() to be false for form data")
	}

	f := parser.ExpenseFields()
	if f.Amount != "12,50" {
		t.Errorf("Amount = %q", f.Amount)
	}
	if f.Note != "powerbill" {
		t.Errorf("control characters should be stripped, Note = %q", f.Note)
	}
}

func TestRequestBodyParser_Credentials(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader("email=+Ana%40Example.com+&password=+secret+"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatal(err)
	}
	email, password := parser.Credentials()
	if email != "Ana@Example.com" {
		t.Errorf("email = %q", email)
	}
	if password != " secret " {
		t.Errorf("password must not be trimmed, got %q", password)
	}
}

func TestRequestBodyParser_EmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(""))

	parser := NewRequestBodyParser(req)
	if err := parser.Parse(); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if val := parser.Get("nonexistent"); val != "" {
		t.Errorf("Get('nonexistent') = %q, want empty string", val)
	}
}

func TestRequestBodyParser_Rejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"amount": `},
		{"too large", "note=" + strings.Repeat("x", maxBodyBytes)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/expenses", strings.NewReader(tt.body))
			if err := NewRequestBodyParser(req).Parse(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestParseViewState(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/dashboard/view?category=Food&sort=amount_desc&chart=bar&start=bogus", nil)
	s := ParseViewState(req)

	if s.Filter.Category != "Food" || s.Sort != view.SortAmountDesc || s.Chart != view.ChartBar {
		t.Errorf("state = %+v", s)
	}
	if s.Filter.Start != nil {
		t.Error("an invalid start date should be ignored")
	}
}
