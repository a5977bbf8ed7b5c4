package feed

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"spendly/internal/core"
	"spendly/internal/store"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	march := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		fields        store.Fields
		wantCents     int64
		wantDate      time.Time
		wantDefaulted bool
		wantErr       error
	}{
		{
			name:      "store timestamp",
			fields:    store.Fields{"amount": json.Number("12.5"), "date": store.TimestampOf(march)},
			wantCents: 1250,
			wantDate:  march,
		},
		{
			name:      "date string",
			fields:    store.Fields{"amount": json.Number("40"), "date": "2024-03-05"},
			wantCents: 4000,
			wantDate:  march,
		},
		{
			name:      "rfc3339 string",
			fields:    store.Fields{"amount": 3.25, "date": "2024-03-05T00:00:00Z"},
			wantCents: 325,
			wantDate:  march,
		},
		{
			name:      "time value",
			fields:    store.Fields{"amount": 7, "date": march},
			wantCents: 700,
			wantDate:  march,
		},
		{
			name:          "missing date uses now",
			fields:        store.Fields{"amount": json.Number("1")},
			wantCents:     100,
			wantDate:      now,
			wantDefaulted: true,
		},
		{
			name:    "unreadable date",
			fields:  store.Fields{"amount": json.Number("1"), "date": "next tuesday"},
			wantErr: core.ErrInvalidDate,
		},
		{
			name:    "missing amount",
			fields:  store.Fields{"date": "2024-03-05"},
			wantErr: ErrMissingAmount,
		},
		{
			name:    "amount of wrong type",
			fields:  store.Fields{"amount": true, "date": "2024-03-05"},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:    "negative amount",
			fields:  store.Fields{"amount": json.Number("-3"), "date": "2024-03-05"},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:      "amount as string",
			fields:    store.Fields{"amount": "9,99", "date": "2024-03-05"},
			wantCents: 999,
			wantDate:  march,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fields["ownerId"] = "u1"
			tt.fields["category"] = "Food"
			e, defaulted, err := Normalize(store.Document{ID: "d1", Fields: tt.fields}, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if e.Amount.Cents != tt.wantCents {
				t.Errorf("cents = %d, want %d", e.Amount.Cents, tt.wantCents)
			}
			if !e.Date.Equal(tt.wantDate) {
				t.Errorf("date = %v, want %v", e.Date, tt.wantDate)
			}
			if defaulted != tt.wantDefaulted {
				t.Errorf("defaulted = %v", defaulted)
			}
			if e.ID != "d1" || e.OwnerID != "u1" || e.Category != "Food" {
				t.Errorf("unexpected record %+v", e)
			}
		})
	}
}
