package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendly/internal/log"
)

// Sheets writes tabs of one Google spreadsheet.
type Sheets struct {
	svc           *gsheet.Service
	spreadsheetID string
	logger        *log.Logger
}

// Credentials picks the service account key: inline JSON wins over a file.
func Credentials(inlineJSON, file string) ([]byte, error) {
	switch {
	case strings.TrimSpace(inlineJSON) != "":
		return []byte(inlineJSON), nil
	case strings.TrimSpace(file) != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// NewSheets creates a client authenticated with a service account key.
func NewSheets(ctx context.Context, spreadsheetID string, credentialsJSON []byte, logger *log.Logger) (*Sheets, error) {
	return NewSheetsWithOptions(ctx, spreadsheetID, logger,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
}

// NewSheetsWithOptions creates a client with explicit API options.
func NewSheetsWithOptions(ctx context.Context, spreadsheetID string, logger *log.Logger, opts ...goption.ClientOption) (*Sheets, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Sheets{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		logger:        logger.WithComponent(log.ComponentExport),
	}, nil
}

// ReplaceTab makes tab hold exactly rows, creating the tab if needed.
func (s *Sheets) ReplaceTab(ctx context.Context, tab string, rows [][]any) error {
	if err := s.ensureTab(ctx, tab); err != nil {
		return err
	}

	rng := quoteTab(tab)
	if _, err := s.svc.Spreadsheets.Values.Clear(s.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", tab, err)
	}

	vr := &gsheet.ValueRange{Values: rows}
	if _, err := s.svc.Spreadsheets.Values.Update(s.spreadsheetID, rng+"!A1", vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write %s: %w", tab, err)
	}

	s.logger.DebugContext(ctx, "Sheet tab replaced", "tab", tab, log.FieldCount, len(rows))
	return nil
}

func (s *Sheets) ensureTab(ctx context.Context, tab string) error {
	ss, err := s.svc.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read spreadsheet: %w", err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil && sh.Properties.Title == tab {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: tab}},
		}},
	}
	if _, err := s.svc.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add tab %s: %w", tab, err)
	}
	s.logger.InfoContext(ctx, "Sheet tab created", "tab", tab)
	return nil
}

func quoteTab(tab string) string {
	return "'" + strings.ReplaceAll(tab, "'", "''") + "'"
}
