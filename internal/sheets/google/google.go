package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	oauthgoogle "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "fintrack/internal/sheets"
)

const lastColumn = "K"

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

// Client appends ledger rows to yearly sheets named "<year> <SheetName>".
type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string

	mu    sync.Mutex
	ready map[string]bool
}

var _ ports.Mirror = (*Client)(nil)

// New creates a client authenticated with service account credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	creds, err := loadCredentials(ctx, cfg)
	if err != nil {
		return nil, err
	}
	// Malformed credentials fail here, not on the first append.
	oauthCreds, err := oauthgoogle.CredentialsFromJSON(ctx, creds, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	svc, err := gsheet.NewService(ctx, goption.WithCredentials(oauthCreds))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", cfg.SpreadsheetID)
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName)
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetBase string) (*Client, error) {
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheetBase = strings.TrimSpace(sheetBase)
	if sheetBase == "" {
		sheetBase = "Ledger"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetBase,
		ready:         make(map[string]bool),
	}, nil
}

func loadCredentials(ctx context.Context, cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline service account credentials")
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		slog.InfoContext(ctx, "Read service account file", "path", cfg.CredentialsFile, "size", len(b))
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// AppendRows groups rows by year and appends each group below the last
// filled row of its sheet, creating the sheet with a header when missing.
func (c *Client) AppendRows(ctx context.Context, rows []ports.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	var years []int
	byYear := make(map[int][][]any)
	for _, r := range rows {
		y := r.Year()
		if _, ok := byYear[y]; !ok {
			years = append(years, y)
		}
		byYear[y] = append(byYear[y], escapeFormulas(r.Values()))
	}

	for _, y := range years {
		title := yearPrefixedName(c.sheetBase, y)
		if err := c.ensureSheet(ctx, title); err != nil {
			return err
		}
		vr := &gsheet.ValueRange{Values: byYear[y]}
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, a1(title, "A:"+lastColumn), vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("append %d rows to %q: %w", len(byYear[y]), title, err)
		}
		slog.InfoContext(ctx, "Appended rows to sheet", "sheet", title, "rows", len(byYear[y]))
	}
	return nil
}

// EventIDs reads column A of the sheet for year. A missing sheet has no ids.
func (c *Client) EventIDs(ctx context.Context, year int) (map[string]struct{}, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	title := yearPrefixedName(c.sheetBase, year)
	titles, err := c.sheetTitles(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	if _, ok := titles[title]; !ok {
		return ids, nil
	}

	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, a1(title, "A2:A")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read event ids from %q: %w", title, err)
	}
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if id := strings.TrimSpace(fmt.Sprint(row[0])); id != "" {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func (c *Client) sheetTitles(ctx context.Context) (map[string]struct{}, error) {
	ss, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet: %w", err)
	}
	titles := make(map[string]struct{}, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			titles[sh.Properties.Title] = struct{}{}
		}
	}
	return titles, nil
}

func (c *Client) ensureSheet(ctx context.Context, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready[title] {
		return nil
	}

	titles, err := c.sheetTitles(ctx)
	if err != nil {
		return err
	}
	if _, ok := titles[title]; !ok {
		req := &gsheet.BatchUpdateSpreadsheetRequest{
			Requests: []*gsheet.Request{{
				AddSheet: &gsheet.AddSheetRequest{
					Properties: &gsheet.SheetProperties{Title: title},
				},
			}},
		}
		if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
			return fmt.Errorf("add sheet %q: %w", title, err)
		}

		header := make([]any, len(ports.Header))
		for i, h := range ports.Header {
			header[i] = h
		}
		vr := &gsheet.ValueRange{Values: [][]any{header}}
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, a1(title, "A1:"+lastColumn+"1"), vr).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("write header to %q: %w", title, err)
		}
		slog.InfoContext(ctx, "Created mirror sheet", "sheet", title)
	}
	c.ready[title] = true
	return nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with
// a four digit year.
func yearPrefixedName(base string, year int) string {
	b := strings.TrimSpace(base)
	if b == "" {
		return ""
	}
	if len(b) >= 5 && b[4] == ' ' {
		isYear := true
		for i := 0; i < 4; i++ {
			if b[i] < '0' || b[i] > '9' {
				isYear = false
				break
			}
		}
		if isYear {
			return b
		}
	}
	return fmt.Sprintf("%d %s", year, b)
}

// a1 builds an A1 range with a quoted sheet title.
func a1(title, rng string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'!" + rng
}

// escapeFormulas keeps user text from being evaluated under USER_ENTERED.
func escapeFormulas(values []any) []any {
	for i, v := range values {
		s, ok := v.(string)
		if !ok || s == "" {
			continue
		}
		switch s[0] {
		case '=', '+', '@':
			values[i] = "'" + s
		}
	}
	return values
}
