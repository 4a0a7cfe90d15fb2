package sheets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"
)

// Config holds the settings needed to reach one worksheet.
type Config struct {
	CredentialsFile string
	SpreadsheetID   string
	WorksheetTitle  string
}

// Client provides row-level access to a single worksheet, authenticated
// with a service-account key.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	worksheet     string
}

// New authenticates with the service-account credentials file and ensures
// the configured worksheet exists, creating it when missing.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	worksheet := strings.TrimSpace(cfg.WorksheetTitle)
	if worksheet == "" {
		worksheet = "Log"
	}

	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	jwtCfg, err := google.JWTConfigFromJSON(creds, sheetsapi.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	svc, err := sheetsapi.NewService(ctx, option.WithHTTPClient(jwtCfg.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	c := &Client{svc: svc, spreadsheetID: cfg.SpreadsheetID, worksheet: worksheet}
	if err := c.ensureWorksheet(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) ensureWorksheet(ctx context.Context) error {
	meta, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, sheet := range meta.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == c.worksheet {
			return nil
		}
	}

	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			AddSheet: &sheetsapi.AddSheetRequest{
				Properties: &sheetsapi.SheetProperties{Title: c.worksheet},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add worksheet %q: %w", c.worksheet, err)
	}
	return nil
}

// ReadAll returns every populated row of the worksheet as strings.
func (c *Client) ReadAll(ctx context.Context) ([][]string, error) {
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, c.worksheet).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read worksheet: %w", err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, len(raw))
		for i, cell := range raw {
			row[i] = fmt.Sprint(cell)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendRow appends one row after the last populated row.
func (c *Client) AppendRow(ctx context.Context, row []string) error {
	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{values}}
	_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, c.worksheet, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

// UpdateHeader rewrites row 1 with the given header.
func (c *Client) UpdateHeader(ctx context.Context, header []string) error {
	values := make([]interface{}, len(header))
	for i, cell := range header {
		values[i] = cell
	}
	vr := &sheetsapi.ValueRange{Values: [][]interface{}{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, c.worksheet+"!1:1", vr).
		ValueInputOption("RAW").
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update header: %w", err)
	}
	return nil
}
