// Package google mirrors created transactions into a Google spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"finboard/internal/cache"
	applog "finboard/internal/log"
	ports "finboard/internal/sheets"
)

const (
	seenCacheSize = 4096
	seenCacheTTL  = 24 * time.Hour
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	// Base name without year, e.g. "Transactions"; rows go to "<year> <base>".
	sheetBase string
	loc       *time.Location
	logger    *applog.Logger
	seen      *cache.LRUCache[string]
}

var _ ports.TransactionAppender = (*Client)(nil)

// Config selects the spreadsheet and the zone rows are dated in.
type Config struct {
	SpreadsheetID string
	SheetName     string
	Location      *time.Location
	Logger        *applog.Logger
}

// New creates a Sheets client authenticated with a service account, read
// from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE or
// GOOGLE_APPLICATION_CREDENTIALS.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return NewWithService(svc, cfg), nil
}

// NewWithService wraps an existing service.
func NewWithService(svc *gsheet.Service, cfg Config) *Client {
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Transactions"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = applog.Discard()
	}
	return &Client{
		svc:           svc,
		spreadsheetID: strings.TrimSpace(cfg.SpreadsheetID),
		sheetBase:     base,
		loc:           loc,
		logger:        logger.WithComponent(applog.ComponentSheets),
		seen:          cache.NewLRUCache[string](seenCacheSize, seenCacheTTL),
	}
}

// SeenCache exposes the message id cache for periodic cleanup.
func (c *Client) SeenCache() cache.Cleaner {
	return c.seen
}

func newSheetsService(ctx context.Context, extra ...goption.ClientOption) (*gsheet.Service, error) {
	creds, err := loadCredentials()
	if err != nil {
		return nil, err
	}
	opts := append([]goption.ClientOption{
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, extra...)
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

func loadCredentials() ([]byte, error) {
	if inline := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")); inline != "" {
		return []byte(inline), nil
	}
	path := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if path == "" {
		path = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if path == "" {
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return b, nil
}

// AppendTransaction appends r to the sheet of its year unless a row with the
// same message id is already there.
func (c *Client) AppendTransaction(ctx context.Context, r ports.Row) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if r.MessageID == "" {
		return "", errors.New("row without message id")
	}
	if ref, ok := c.seen.Get(r.MessageID); ok {
		return ref, nil
	}

	sheet := yearPrefixedName(c.sheetBase, r.Date.In(c.loc).Year())
	ids, err := c.readCol(ctx, sheet, "F:F")
	if err != nil {
		return "", err
	}
	for i, id := range ids {
		if id == r.MessageID {
			ref := fmt.Sprintf("%s!A%d:F%d", sheet, i+1, i+1)
			c.seen.Set(r.MessageID, ref)
			c.logger.InfoContext(ctx, "Row already mirrored", "message_id", r.MessageID, "ref", ref)
			return ref, nil
		}
	}

	vr := &gsheet.ValueRange{Values: [][]any{r.Cells(c.loc)}}
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, sheet+"!A:F", vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := sheet
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.seen.Set(r.MessageID, ref)
	c.logger.InfoContext(ctx, "Transaction mirrored",
		"message_id", r.MessageID,
		applog.FieldCategory, r.Category,
		"ref", ref)
	return ref, nil
}

// readCol returns the trimmed cell values of one column, keeping row
// positions so index i is sheet row i+1.
func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) > 0 {
			out[i] = strings.TrimSpace(fmt.Sprint(row[0]))
		}
	}
	return out, nil
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
