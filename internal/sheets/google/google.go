package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"kpiprogress/internal/core"
	ports "kpiprogress/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	progressSheet string
	yearsSheet    string

	// Row index cache for the progress sheet, so updates do not re-read
	// the whole sheet for every record.
	mu                 sync.Mutex
	rowsByKey          map[rowKey]int
	rowsByID           map[int64]int
	rowCount           int
	columns            *progressColumns
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

// Ensure interface conformance
var (
	_ ports.YearOptionReader = (*Client)(nil)
	_ ports.BaselineReader   = (*Client)(nil)
	_ ports.ChangeSetWriter  = (*Client)(nil)
	_ ports.YearRecordWriter = (*Client)(nil)
)

var errNotInitialized = errors.New("sheets service not initialized")

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID
// Optional sheet names: GOOGLE_PROGRESS_SHEET (default "Progress"),
// GOOGLE_YEARS_SHEET (default "Years").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return New(svc, spreadsheetID,
		envOr("GOOGLE_PROGRESS_SHEET", "Progress"),
		envOr("GOOGLE_YEARS_SHEET", "Years")), nil
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, progressSheet, yearsSheet string) *Client {
	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		progressSheet:      progressSheet,
		yearsSheet:         yearsSheet,
		cacheValidDuration: 5 * time.Minute,
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// NewWithCredentials builds a client from service account credentials.
func NewWithCredentials(ctx context.Context, credentialsJSON []byte, spreadsheetID, progressSheet, yearsSheet string) (*Client, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := serviceFromJSON(ctx, credentialsJSON)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, progressSheet, yearsSheet), nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Uses GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	credentialsJSON, err := LoadCredentials(ctx, os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"), serviceAccountFile)
	if err != nil {
		return nil, err
	}
	return serviceFromJSON(ctx, credentialsJSON)
}

// LoadCredentials returns the inline JSON when set, otherwise the content of
// file.
func LoadCredentials(ctx context.Context, inlineJSON, file string) ([]byte, error) {
	inlineJSON = strings.TrimSpace(inlineJSON)
	file = strings.TrimSpace(file)
	switch {
	case inlineJSON != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		return []byte(inlineJSON), nil
	case file != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", file)
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
}

func serviceFromJSON(ctx context.Context, credentialsJSON []byte) (*gsheet.Service, error) {
	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// ListYearOptions implements ports.YearOptionReader.
func (c *Client) ListYearOptions(ctx context.Context) ([]core.YearOption, error) {
	if c.svc == nil {
		return nil, errNotInitialized
	}
	rng := fmt.Sprintf("%s!A:A", c.yearsSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return parseYearOptions(resp.Values), nil
}

// ListYearRecords implements ports.BaselineReader.
func (c *Client) ListYearRecords(ctx context.Context, parentRef int64) ([]core.YearRecord, error) {
	values, err := c.readProgress(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := parseYearRecords(values, parentRef)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.progressSheet, err)
	}
	return recs, nil
}

// SaveChangeSet implements ports.ChangeSetWriter. Records are written one
// row at a time in year order.
func (c *Client) SaveChangeSet(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error) {
	saved := make([]core.YearRecord, 0, len(cs))
	for _, rec := range cs.Records() {
		if rec.ParentRef != parentRef {
			return saved, fmt.Errorf("year %d: %w", rec.Year, core.ErrParentMismatch)
		}
		if _, err := c.UpsertYearRecord(ctx, rec); err != nil {
			return saved, fmt.Errorf("save year %d: %w", rec.Year, err)
		}
		saved = append(saved, rec)
	}
	return saved, nil
}

// UpsertYearRecord implements ports.YearRecordWriter. The row is matched by
// id first, then by connection and year; otherwise a new row is appended.
func (c *Client) UpsertYearRecord(ctx context.Context, rec core.YearRecord) (string, error) {
	if err := rec.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errNotInitialized
	}

	row, rowCount, cols, err := c.lookupRow(ctx, rec)
	if err != nil {
		return "", err
	}
	appended := row == 0
	if appended {
		row = rowCount + 1
	}

	last := columnName(cols.width() - 1)
	ref := fmt.Sprintf("%s!A%d:%s%d", c.progressSheet, row, last, row)
	vr := &gsheet.ValueRange{Values: [][]interface{}{encodeYearRecord(rec, cols)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.invalidateRowCache()
		return "", fmt.Errorf("update %s: %w", ref, err)
	}

	c.rememberRow(rec, row, appended)
	slog.InfoContext(ctx, "KPI year written to sheet",
		"ref", ref,
		"connection_id", rec.ParentRef,
		"year", rec.Year,
		"appended", appended)
	return ref, nil
}

func (c *Client) readProgress(ctx context.Context) ([][]interface{}, error) {
	if c.svc == nil {
		return nil, errNotInitialized
	}
	// The whole sheet, since the KPI columns may sit anywhere in it.
	rng := c.progressSheet
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// lookupRow returns the sheet row holding rec (0 when absent), the current
// row count and the column layout, refreshing the index when it has expired.
func (c *Client) lookupRow(ctx context.Context, rec core.YearRecord) (row, rowCount int, cols progressColumns, err error) {
	c.mu.Lock()
	valid := c.rowsByKey != nil && c.columns != nil && time.Now().Before(c.cacheExpiresAt)
	c.mu.Unlock()

	if !valid {
		values, err := c.readProgress(ctx)
		if err != nil {
			return 0, 0, cols, err
		}
		if len(values) == 0 {
			if err := c.writeHeader(ctx); err != nil {
				return 0, 0, cols, err
			}
			values = [][]interface{}{toInterfaces(progressHeaders)}
		}
		layout, err := resolveColumns(toStrings(values[0]))
		if err != nil {
			return 0, 0, cols, fmt.Errorf("index %s: %w", c.progressSheet, err)
		}
		byKey, byID, err := indexRows(values)
		if err != nil {
			return 0, 0, cols, fmt.Errorf("index %s: %w", c.progressSheet, err)
		}
		c.mu.Lock()
		c.rowsByKey, c.rowsByID, c.rowCount = byKey, byID, len(values)
		c.columns = &layout
		c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	cols = *c.columns
	if rec.IsPersisted() {
		if r, ok := c.rowsByID[rec.ID]; ok {
			return r, c.rowCount, cols, nil
		}
	}
	return c.rowsByKey[rowKey{rec.ParentRef, rec.Year}], c.rowCount, cols, nil
}

func (c *Client) writeHeader(ctx context.Context) error {
	last := columnName(len(progressHeaders) - 1)
	ref := fmt.Sprintf("%s!A1:%s1", c.progressSheet, last)
	vr := &gsheet.ValueRange{Values: [][]interface{}{toInterfaces(progressHeaders)}}
	if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, ref, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write header %s: %w", ref, err)
	}
	return nil
}

func (c *Client) rememberRow(rec core.YearRecord, row int, appended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rowsByKey == nil {
		return
	}
	c.rowsByKey[rowKey{rec.ParentRef, rec.Year}] = row
	if rec.IsPersisted() {
		c.rowsByID[rec.ID] = row
	}
	if appended && row > c.rowCount {
		c.rowCount = row
	}
}

// invalidateRowCache forces the next write to re-read the sheet.
func (c *Client) invalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheExpiresAt = time.Time{}
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}
