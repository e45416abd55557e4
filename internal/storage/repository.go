package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"kpiprogress/internal/core"

	_ "modernc.org/sqlite"
)

// Sync states of a stored record.
const (
	SyncPending = "pending"
	SyncSynced  = "synced"
	SyncError   = "error"
)

var ErrNotFound = errors.New("record not found")

type SQLiteRepository struct {
	db            *sql.DB
	schemaVersion uint
}

// StoredYearRecord is a record together with its bookkeeping columns.
type StoredYearRecord struct {
	Record     core.YearRecord
	Version    int64
	SyncStatus string
	UpdatedAt  time.Time
}

// PendingSync represents the minimal data needed for a sync queue message.
type PendingSync struct {
	ID           int64
	Version      int64
	ConnectionID int64
	Year         int
	UpdatedAt    time.Time
}

var monthColumns = func() []string {
	cols := make([]string, 0, core.MonthsPerYear)
	for m := range core.AllSlots() {
		cols = append(cols, strings.ToLower(m.Key()))
	}
	return cols
}()

var recordColumns = "id, connection_id, year, uses_average, " +
	strings.Join(monthColumns, ", ") + ", version, sync_status, updated_at"

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dbPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("KPI schema ready", "db_path", dbPath, "schema_version", version)

	return &SQLiteRepository{db: db, schemaVersion: version}, nil
}

// SchemaVersion is the migration version the database was opened at.
func (r *SQLiteRepository) SchemaVersion() uint {
	return r.schemaVersion
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// ListYearOptions implements sheets.YearOptionReader
func (r *SQLiteRepository) ListYearOptions(ctx context.Context) ([]core.YearOption, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT year, label FROM kpi_year_options ORDER BY year`)
	if err != nil {
		return nil, fmt.Errorf("list year options: %w", err)
	}
	defer rows.Close()

	var out []core.YearOption
	for rows.Next() {
		var opt core.YearOption
		if err := rows.Scan(&opt.Key, &opt.Label); err != nil {
			return nil, fmt.Errorf("scan year option: %w", err)
		}
		out = append(out, opt)
	}
	return out, rows.Err()
}

// SeedYearOptions adds the given years to the selectable options. Existing
// years are left untouched.
func (r *SQLiteRepository) SeedYearOptions(ctx context.Context, years []int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, y := range years {
		if y < 1 || y > 9999 {
			return fmt.Errorf("%w: %d", core.ErrInvalidYear, y)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO kpi_year_options (year, label) VALUES (?, ?)`,
			y, strconv.Itoa(y)); err != nil {
			return fmt.Errorf("insert year option %d: %w", y, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit year options: %w", err)
	}
	return nil
}

// ListYearRecords implements sheets.BaselineReader
func (r *SQLiteRepository) ListYearRecords(ctx context.Context, parentRef int64) ([]core.YearRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM kpi_year_records WHERE connection_id = ? ORDER BY year`,
		parentRef)
	if err != nil {
		return nil, fmt.Errorf("list year records: %w", err)
	}
	defer rows.Close()

	var out []core.YearRecord
	for rows.Next() {
		stored, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, stored.Record)
	}
	return out, rows.Err()
}

// SaveChangeSet implements sheets.ChangeSetWriter. All records are written in
// one transaction; every written row gets a new version and is marked pending.
func (r *SQLiteRepository) SaveChangeSet(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]core.YearRecord, error) {
	stored, err := r.SaveChangeSetVersions(ctx, parentRef, cs)
	if err != nil {
		return nil, err
	}
	out := make([]core.YearRecord, len(stored))
	for i, s := range stored {
		out[i] = s.Record
	}
	return out, nil
}

// SaveChangeSetVersions is SaveChangeSet returning the new row versions,
// which the sync pipeline needs for its messages.
func (r *SQLiteRepository) SaveChangeSetVersions(ctx context.Context, parentRef int64, cs core.ChangeSet) ([]StoredYearRecord, error) {
	recs := cs.Records()
	for _, rec := range recs {
		if rec.ParentRef != parentRef {
			return nil, fmt.Errorf("year %d: %w", rec.Year, core.ErrParentMismatch)
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("validation failed: %w", err)
		}
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(monthColumns)), ", ")
	updates := make([]string, 0, len(monthColumns))
	for _, c := range monthColumns {
		updates = append(updates, c+" = excluded."+c)
	}
	query := `INSERT INTO kpi_year_records (connection_id, year, uses_average, ` +
		strings.Join(monthColumns, ", ") + `)
		VALUES (?, ?, ?, ` + placeholders + `)
		ON CONFLICT (connection_id, year) DO UPDATE SET
			uses_average = excluded.uses_average, ` + strings.Join(updates, ", ") + `,
			version = kpi_year_records.version + 1,
			sync_status = 'pending',
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, version`

	out := make([]StoredYearRecord, 0, len(recs))
	for _, rec := range recs {
		args := []any{rec.ParentRef, rec.Year, rec.UsesAverage}
		for m := range core.AllSlots() {
			args = append(args, nullable(rec.Get(m)))
		}
		var id, version int64
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&id, &version); err != nil {
			return nil, fmt.Errorf("upsert year %d: %w", rec.Year, err)
		}
		if rec.IsPersisted() && rec.ID != id {
			slog.WarnContext(ctx, "Stored id differs from edited record",
				"connection_id", rec.ParentRef, "year", rec.Year,
				"record_id", rec.ID, "stored_id", id)
		}
		rec.ID = id
		out = append(out, StoredYearRecord{Record: rec, Version: version, SyncStatus: SyncPending})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit change set: %w", err)
	}

	slog.InfoContext(ctx, "KPI change set saved to SQLite",
		"connection_id", parentRef,
		"records", len(out))
	return out, nil
}

// GetYearRecord retrieves a single record by id.
func (r *SQLiteRepository) GetYearRecord(ctx context.Context, id int64) (*StoredYearRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM kpi_year_records WHERE id = ?`, id)
	stored, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get year record %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// GetPendingSync returns records that still need to be copied to the sheet,
// oldest first. Records whose last copy failed are retried after the pending
// ones.
func (r *SQLiteRepository) GetPendingSync(ctx context.Context, limit int) ([]PendingSync, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, version, connection_id, year, updated_at FROM kpi_year_records
		WHERE sync_status IN ('pending', 'error')
		ORDER BY sync_status = 'error', updated_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending sync: %w", err)
	}
	defer rows.Close()

	var out []PendingSync
	for rows.Next() {
		var p PendingSync
		if err := rows.Scan(&p.ID, &p.Version, &p.ConnectionID, &p.Year, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan pending sync: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// MarkSynced marks a record version as copied. A newer version saved in the
// meantime stays pending.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, version int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE kpi_year_records SET sync_status = 'synced', synced_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?`, id, version)
	if err != nil {
		return fmt.Errorf("mark year record synced: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.InfoContext(ctx, "Year record changed before sync completed", "id", id, "version", version)
		return nil
	}

	slog.InfoContext(ctx, "Year record marked as synced", "id", id, "version", version)
	return nil
}

// MarkSyncError marks a record as having sync errors.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE kpi_year_records SET sync_status = 'error' WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("mark year record sync error: %w", err)
	}

	slog.WarnContext(ctx, "Year record marked with sync error", "id", id)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (StoredYearRecord, error) {
	var (
		stored StoredYearRecord
		months [core.MonthsPerYear]sql.NullFloat64
	)
	rec := &stored.Record
	dest := []any{&rec.ID, &rec.ParentRef, &rec.Year, &rec.UsesAverage}
	for i := range months {
		dest = append(dest, &months[i])
	}
	dest = append(dest, &stored.Version, &stored.SyncStatus, &stored.UpdatedAt)
	if err := s.Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return stored, err
		}
		return stored, fmt.Errorf("scan year record: %w", err)
	}
	for m := range core.AllSlots() {
		if months[m].Valid {
			rec.Months[m] = core.Some(months[m].Float64)
		}
	}
	return stored, nil
}

func nullable(v core.Reading) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v.Value, Valid: v.Set}
}
