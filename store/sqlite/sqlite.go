/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements all persistence interfaces (Store, SettingsStore, ImportRunStore)
  using SQLite. In production, the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  generic.Store:          Customer records keyed by (quarter_key, id)
  generic.SettingsStore:  General settings, prize splits, excluded sales reps
  generic.ImportRunStore: Import batch audit trail
  generic.Pinger:         Reachability check before a batch

OPTIMISTIC VERSIONING:
  Records carry a version column. Upsert inserts when Version is 0 and
  otherwise updates "WHERE version = ?". Zero affected rows (or a unique
  violation on insert) means another writer won: ErrConcurrentModification.
  Updates never rewrite the rowid, so rowid order is creation order.

KEY TABLES:
  records:             One row per customer per quarter, history as JSON
  general_settings:    Named settings (ACCOUNT_VALUE, MAX_PARTICIPANTS, ...)
  bonus_splits:        Prize share per leaderboard place
  excluded_sales_reps: Names never ranked on the leaderboard
  import_runs:         One row per import batch

INDEXES:
  - idx_records_quarter_eligible: Leaderboard query (hot path)

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  the version predicate alone provides the write guarantee.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/bonus.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  proc := ingest.NewProcessor(store, ...)

MIGRATION:
  Schema is auto-migrated and default settings seeded on New(). For
  production, use a proper migration tool with versioned migrations.

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/settings.go: Settings types
  - generic/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/bonus-engine/generic"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := store.seed(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to seed settings: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", generic.ErrStoreUnavailable, err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Customer records (one per customer per quarter)
	CREATE TABLE IF NOT EXISTS records (
		quarter_key TEXT NOT NULL,
		id TEXT NOT NULL,
		first_payment TEXT NOT NULL,
		status TEXT NOT NULL,
		status_history_json TEXT NOT NULL,
		bonus_eligible BOOLEAN NOT NULL DEFAULT FALSE,
		last_updated TEXT NOT NULL,
		metadata_json TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		UNIQUE(quarter_key, id)
	);

	-- Leaderboard query: eligible records of one quarter in creation order
	CREATE INDEX IF NOT EXISTS idx_records_quarter_eligible
		ON records(quarter_key, bonus_eligible);

	-- General settings
	CREATE TABLE IF NOT EXISTS general_settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		description TEXT,
		data_type TEXT NOT NULL
	);

	-- Prize split per leaderboard place
	CREATE TABLE IF NOT EXISTS bonus_splits (
		place INTEGER PRIMARY KEY,
		percentage TEXT NOT NULL
	);

	-- Sales reps excluded from the leaderboard
	CREATE TABLE IF NOT EXISTS excluded_sales_reps (
		name TEXT PRIMARY KEY COLLATE NOCASE
	);

	-- Import runs
	CREATE TABLE IF NOT EXISTS import_runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		rows_total INTEGER DEFAULT 0,
		processed INTEGER DEFAULT 0,
		skipped INTEGER DEFAULT 0,
		filtered INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		eligible INTEGER DEFAULT 0,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_import_runs_started
		ON import_runs(started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// DefaultSettings are seeded on first open.
var DefaultSettings = []generic.Setting{
	{Name: generic.SettingTheme, Value: "light", Description: "Change the theme of the application", DataType: generic.SettingString},
	{Name: generic.SettingAccountValue, Value: "100", Description: "The value of each account towards the bonus pool", DataType: generic.SettingNumber},
	{Name: generic.SettingMaxParticipants, Value: "8", Description: "The maximum number of participants", DataType: generic.SettingNumber},
	{Name: generic.SettingPageTimerSecLive, Value: "300", Description: `Seconds the "Live" page shows before changing`, DataType: generic.SettingNumber},
	{Name: generic.SettingPageTimerSecPast, Value: "60", Description: `Seconds the "Past" page shows before changing`, DataType: generic.SettingNumber},
}

// DefaultSplits are seeded when bonus_splits is empty.
var DefaultSplits = []generic.Split{
	{Place: 1, Percentage: decimal.RequireFromString("0.30")},
	{Place: 2, Percentage: decimal.RequireFromString("0.20")},
	{Place: 3, Percentage: decimal.RequireFromString("0.15")},
	{Place: 4, Percentage: decimal.RequireFromString("0.10")},
	{Place: 5, Percentage: decimal.RequireFromString("0.08")},
	{Place: 6, Percentage: decimal.RequireFromString("0.07")},
	{Place: 7, Percentage: decimal.RequireFromString("0.05")},
	{Place: 8, Percentage: decimal.RequireFromString("0.05")},
}

// seed inserts default settings without overwriting edited values.
func (s *Store) seed(ctx context.Context) error {
	for _, st := range DefaultSettings {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO general_settings (name, value, description, data_type) VALUES (?, ?, ?, ?)`,
			st.Name, st.Value, st.Description, string(st.DataType),
		)
		if err != nil {
			return err
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM bonus_splits").Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	for _, sp := range DefaultSplits {
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO bonus_splits (place, percentage) VALUES (?, ?)",
			sp.Place, sp.Percentage.String(),
		); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// RECORD STORE (generic.Store interface)
// =============================================================================

const recordColumns = `quarter_key, id, first_payment, status, status_history_json,
	bonus_eligible, last_updated, metadata_json, version`

// Get returns the record for key.
func (s *Store) Get(ctx context.Context, key generic.RecordKey) (*generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+recordColumns+" FROM records WHERE quarter_key = ? AND id = ?",
		string(key.QuarterKey), key.ID,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.ErrRecordNotFound
	}
	if errors.Is(err, generic.ErrCorruptHistory) {
		return nil, err
	}
	if err != nil {
		return nil, unavailable("get record", err)
	}
	return &rec, nil
}

// Upsert creates (Version 0) or updates (Version N) a record.
func (s *Store) Upsert(ctx context.Context, rec generic.Record) (generic.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	historyJSON, err := json.Marshal(rec.StatusHistory)
	if err != nil {
		return generic.Record{}, fmt.Errorf("failed to encode status history: %w", err)
	}
	metadataJSON, _ := json.Marshal(rec.Metadata)

	if rec.Version == 0 {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO records (`+recordColumns+`, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`,
			string(rec.QuarterKey), rec.ID,
			formatTime(rec.FirstPayment), rec.Status.String(), string(historyJSON),
			rec.BonusEligible, formatTime(rec.LastUpdated), string(metadataJSON),
			formatTime(time.Now().UTC()),
		)
		if err != nil {
			if isUniqueConstraintError(err) {
				return generic.Record{}, generic.ErrConcurrentModification
			}
			return generic.Record{}, unavailable("insert record", err)
		}
		rec.Version = 1
		return rec, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE records SET
			first_payment = ?,
			status = ?,
			status_history_json = ?,
			bonus_eligible = ?,
			last_updated = ?,
			metadata_json = ?,
			version = version + 1
		WHERE quarter_key = ? AND id = ? AND version = ?
	`,
		formatTime(rec.FirstPayment), rec.Status.String(), string(historyJSON),
		rec.BonusEligible, formatTime(rec.LastUpdated), string(metadataJSON),
		string(rec.QuarterKey), rec.ID, rec.Version,
	)
	if err != nil {
		return generic.Record{}, unavailable("update record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return generic.Record{}, unavailable("update record", err)
	}
	if n == 0 {
		return generic.Record{}, generic.ErrConcurrentModification
	}
	rec.Version++
	return rec, nil
}

// ListByQuarter returns a quarter's records in creation order.
func (s *Store) ListByQuarter(ctx context.Context, quarter generic.QuarterKey, filter generic.RecordFilter) ([]generic.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + recordColumns + " FROM records WHERE quarter_key = ?"
	args := []any{string(quarter)}
	if filter.BonusEligible != nil {
		query += " AND bonus_eligible = ?"
		args = append(args, *filter.BonusEligible)
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list records", err)
	}
	defer rows.Close()

	var records []generic.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (generic.Record, error) {
	var (
		rec          generic.Record
		quarterKey   string
		firstPayment string
		status       string
		historyJSON  string
		lastUpdated  string
		metadataJSON sql.NullString
	)

	if err := row.Scan(
		&quarterKey, &rec.ID, &firstPayment, &status, &historyJSON,
		&rec.BonusEligible, &lastUpdated, &metadataJSON, &rec.Version,
	); err != nil {
		return rec, err
	}

	rec.QuarterKey = generic.QuarterKey(quarterKey)
	rec.FirstPayment = parseTime(firstPayment)
	rec.Status = generic.ParseStatus(status)
	rec.LastUpdated = parseTime(lastUpdated)

	history, err := generic.DecodeHistory([]byte(historyJSON))
	if err != nil {
		return rec, fmt.Errorf("%w: %s: %v", generic.ErrCorruptHistory, rec.Key(), err)
	}
	rec.StatusHistory = history

	if metadataJSON.Valid && metadataJSON.String != "" {
		json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata)
	}

	return rec, nil
}

// =============================================================================
// SETTINGS STORE (generic.SettingsStore interface)
// =============================================================================

// ListSettings returns all general settings ordered by name.
func (s *Store) ListSettings(ctx context.Context) ([]generic.Setting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value, description, data_type FROM general_settings ORDER BY name",
	)
	if err != nil {
		return nil, unavailable("list settings", err)
	}
	defer rows.Close()

	var settings []generic.Setting
	for rows.Next() {
		var st generic.Setting
		var description sql.NullString
		var dataType string
		if err := rows.Scan(&st.Name, &st.Value, &description, &dataType); err != nil {
			return nil, err
		}
		st.Description = description.String
		st.DataType = generic.SettingType(dataType)
		settings = append(settings, st)
	}
	return settings, rows.Err()
}

// SaveSetting inserts or updates a setting. An empty description or data
// type keeps the stored one.
func (s *Store) SaveSetting(ctx context.Context, st generic.Setting) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dataType := st.DataType
	if dataType == "" {
		dataType = generic.SettingString
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO general_settings (name, value, description, data_type)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			description = COALESCE(NULLIF(excluded.description, ''), general_settings.description),
			data_type = CASE WHEN ? = '' THEN general_settings.data_type ELSE excluded.data_type END
	`, st.Name, st.Value, st.Description, string(dataType), string(st.DataType))
	if err != nil {
		return unavailable("save setting", err)
	}
	return nil
}

// ListSplits returns the prize splits ordered by place.
func (s *Store) ListSplits(ctx context.Context) ([]generic.Split, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT place, percentage FROM bonus_splits ORDER BY place")
	if err != nil {
		return nil, unavailable("list splits", err)
	}
	defer rows.Close()

	var splits []generic.Split
	for rows.Next() {
		var sp generic.Split
		var pct string
		if err := rows.Scan(&sp.Place, &pct); err != nil {
			return nil, err
		}
		sp.Percentage, err = decimal.NewFromString(pct)
		if err != nil {
			return nil, fmt.Errorf("split for place %d: %w", sp.Place, err)
		}
		splits = append(splits, sp)
	}
	return splits, rows.Err()
}

// ReplaceSplits atomically replaces the whole split table.
func (s *Store) ReplaceSplits(ctx context.Context, splits []generic.Split) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM bonus_splits"); err != nil {
		return err
	}
	for _, sp := range splits {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO bonus_splits (place, percentage) VALUES (?, ?)",
			sp.Place, sp.Percentage.String(),
		); err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("%w: duplicate place %d", generic.ErrInvalidSplits, sp.Place)
			}
			return err
		}
	}
	return tx.Commit()
}

// ListExcludedReps returns excluded sales rep names in alphabetical order.
func (s *Store) ListExcludedReps(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM excluded_sales_reps ORDER BY name")
	if err != nil {
		return nil, unavailable("list excluded reps", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ReplaceExcludedReps atomically replaces the exclusion list. Blank names
// are dropped and case-insensitive duplicates collapse to one row.
func (s *Store) ReplaceExcludedReps(ctx context.Context, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM excluded_sales_reps"); err != nil {
		return err
	}
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO excluded_sales_reps (name) VALUES (?)", name,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// =============================================================================
// IMPORT RUNS STORE (generic.ImportRunStore interface)
// =============================================================================

// SaveImportRun inserts or updates an import run.
func (s *Store) SaveImportRun(ctx context.Context, r generic.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO import_runs (id, source, status, rows_total, processed, skipped,
			filtered, failed, eligible, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			rows_total = excluded.rows_total,
			processed = excluded.processed,
			skipped = excluded.skipped,
			filtered = excluded.filtered,
			failed = excluded.failed,
			eligible = excluded.eligible,
			error = excluded.error,
			completed_at = excluded.completed_at
	`

	var completedAt *string
	if r.CompletedAt != nil {
		s := formatTime(*r.CompletedAt)
		completedAt = &s
	}

	_, err := s.db.ExecContext(ctx, query,
		r.ID, r.Source, r.Status, r.Rows, r.Processed, r.Skipped,
		r.Filtered, r.Failed, r.Eligible, nullString(r.Error),
		formatTime(r.StartedAt), completedAt,
	)
	return err
}

// ListImportRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListImportRuns(ctx context.Context, limit int) ([]generic.ImportRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, source, status, rows_total, processed, skipped, filtered,
			failed, eligible, error, started_at, completed_at
		FROM import_runs
		ORDER BY started_at DESC, rowid DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list import runs", err)
	}
	defer rows.Close()

	var runs []generic.ImportRun
	for rows.Next() {
		var r generic.ImportRun
		var errText, completedAt sql.NullString
		var startedAt string
		if err := rows.Scan(
			&r.ID, &r.Source, &r.Status, &r.Rows, &r.Processed, &r.Skipped,
			&r.Filtered, &r.Failed, &r.Eligible, &errText, &startedAt, &completedAt,
		); err != nil {
			return nil, err
		}

		r.Error = errText.String
		r.StartedAt = parseTime(startedAt)
		if completedAt.Valid {
			t := parseTime(completedAt.String)
			r.CompletedAt = &t
		}

		runs = append(runs, r)
	}

	return runs, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// formatTime keeps nanoseconds: day counts near the 30-day threshold
// depend on them.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, generic.ErrStoreUnavailable, err)
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
