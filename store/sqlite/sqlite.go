/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements energy.TxStore, energy.ReadingQuerier and energy.SettingsStore
  on a single SQLite file.

KEY TABLES:
  daily_readings:  One row per calendar date, raw meters + derived consumption
  monthly_summary: Seeded historical rollups, UNIQUE(year, month)
  settings:        Key/value pairs (price, location)

INDEXES:
  The UNIQUE constraint on daily_readings.date doubles as the index for
  every predecessor/successor lookup and month prefix scan.

CONCURRENCY:
  Single writer. Writes take the store's write lock for the whole
  transaction; reads take the read lock. The pool is capped at one
  connection so that ":memory:" databases are shared by every query.

WAL MODE:
  Opened with WAL so dashboard reads don't block on an in-flight write.

USAGE:
  store, err := sqlite.New("./data/waermepumpe.db")
  if err != nil {
      return err
  }
  defer store.Close()

  rc := energy.NewRecalculator(store)

SEE ALSO:
  - energy/store.go: Interface definitions
  - seed.go: First-start seeding
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/kindenheim/heatpump-monitor/energy"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is the subset of *sql.DB and *sql.Tx the queries need.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	if dbPath != ":memory:" && !strings.HasPrefix(dbPath, "file:") {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ok int
	if err := s.db.QueryRowContext(ctx, "SELECT 1").Scan(&ok); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS daily_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT UNIQUE NOT NULL,
		meter_hp REAL NOT NULL,
		meter_elec REAL,
		consumption_hp REAL,
		consumption_elec REAL,
		temp_min REAL,
		temp_max REAL,
		notes TEXT
	);

	CREATE TABLE IF NOT EXISTS monthly_summary (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		year INTEGER NOT NULL,
		month INTEGER NOT NULL,
		kw_total REAL,
		avg_daily REAL,
		total_cost REAL,
		gas_comparison REAL,
		UNIQUE(year, month)
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// READING STORE (energy.ReadingStore interface)
// =============================================================================

const readingColumns = `id, date, meter_hp, meter_elec, consumption_hp, consumption_elec, temp_min, temp_max, notes`

func (s *Store) GetReading(ctx context.Context, id energy.ReadingID) (energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readings{q: s.db}.GetReading(ctx, id)
}

func (s *Store) Predecessor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readings{q: s.db}.Predecessor(ctx, date)
}

func (s *Store) Successor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return readings{q: s.db}.Successor(ctx, date)
}

func (s *Store) InsertReading(ctx context.Context, r energy.Reading) (energy.ReadingID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readings{q: s.db}.InsertReading(ctx, r)
}

func (s *Store) UpdateReading(ctx context.Context, r energy.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readings{q: s.db}.UpdateReading(ctx, r)
}

func (s *Store) SetConsumption(ctx context.Context, id energy.ReadingID, hp, elec *float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readings{q: s.db}.SetConsumption(ctx, id, hp, elec)
}

func (s *Store) DeleteReading(ctx context.Context, id energy.ReadingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readings{q: s.db}.DeleteReading(ctx, id)
}

// =============================================================================
// TRANSACTIONAL STORE (energy.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(energy.ReadingStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(readings{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// readings runs the reading queries against a connection or a transaction.
// It takes no locks; callers hold Store.mu.
type readings struct {
	q dbtx
}

func (rs readings) GetReading(ctx context.Context, id energy.ReadingID) (energy.Reading, error) {
	row := rs.q.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM daily_readings WHERE id = ?", id)
	r, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return energy.Reading{}, &energy.NotFoundError{ID: id}
	}
	if err != nil {
		return energy.Reading{}, fmt.Errorf("failed to get reading %d: %w", id, err)
	}
	return r, nil
}

func (rs readings) Predecessor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	return rs.neighbor(ctx,
		"SELECT "+readingColumns+" FROM daily_readings WHERE date < ? ORDER BY date DESC LIMIT 1", date)
}

func (rs readings) Successor(ctx context.Context, date energy.Date) (*energy.Reading, error) {
	return rs.neighbor(ctx,
		"SELECT "+readingColumns+" FROM daily_readings WHERE date > ? ORDER BY date ASC LIMIT 1", date)
}

func (rs readings) neighbor(ctx context.Context, query string, date energy.Date) (*energy.Reading, error) {
	r, err := scanReading(rs.q.QueryRowContext(ctx, query, string(date)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find neighbor of %s: %w", date, err)
	}
	return &r, nil
}

func (rs readings) InsertReading(ctx context.Context, r energy.Reading) (energy.ReadingID, error) {
	res, err := rs.q.ExecContext(ctx, `
		INSERT INTO daily_readings
		(date, meter_hp, meter_elec, consumption_hp, consumption_elec, temp_min, temp_max, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(r.Date), r.MeterHP, nullFloat(r.MeterElec),
		nullFloat(r.ConsumptionHP), nullFloat(r.ConsumptionElec),
		nullFloat(r.TempMin), nullFloat(r.TempMax), nullString(r.Notes),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, &energy.DuplicateDateError{Date: r.Date}
		}
		return 0, fmt.Errorf("failed to insert reading: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read inserted id: %w", err)
	}
	return energy.ReadingID(id), nil
}

func (rs readings) UpdateReading(ctx context.Context, r energy.Reading) error {
	res, err := rs.q.ExecContext(ctx, `
		UPDATE daily_readings SET
			date = ?, meter_hp = ?, meter_elec = ?, consumption_hp = ?, consumption_elec = ?,
			temp_min = ?, temp_max = ?, notes = ?
		WHERE id = ?
	`,
		string(r.Date), r.MeterHP, nullFloat(r.MeterElec),
		nullFloat(r.ConsumptionHP), nullFloat(r.ConsumptionElec),
		nullFloat(r.TempMin), nullFloat(r.TempMax), nullString(r.Notes),
		r.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &energy.DuplicateDateError{Date: r.Date}
		}
		return fmt.Errorf("failed to update reading %d: %w", r.ID, err)
	}
	return requireAffected(res, r.ID)
}

func (rs readings) SetConsumption(ctx context.Context, id energy.ReadingID, hp, elec *float64) error {
	res, err := rs.q.ExecContext(ctx,
		"UPDATE daily_readings SET consumption_hp = ?, consumption_elec = ? WHERE id = ?",
		nullFloat(hp), nullFloat(elec), id)
	if err != nil {
		return fmt.Errorf("failed to set consumption of %d: %w", id, err)
	}
	return requireAffected(res, id)
}

func (rs readings) DeleteReading(ctx context.Context, id energy.ReadingID) error {
	res, err := rs.q.ExecContext(ctx, "DELETE FROM daily_readings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete reading %d: %w", id, err)
	}
	return requireAffected(res, id)
}

func requireAffected(res sql.Result, id energy.ReadingID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return &energy.NotFoundError{ID: id}
	}
	return nil
}

// =============================================================================
// QUERIES (energy.ReadingQuerier interface)
// =============================================================================

// ListReadings returns a page of readings, newest first, and the match count.
func (s *Store) ListReadings(ctx context.Context, f energy.ReadingFilter) ([]energy.Reading, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := "", []any{}
	if f.Month != "" {
		where = " WHERE date LIKE ?"
		args = append(args, string(f.Month)+"%")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM daily_readings"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count readings: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	offset := max(f.Offset, 0)

	list, err := s.queryReadings(ctx,
		"SELECT "+readingColumns+" FROM daily_readings"+where+" ORDER BY date DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

// ReadingsInMonth returns the month's readings, oldest first.
func (s *Store) ReadingsInMonth(ctx context.Context, m energy.YearMonth) ([]energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReadings(ctx,
		"SELECT "+readingColumns+" FROM daily_readings WHERE date LIKE ? ORDER BY date ASC",
		string(m)+"%")
}

// ConsumptionHistory returns every reading with a heat-pump consumption, oldest first.
func (s *Store) ConsumptionHistory(ctx context.Context) ([]energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryReadings(ctx,
		"SELECT "+readingColumns+" FROM daily_readings WHERE consumption_hp IS NOT NULL ORDER BY date ASC")
}

// LatestReading returns the most recent reading by date, or nil.
func (s *Store) LatestReading(ctx context.Context) (*energy.Reading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := scanReading(s.db.QueryRowContext(ctx,
		"SELECT "+readingColumns+" FROM daily_readings ORDER BY date DESC LIMIT 1"))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest reading: %w", err)
	}
	return &r, nil
}

// MonthlySummaries returns the seeded rollups in calendar order.
func (s *Store) MonthlySummaries(ctx context.Context) ([]energy.MonthlySummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, year, month, kw_total, avg_daily, total_cost, gas_comparison
		FROM monthly_summary
		ORDER BY year ASC, month ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly summaries: %w", err)
	}
	defer rows.Close()

	var out []energy.MonthlySummary
	for rows.Next() {
		var (
			m                                  energy.MonthlySummary
			kwTotal, avgDaily, totalCost, gasC sql.NullFloat64
		)
		if err := rows.Scan(&m.ID, &m.Year, &m.Month, &kwTotal, &avgDaily, &totalCost, &gasC); err != nil {
			return nil, fmt.Errorf("failed to scan monthly summary: %w", err)
		}
		m.KWTotal = floatPtr(kwTotal)
		m.AvgDaily = floatPtr(avgDaily)
		m.TotalCost = floatPtr(totalCost)
		m.GasComparison = floatPtr(gasC)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) queryReadings(ctx context.Context, query string, args ...any) ([]energy.Reading, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var out []energy.Reading
	for rows.Next() {
		r, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTINGS (energy.SettingsStore interface)
// =============================================================================

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(row scanner) (energy.Reading, error) {
	var (
		r                energy.Reading
		date             string
		meterElec        sql.NullFloat64
		consHP, consElec sql.NullFloat64
		tempMin, tempMax sql.NullFloat64
		notes            sql.NullString
	)
	err := row.Scan(&r.ID, &date, &r.MeterHP, &meterElec, &consHP, &consElec, &tempMin, &tempMax, &notes)
	if err != nil {
		return energy.Reading{}, err
	}
	r.Date = energy.Date(date)
	r.MeterElec = floatPtr(meterElec)
	r.ConsumptionHP = floatPtr(consHP)
	r.ConsumptionElec = floatPtr(consElec)
	r.TempMin = floatPtr(tempMin)
	r.TempMax = floatPtr(tempMax)
	if notes.Valid {
		r.Notes = &notes.String
	}
	return r, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
