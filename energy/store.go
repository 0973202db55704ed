/*
store.go - Persistence interfaces for readings, summaries and settings

PURPOSE:
  Defines the boundary between the recalculation logic and the database.
  Implementations: store/sqlite (production) and energy/store (in-memory,
  for tests and dev).

KEY INTERFACES:
  ReadingStore:   Row-level reads and writes used by the recalculator
  TxStore:        ReadingStore plus an explicit transactional scope
  ReadingQuerier: Read-side listing and aggregation queries
  SettingsStore:  Key/value settings

TRANSACTIONS:
  Every mutating recalculator operation runs inside WithTx. The function
  receives a ReadingStore bound to the transaction; returning an error
  rolls back every write made through it.
*/
package energy

import "context"

// ReadingStore is the row-level persistence used by the recalculator.
type ReadingStore interface {
	// GetReading returns the reading with id or a *NotFoundError.
	GetReading(ctx context.Context, id ReadingID) (Reading, error)

	// Predecessor returns the reading with the largest date strictly before
	// date, or nil.
	Predecessor(ctx context.Context, date Date) (*Reading, error)

	// Successor returns the reading with the smallest date strictly after
	// date, or nil.
	Successor(ctx context.Context, date Date) (*Reading, error)

	// InsertReading persists r and returns its new id.
	// Returns a *DuplicateDateError if the date is taken.
	InsertReading(ctx context.Context, r Reading) (ReadingID, error)

	// UpdateReading replaces every column of the row r.ID.
	// Returns *NotFoundError or *DuplicateDateError.
	UpdateReading(ctx context.Context, r Reading) error

	// SetConsumption overwrites only the derived columns of id.
	SetConsumption(ctx context.Context, id ReadingID, hp, elec *float64) error

	// DeleteReading removes id. Returns *NotFoundError if missing.
	DeleteReading(ctx context.Context, id ReadingID) error
}

// TxStore wraps ReadingStore with transaction support.
type TxStore interface {
	ReadingStore

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(ReadingStore) error) error
}

// ReadingQuerier serves the read side: listings, charts and aggregation.
type ReadingQuerier interface {
	// ListReadings returns one page ordered by date descending, plus the
	// total number of rows matching the filter.
	ListReadings(ctx context.Context, f ReadingFilter) ([]Reading, int, error)

	// ReadingsInMonth returns every reading in m, ascending by date.
	ReadingsInMonth(ctx context.Context, m YearMonth) ([]Reading, error)

	// ConsumptionHistory returns every reading with a heat-pump
	// consumption, ascending by date.
	ConsumptionHistory(ctx context.Context) ([]Reading, error)

	// LatestReading returns the reading with the greatest date, or nil.
	LatestReading(ctx context.Context) (*Reading, error)

	// MonthlySummaries returns the seeded rollups ordered by year, month.
	MonthlySummaries(ctx context.Context) ([]MonthlySummary, error)
}

// SettingsStore persists key/value settings.
type SettingsStore interface {
	// GetSetting returns the stored value and whether it exists.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListSettings(ctx context.Context) (map[string]string, error)
}
