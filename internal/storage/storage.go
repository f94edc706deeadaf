// Package storage is the call-volume warehouse: a SQLite database holding the
// company directory and per-day call counts.
//
// It serves both collaborators of the analysis service: FetchRawSeries supplies
// a company's ordered history and ListCompanies/GetCompany act as the company
// directory. Monthly source rows are stored on the first day of their month.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
)

// ErrCompanyNotFound is returned for identifiers missing from the directory.
var ErrCompanyNotFound = errors.New("company not found")

const schema = `
CREATE TABLE IF NOT EXISTS companies (
	company_id   TEXT PRIMARY KEY,
	company_name TEXT NOT NULL,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS call_volumes (
	company_id TEXT NOT NULL REFERENCES companies(company_id) ON DELETE CASCADE,
	day        TEXT NOT NULL,
	calls      REAL NOT NULL CHECK (calls >= 0),
	PRIMARY KEY (company_id, day)
);

CREATE TABLE IF NOT EXISTS company_states (
	company_id TEXT NOT NULL REFERENCES companies(company_id) ON DELETE CASCADE,
	state      TEXT NOT NULL,
	PRIMARY KEY (company_id, state)
);

CREATE INDEX IF NOT EXISTS idx_companies_name ON companies(company_name);
`

// Storage wraps the warehouse database.
type Storage struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// New opens (creating if needed) the warehouse at path. ":memory:" opens a
// private in-memory database.
func New(path string) (*Storage, error) {
	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite registers the "sqlite" driver name
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Pragmas are per connection and every :memory: connection is its own
	// database, so the pool is pinned to one connection.
	db.SetMaxOpenConns(1)

	s := &Storage{db: db, path: path, now: time.Now}

	if err := s.configure(inMemory); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("Warehouse opened at %s", path)
	return s, nil
}

func (s *Storage) configure(inMemory bool) error {
	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	if !inMemory {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *Storage) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database connection.
func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertCompany adds a company or renames an existing one. The original
// creation time is kept on update and States are added to the ones on record.
func (s *Storage) UpsertCompany(ctx context.Context, company *models.Company) error {
	if company.CreatedAt.IsZero() {
		company.CreatedAt = s.now().UTC()
	}
	if err := company.Validate(); err != nil {
		return fmt.Errorf("invalid company: %w", err)
	}
	return upsertCompany(ctx, s.db, company)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func upsertCompany(ctx context.Context, db execer, company *models.Company) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO companies (company_id, company_name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET company_name = excluded.company_name`,
		company.ID, company.Name, company.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to upsert company %s: %w", company.ID, err)
	}
	for _, state := range company.States {
		if _, err := db.ExecContext(ctx,
			`INSERT OR IGNORE INTO company_states (company_id, state) VALUES (?, ?)`,
			company.ID, strings.TrimSpace(state)); err != nil {
			return fmt.Errorf("failed to add state %s for company %s: %w", state, company.ID, err)
		}
	}
	return nil
}

// GetCompany looks a company up in the directory.
func (s *Storage) GetCompany(ctx context.Context, id string) (*models.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT company_id, company_name, created_at FROM companies WHERE company_id = ?`, id)
	company, err := scanCompany(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCompanyNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get company %s: %w", id, err)
	}

	states, err := s.loadStates(ctx, id)
	if err != nil {
		return nil, err
	}
	company.States = states[id]
	return company, nil
}

// ListCompanies returns the directory sorted by name, then identifier.
func (s *Storage) ListCompanies(ctx context.Context) ([]models.Company, error) {
	companies, err := s.listCompanies(ctx)
	if err != nil {
		return nil, err
	}

	// Queried after the company rows are closed: the pool has one connection.
	states, err := s.loadStates(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range companies {
		companies[i].States = states[companies[i].ID]
	}
	return companies, nil
}

func (s *Storage) listCompanies(ctx context.Context) ([]models.Company, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT company_id, company_name, created_at FROM companies ORDER BY company_name, company_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	defer rows.Close()

	companies := make([]models.Company, 0)
	for rows.Next() {
		company, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan company: %w", err)
		}
		companies = append(companies, *company)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, nil
}

// loadStates returns sorted states per company, for one company or, when
// companyID is empty, for all of them.
func (s *Storage) loadStates(ctx context.Context, companyID string) (map[string][]string, error) {
	query := `SELECT company_id, state FROM company_states ORDER BY company_id, state`
	var args []interface{}
	if companyID != "" {
		query = `SELECT company_id, state FROM company_states WHERE company_id = ? ORDER BY state`
		args = append(args, companyID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query company states: %w", err)
	}
	defer rows.Close()

	states := make(map[string][]string)
	for rows.Next() {
		var id, state string
		if err := rows.Scan(&id, &state); err != nil {
			return nil, fmt.Errorf("failed to scan company state: %w", err)
		}
		states[id] = append(states[id], state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read company states: %w", err)
	}
	return states, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCompany(row scanner) (*models.Company, error) {
	var c models.Company
	var created string
	if err := row.Scan(&c.ID, &c.Name, &created); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, created)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at %q for company %s: %w", created, c.ID, err)
	}
	c.CreatedAt = t
	return &c, nil
}

// AddObservations stores call volumes for an existing company in a single
// transaction. An observation for a day already present replaces it.
func (s *Storage) AddObservations(ctx context.Context, companyID string, observations []models.Observation) error {
	for i := range observations {
		if err := observations[i].Validate(); err != nil {
			return fmt.Errorf("invalid observation %d: %w", i, err)
		}
	}
	if _, err := s.GetCompany(ctx, companyID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertObservations(ctx, tx, companyID, observations); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit observations: %w", err)
	}
	return nil
}

func insertObservations(ctx context.Context, tx *sql.Tx, companyID string, observations []models.Observation) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO call_volumes (company_id, day, calls) VALUES (?, ?, ?)
		ON CONFLICT(company_id, day) DO UPDATE SET calls = excluded.calls`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, obs := range observations {
		if _, err := stmt.ExecContext(ctx, companyID, obs.Date.Format(models.DateLayout), obs.Volume); err != nil {
			return fmt.Errorf("failed to insert observation %s for %s: %w",
				obs.Date.Format(models.DateLayout), companyID, err)
		}
	}
	return nil
}

// FetchRawSeries returns a company's full history ordered by day. An unknown
// company yields ErrCompanyNotFound; a known company without data yields an
// empty series.
func (s *Storage) FetchRawSeries(ctx context.Context, companyID string) (models.RawSeries, error) {
	if _, err := s.GetCompany(ctx, companyID); err != nil {
		return models.RawSeries{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT day, calls FROM call_volumes WHERE company_id = ? ORDER BY day`, companyID)
	if err != nil {
		return models.RawSeries{}, fmt.Errorf("failed to query call volumes for %s: %w", companyID, err)
	}
	defer rows.Close()

	series := models.RawSeries{CompanyID: companyID, Observations: make([]models.Observation, 0)}
	for rows.Next() {
		var day string
		var calls float64
		if err := rows.Scan(&day, &calls); err != nil {
			return models.RawSeries{}, fmt.Errorf("failed to scan call volume: %w", err)
		}
		date, err := time.Parse(models.DateLayout, day)
		if err != nil {
			return models.RawSeries{}, fmt.Errorf("invalid day %q for %s: %w", day, companyID, err)
		}
		series.Observations = append(series.Observations, models.Observation{Date: date, Volume: calls})
	}
	if err := rows.Err(); err != nil {
		return models.RawSeries{}, fmt.Errorf("failed to read call volumes for %s: %w", companyID, err)
	}

	logger.Debug("Fetched %d observations for company %s", series.Len(), companyID)
	return series, nil
}

// DeleteCompany removes a company and its call volumes.
func (s *Storage) DeleteCompany(ctx context.Context, companyID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM companies WHERE company_id = ?`, companyID)
	if err != nil {
		return fmt.Errorf("failed to delete company %s: %w", companyID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrCompanyNotFound, companyID)
	}
	return nil
}
