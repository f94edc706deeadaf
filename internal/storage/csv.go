package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/callseason/internal/logger"
	"github.com/rewired-gh/callseason/internal/models"
)

const monthLayout = "2006-01"

var csvColumns = []string{"company_id", "company_name", "date", "calls"}

// ImportStats summarizes a CSV import.
type ImportStats struct {
	Rows         int `json:"rows"`
	Companies    int `json:"companies"`
	Observations int `json:"observations"`
}

type importedCompany struct {
	name   string
	days   map[string]float64
	states map[string]struct{}
}

// ImportCSV loads warehouse rows with the header company_id,company_name,date,calls
// (columns in any order) and an optional state column listing where the calls
// came from. Dates are YYYY-MM-DD or YYYY-MM; a month is stored on its first day. Rows repeating a company and day are summed. The whole file is
// written in one transaction, so a bad row imports nothing.
func (s *Storage) ImportCSV(ctx context.Context, r io.Reader) (ImportStats, error) {
	var stats ImportStats

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read CSV header: %w", err)
	}
	col, err := columnIndex(header)
	if err != nil {
		return stats, err
	}
	stateCol, hasState := col["state"]

	companies := make(map[string]*importedCompany)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("failed to read CSV: %w", err)
		}
		stats.Rows++
		line, _ := reader.FieldPos(0)

		id := strings.TrimSpace(record[col["company_id"]])
		name := strings.TrimSpace(record[col["company_name"]])
		day, err := parseDay(strings.TrimSpace(record[col["date"]]))
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
		calls, err := strconv.ParseFloat(strings.TrimSpace(record[col["calls"]]), 64)
		if err != nil {
			return stats, fmt.Errorf("line %d: invalid calls value: %w", line, err)
		}
		obs := models.Observation{Date: day, Volume: calls}
		if err := obs.Validate(); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}

		c, ok := companies[id]
		if !ok {
			company := models.Company{ID: id, Name: name, CreatedAt: s.now().UTC()}
			if err := company.Validate(); err != nil {
				return stats, fmt.Errorf("line %d: %w", line, err)
			}
			c = &importedCompany{name: name, days: make(map[string]float64), states: make(map[string]struct{})}
			companies[id] = c
		}
		c.days[day.Format(models.DateLayout)] += calls
		if hasState {
			if state := strings.TrimSpace(record[stateCol]); state != "" {
				c.states[state] = struct{}{}
			}
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(companies))
	for id := range companies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		c := companies[id]
		company := &models.Company{ID: id, Name: c.name, CreatedAt: s.now().UTC()}
		for state := range c.states {
			company.States = append(company.States, state)
		}
		sort.Strings(company.States)
		if err := upsertCompany(ctx, tx, company); err != nil {
			return stats, err
		}

		observations := make([]models.Observation, 0, len(c.days))
		for day, calls := range c.days {
			date, _ := time.Parse(models.DateLayout, day)
			observations = append(observations, models.Observation{Date: date, Volume: calls})
		}
		sort.Slice(observations, func(i, j int) bool {
			return observations[i].Date.Before(observations[j].Date)
		})
		if err := insertObservations(ctx, tx, id, observations); err != nil {
			return stats, err
		}
		stats.Observations += len(observations)
	}

	if err := tx.Commit(); err != nil {
		return stats, fmt.Errorf("failed to commit import: %w", err)
	}
	stats.Companies = len(companies)

	logger.Info("Imported %d rows: %d companies, %d observations", stats.Rows, stats.Companies, stats.Observations)
	return stats, nil
}

func columnIndex(header []string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, name := range csvColumns {
		if _, ok := col[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("CSV header is missing columns: %s", strings.Join(missing, ", "))
	}
	return col, nil
}

func parseDay(value string) (time.Time, error) {
	if t, err := time.Parse(models.DateLayout, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(monthLayout, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD or YYYY-MM", value)
}
