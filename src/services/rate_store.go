package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/cryptotax/src/models"
)

// sqliteRateStore persists rate schedules in the tax_rates table. Bands and
// rules are stored as JSON columns; writes are idempotent upserts keyed by
// (jurisdiction, year) so concurrent refreshes cannot corrupt state.
type sqliteRateStore struct {
	db *sql.DB
}

func NewSQLiteRateStore(db *sql.DB) RateStore {
	return &sqliteRateStore{db: db}
}

func (s *sqliteRateStore) Get(jurisdiction string, year int) (*models.RateSchedule, error) {
	row := s.db.QueryRow(`SELECT bands, allowance, currency, rules, source, last_updated
		FROM tax_rates WHERE jurisdiction = ? AND year = ?`, jurisdiction, year)

	var bandsJSON, allowanceStr, currency, source, lastUpdatedStr string
	var rulesJSON sql.NullString
	err := row.Scan(&bandsJSON, &allowanceStr, &currency, &rulesJSON, &source, &lastUpdatedStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error querying tax_rates for %s/%d: %w", jurisdiction, year, err)
	}

	schedule := models.RateSchedule{
		Jurisdiction: jurisdiction,
		TaxYear:      year,
		Currency:     currency,
		Source:       source,
	}
	if err := json.Unmarshal([]byte(bandsJSON), &schedule.Bands); err != nil {
		return nil, fmt.Errorf("error decoding bands for %s/%d: %w", jurisdiction, year, err)
	}
	if rulesJSON.Valid && rulesJSON.String != "" {
		if err := json.Unmarshal([]byte(rulesJSON.String), &schedule.Rules); err != nil {
			return nil, fmt.Errorf("error decoding rules for %s/%d: %w", jurisdiction, year, err)
		}
	}
	schedule.Allowance, err = decimal.NewFromString(allowanceStr)
	if err != nil {
		return nil, fmt.Errorf("error decoding allowance for %s/%d: %w", jurisdiction, year, err)
	}
	schedule.LastUpdated, err = time.Parse(time.RFC3339, lastUpdatedStr)
	if err != nil {
		return nil, fmt.Errorf("error decoding last_updated for %s/%d: %w", jurisdiction, year, err)
	}
	return &schedule, nil
}

func (s *sqliteRateStore) Put(schedule models.RateSchedule) error {
	if err := schedule.Validate(); err != nil {
		return fmt.Errorf("refusing to store invalid schedule: %w", err)
	}

	bandsJSON, err := json.Marshal(schedule.Bands)
	if err != nil {
		return fmt.Errorf("error encoding bands for %s/%d: %w", schedule.Jurisdiction, schedule.TaxYear, err)
	}
	rulesJSON, err := json.Marshal(schedule.Rules)
	if err != nil {
		return fmt.Errorf("error encoding rules for %s/%d: %w", schedule.Jurisdiction, schedule.TaxYear, err)
	}

	lastUpdated := schedule.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	_, err = s.db.Exec(`INSERT INTO tax_rates (jurisdiction, year, bands, allowance, currency, rules, source, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jurisdiction, year) DO UPDATE SET
			bands = excluded.bands,
			allowance = excluded.allowance,
			currency = excluded.currency,
			rules = excluded.rules,
			source = excluded.source,
			last_updated = excluded.last_updated`,
		schedule.Jurisdiction, schedule.TaxYear, string(bandsJSON), schedule.Allowance.String(),
		schedule.Currency, string(rulesJSON), schedule.Source, lastUpdated.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("error upserting tax_rates for %s/%d: %w", schedule.Jurisdiction, schedule.TaxYear, err)
	}
	return nil
}
