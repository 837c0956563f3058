// Package storage persists and exports lead snapshots. The pipeline itself is
// in-memory only; these sinks consume Snapshot() output after (or during) a
// run.
package storage

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib" // Import the driver
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/genusglobalinc/leadbot/pkg/models"
)

const leadsDDL = `
CREATE TABLE IF NOT EXISTS leads (
	url          TEXT PRIMARY KEY,
	name         TEXT,
	state        TEXT NOT NULL,
	fail_reason  TEXT,
	retries      INT NOT NULL DEFAULT 0,
	title        TEXT,
	emails       TEXT,
	phones       TEXT,
	label        TEXT,
	company_name TEXT,
	contact_name TEXT,
	email        TEXT,
	phone        TEXT,
	industry     TEXT,
	summary      TEXT,
	confidence   TEXT,
	updated_at   TIMESTAMPTZ NOT NULL
)`

type Storage struct {
	db *sql.DB
}

// Open connects with a short ping-retry loop so a container database that is
// still warming up does not fail the run.
func Open(dbURL string) (*Storage, error) {
	var db *sql.DB
	var err error
	for i := 0; i < 5; i++ {
		db, err = sql.Open("pgx", dbURL)
		if err == nil {
			if err = db.Ping(); err == nil {
				break
			}
		}
		zap.L().Warn("storage: waiting for database", zap.Error(err))
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, eris.Wrap(err, "storage: connect")
	}
	if _, err := db.Exec(leadsDDL); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "storage: create leads table")
	}
	return &Storage{db: db}, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

// SaveLeads upserts a snapshot batch in one transaction. Later runs overwrite
// earlier rows for the same URL.
func (s *Storage) SaveLeads(batch []models.LeadRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return eris.Wrap(err, "storage: begin tx")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO leads (url, name, state, fail_reason, retries, title, emails, phones,
			label, company_name, contact_name, email, phone, industry, summary, confidence, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (url) DO UPDATE SET
			state = EXCLUDED.state,
			fail_reason = EXCLUDED.fail_reason,
			retries = EXCLUDED.retries,
			title = EXCLUDED.title,
			emails = EXCLUDED.emails,
			phones = EXCLUDED.phones,
			label = EXCLUDED.label,
			company_name = EXCLUDED.company_name,
			contact_name = EXCLUDED.contact_name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			industry = EXCLUDED.industry,
			summary = EXCLUDED.summary,
			confidence = EXCLUDED.confidence,
			updated_at = EXCLUDED.updated_at`)
	if err != nil {
		return eris.Wrap(err, "storage: prepare upsert")
	}
	defer stmt.Close()

	for _, r := range batch {
		row := flatten(r)
		if _, err := stmt.Exec(
			row.URL, row.Name, row.State, row.FailReason, row.Retries,
			row.Title, row.Emails, row.Phones,
			row.Label, row.CompanyName, row.ContactName, row.Email, row.Phone,
			row.Industry, row.Summary, row.Confidence, r.UpdatedAt,
		); err != nil {
			zap.L().Warn("storage: upsert failed",
				zap.String("url", r.Key),
				zap.Error(err),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "storage: commit")
	}
	zap.L().Info("storage: saved leads", zap.Int("count", len(batch)))
	return nil
}

// LoadLeads reads the persisted table back into records, most recent first.
// Only the flat columns survive the round trip; audit trails do not.
func (s *Storage) LoadLeads() ([]models.LeadRecord, error) {
	rows, err := s.db.Query(`
		SELECT url, name, state, fail_reason, retries, title, emails, phones,
			label, company_name, contact_name, email, phone, industry, summary, confidence, updated_at
		FROM leads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "storage: query leads")
	}
	defer rows.Close()

	var out []models.LeadRecord
	for rows.Next() {
		var r row
		var updatedAt time.Time
		if err := rows.Scan(
			&r.URL, &r.Name, &r.State, &r.FailReason, &r.Retries,
			&r.Title, &r.Emails, &r.Phones,
			&r.Label, &r.CompanyName, &r.ContactName, &r.Email, &r.Phone,
			&r.Industry, &r.Summary, &r.Confidence, &updatedAt,
		); err != nil {
			return nil, eris.Wrap(err, "storage: scan lead")
		}
		rec := unflatten(r)
		rec.UpdatedAt = updatedAt
		rec.Seq = len(out)
		out = append(out, rec)
	}
	return out, rows.Err()
}
