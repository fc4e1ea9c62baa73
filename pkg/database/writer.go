// Package database stores detected leaks in PostgreSQL and resolves AS
// countries from a CSV file or a database table.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hervehildenbrand/bgp-leakscan/pkg/models"
	"github.com/lib/pq"
	log "github.com/sirupsen/logrus"
)

const batchSize = 50

var severityOrder = map[string]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

// Open connects to PostgreSQL and checks the connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	log.Info("Connected to PostgreSQL database")
	return db, nil
}

// WriterStats counts what a LeakWriter did.
type WriterStats struct {
	Inserted uint64
	Updated  uint64
	Failed   uint64
	Batches  uint64
}

// LeakWriter writes leak events in batches, one transaction per batch.
// A leak already stored for the same AS and date (or day index, when the
// dataset has no start date) is refreshed instead of duplicated.
type LeakWriter struct {
	db    *sql.DB
	table string
	stats WriterStats
}

// NewLeakWriter creates a writer on table (default "route_leaks").
func NewLeakWriter(db *sql.DB, table string) *LeakWriter {
	if table == "" {
		table = "route_leaks"
	}
	return &LeakWriter{db: db, table: table}
}

// EnsureSchema creates the leak table if it does not exist.
func (w *LeakWriter) EnsureSchema(ctx context.Context) error {
	table := pq.QuoteIdentifier(w.table)
	_, err := w.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			id             BIGSERIAL PRIMARY KEY,
			run_id         UUID NOT NULL,
			country_code   TEXT NOT NULL DEFAULT '',
			event_type     TEXT NOT NULL,
			severity       TEXT NOT NULL,
			event_category TEXT NOT NULL,
			affected_asn   BIGINT NOT NULL,
			leak_day       INTEGER NOT NULL,
			leak_date      DATE,
			details        JSONB NOT NULL DEFAULT '{}',
			detected_at    TIMESTAMPTZ NOT NULL,
			last_seen_at   TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", w.table, err)
	}

	// Dated leaks are unique per calendar day; undated ones per day index.
	for _, idx := range []struct{ name, cols, where string }{
		{w.table + "_asn_date_key", "affected_asn, leak_date", "leak_date IS NOT NULL"},
		{w.table + "_asn_day_key", "affected_asn, leak_day", "leak_date IS NULL"},
	} {
		_, err := w.db.ExecContext(ctx, `CREATE UNIQUE INDEX IF NOT EXISTS `+
			pq.QuoteIdentifier(idx.name)+` ON `+table+` (`+idx.cols+`) WHERE `+idx.where)
		if err != nil {
			return fmt.Errorf("create index %s: %w", idx.name, err)
		}
	}
	return nil
}

// Stats returns writer statistics.
func (w *LeakWriter) Stats() WriterStats {
	return w.stats
}

// Publish implements the event sink contract.
func (w *LeakWriter) Publish(ctx context.Context, events []models.LeakEvent) error {
	return w.Write(ctx, events)
}

// Close is a no-op: the caller owns the database handle.
func (w *LeakWriter) Close() error { return nil }

// Write stores events. A failing batch is logged and skipped; the
// remaining batches are still written. The first batch error is returned.
func (w *LeakWriter) Write(ctx context.Context, events []models.LeakEvent) error {
	var firstErr error
	for _, batch := range chunk(events, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.writeBatch(ctx, batch); err != nil {
			w.stats.Failed += uint64(len(batch))
			log.WithError(err).WithField("events", len(batch)).Error("Failed to write leak batch")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	log.WithFields(log.Fields{
		"inserted": w.stats.Inserted,
		"updated":  w.stats.Updated,
		"failed":   w.stats.Failed,
	}).Info("Leak events written")
	return firstErr
}

func chunk(events []models.LeakEvent, size int) [][]models.LeakEvent {
	var out [][]models.LeakEvent
	for len(events) > size {
		out = append(out, events[:size])
		events = events[size:]
	}
	if len(events) > 0 {
		out = append(out, events)
	}
	return out
}

func (w *LeakWriter) writeBatch(ctx context.Context, batch []models.LeakEvent) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var inserted, updated uint64
	for _, event := range batch {
		isNew, err := w.writeEvent(ctx, tx, event)
		if err != nil {
			return fmt.Errorf("AS%d day %d: %w", event.AffectedASN, event.LeakDay, err)
		}
		if isNew {
			inserted++
		} else {
			updated++
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	w.stats.Inserted += inserted
	w.stats.Updated += updated
	w.stats.Batches++
	return nil
}

func (w *LeakWriter) writeEvent(ctx context.Context, tx *sql.Tx, event models.LeakEvent) (bool, error) {
	table := pq.QuoteIdentifier(w.table)

	var existingID int64
	var existingSeverity string
	query, args := existingLeakQuery(table, event)
	err := tx.QueryRowContext(ctx, query, args...).Scan(&existingID, &existingSeverity)

	if err == nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE `+table+`
			SET last_seen_at = $1, severity = $2, run_id = $3
			WHERE id = $4
		`, event.DetectedAt, maxSeverity(existingSeverity, event.Severity), event.RunID, existingID)
		if err != nil {
			return false, fmt.Errorf("update leak %d: %w", existingID, err)
		}
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check existing leak: %w", err)
	}

	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		detailsJSON = []byte("{}")
	}
	var leakDate interface{}
	if event.LeakDate != "" {
		leakDate = event.LeakDate
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+table+` (
			run_id, country_code, event_type, severity, event_category,
			affected_asn, leak_day, leak_date, details,
			detected_at, last_seen_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		event.RunID,
		event.CountryCode,
		event.EventType,
		event.Severity,
		event.EventCategory,
		event.AffectedASN,
		event.LeakDay,
		leakDate,
		string(detailsJSON),
		event.DetectedAt,
		event.DetectedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert leak: %w", err)
	}
	return true, nil
}

// existingLeakQuery finds the stored row for event. Day indexes are relative
// to each dataset's start, so they only identify a leak when no date is known.
func existingLeakQuery(table string, event models.LeakEvent) (string, []interface{}) {
	if event.LeakDate != "" {
		return `SELECT id, severity FROM ` + table + `
		WHERE affected_asn = $1 AND leak_date = $2
		LIMIT 1`, []interface{}{event.AffectedASN, event.LeakDate}
	}
	return `SELECT id, severity FROM ` + table + `
		WHERE affected_asn = $1 AND leak_day = $2 AND leak_date IS NULL
		LIMIT 1`, []interface{}{event.AffectedASN, event.LeakDay}
}

// maxSeverity keeps the more severe of two levels.
func maxSeverity(a, b string) string {
	if severityOrder[b] > severityOrder[a] {
		return b
	}
	return a
}
