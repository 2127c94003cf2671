package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settlement_journal (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tx_id TEXT NOT NULL,
    event TEXT NOT NULL,
    token TEXT NOT NULL,
    originator TEXT NOT NULL,
    amount TEXT NOT NULL,
    fee TEXT NOT NULL DEFAULT '',
    net TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlement_journal_tx ON settlement_journal(tx_id);
`

// ErrPathRequired is returned when the backing store path is missing.
var ErrPathRequired = errors.New("audit journal path must be configured")

// Entry is one row of the settlement journal.
type Entry struct {
	TxID       string
	Event      string
	Token      string
	Originator string
	Amount     string
	Fee        string
	Net        string
	RecordedAt time.Time
}

// Journal persists an append-only history of settlement lifecycle events
// alongside the authoritative key-value state, so operators can reconcile
// fiat payouts without replaying the chain.
type Journal struct {
	db *sql.DB
}

// Open initialises the backing store using a sqlite-compatible DSN.
func Open(path string) (*Journal, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close releases database resources.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Record appends one lifecycle event to the journal.
func (j *Journal) Record(ctx context.Context, entry Entry) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	if entry.TxID == "" || entry.Event == "" {
		return fmt.Errorf("journal entry requires tx id and event")
	}
	recorded := entry.RecordedAt
	if recorded.IsZero() {
		recorded = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
        INSERT INTO settlement_journal(tx_id, event, token, originator, amount, fee, net, recorded_at)
        VALUES(?, ?, ?, ?, ?, ?, ?, ?)
    `, entry.TxID, entry.Event, entry.Token, entry.Originator, entry.Amount, entry.Fee, entry.Net, recorded.UTC())
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// History returns the journal rows for one transaction in insertion order.
func (j *Journal) History(ctx context.Context, txID string) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT tx_id, event, token, originator, amount, fee, net, recorded_at
        FROM settlement_journal
        WHERE tx_id = ?
        ORDER BY id ASC
    `, txID)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the newest journal rows, capped at limit.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, fmt.Errorf("journal not configured")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT tx_id, event, token, originator, amount, fee, net, recorded_at
        FROM settlement_journal
        ORDER BY id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ExportCSV streams the full journal as CSV for reconciliation tooling.
func (j *Journal) ExportCSV(ctx context.Context, w io.Writer) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("journal not configured")
	}
	rows, err := j.db.QueryContext(ctx, `
        SELECT tx_id, event, token, originator, amount, fee, net, recorded_at
        FROM settlement_journal
        ORDER BY id ASC
    `)
	if err != nil {
		return fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"tx_id", "event", "token", "originator", "amount", "fee", "net", "recorded_at"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.TxID, &entry.Event, &entry.Token, &entry.Originator,
			&entry.Amount, &entry.Fee, &entry.Net, &entry.RecordedAt); err != nil {
			return fmt.Errorf("scan journal entry: %w", err)
		}
		record := []string{
			entry.TxID, entry.Event, entry.Token, entry.Originator,
			entry.Amount, entry.Fee, entry.Net, entry.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate journal: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.TxID, &entry.Event, &entry.Token, &entry.Originator,
			&entry.Amount, &entry.Fee, &entry.Net, &entry.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal: %w", err)
	}
	return entries, nil
}
