package pricestore

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

// SQLite wraps a Memory store with write-through persistence so last-known
// prices survive restarts. Reads are always served from memory.
type SQLite struct {
	*Memory
	db *sql.DB
}

func OpenSQLite(path string, threshold time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		log.Printf("warning: set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		log.Printf("warning: set synchronous mode: %v", err)
	}

	const schema = `
		CREATE TABLE IF NOT EXISTS prices (
			holding    TEXT PRIMARY KEY,
			price      TEXT NOT NULL,
			currency   TEXT NOT NULL,
			source     TEXT NOT NULL,
			fetched_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create prices table: %w", err)
	}

	s := &SQLite{Memory: NewMemory(threshold), db: db}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) load() error {
	rows, err := s.db.Query("SELECT holding, price, currency, source, fetched_at FROM prices")
	if err != nil {
		return fmt.Errorf("load prices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var e Entry
		var price string
		var fetchedAt int64
		if err := rows.Scan(&e.Holding, &price, &e.Currency, &e.Source, &fetchedAt); err != nil {
			return fmt.Errorf("scan price row: %w", err)
		}
		d, err := decimal.NewFromString(price)
		if err != nil {
			log.Printf("warning: skipping stored price for %s: %v", e.Holding, err)
			continue
		}
		e.Price = d
		e.FetchedAt = time.Unix(fetchedAt, 0).UTC()
		s.Memory.Put(e)
	}
	return rows.Err()
}

func (s *SQLite) Put(e Entry) bool {
	if !s.Memory.Put(e) {
		return false
	}
	_, err := s.db.Exec(`
		INSERT INTO prices (holding, price, currency, source, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(holding) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`, e.Holding, e.Price.String(), e.Currency, e.Source, e.FetchedAt.Unix())
	if err != nil {
		// The in-memory copy is authoritative for this process; losing a
		// persisted row only costs the fallback after a restart.
		log.Printf("warning: persist price for %s: %v", e.Holding, err)
	}
	return true
}

func (s *SQLite) Close() error { return s.db.Close() }
