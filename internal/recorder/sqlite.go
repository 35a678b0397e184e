package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteRecorder persists liquidation history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so dashboards can read while the bot writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS unhealthy_events (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			account        TEXT,
			vault          TEXT,
			health_score   REAL,
			value_borrowed TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unhealthy_ts ON unhealthy_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS liquidation_attempts (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			account          TEXT,
			vault            TEXT,
			collateral_vault TEXT,
			profitable       INTEGER,
			profit           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_ts ON liquidation_attempts(timestamp)`,

		`CREATE TABLE IF NOT EXISTS liquidation_results (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			account          TEXT,
			vault            TEXT,
			collateral_vault TEXT,
			tx_hash          TEXT,
			repay_amount     TEXT,
			seized_shares    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_ts ON liquidation_results(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordUnhealthy(evt *UnhealthyEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO unhealthy_events
		(timestamp, account, vault, health_score, value_borrowed)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.Account, evt.Vault, evt.HealthScore, evt.ValueBorrowed,
	)
	return err
}

func (r *SQLiteRecorder) RecordAttempt(evt *AttemptEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	profitable := 0
	if evt.Profitable {
		profitable = 1
	}
	_, err := r.db.Exec(`INSERT INTO liquidation_attempts
		(timestamp, account, vault, collateral_vault, profitable, profit)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Account, evt.Vault, evt.CollateralVault, profitable, evt.Profit,
	)
	return err
}

func (r *SQLiteRecorder) RecordResult(evt *ResultEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO liquidation_results
		(timestamp, account, vault, collateral_vault, tx_hash, repay_amount, seized_shares)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), evt.Account, evt.Vault, evt.CollateralVault,
		evt.TxHash, evt.RepayAmount, evt.SeizedShares,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	log.Println("[INFO] closing sqlite recorder")
	return r.db.Close()
}
