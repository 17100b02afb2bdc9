package database

import (
	"database/sql"
	stdlog "log"

	"github.com/username/cryptotax/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

func InitDB(databasePath string) {
	db, err := sql.Open("sqlite", databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}

	DB = db

	if logger.L != nil {
		logger.L.Info("Checking database migrations", "databasePath", databasePath)
	} else {
		stdlog.Println("Checking database migrations for:", databasePath)
	}
	migrateTransactionsTable()

	createTableStatement := `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		asset TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		exchange TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS tax_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		asset TEXT NOT NULL,
		quantity_sold TEXT NOT NULL,
		cost_basis TEXT NOT NULL,
		proceeds TEXT NOT NULL,
		gain_loss TEXT NOT NULL,
		holding_period_days INTEGER NOT NULL,
		is_long_term BOOLEAN NOT NULL,
		tax_year INTEGER NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_tax_events_user_year ON tax_events(user_id, tax_year);

	CREATE TABLE IF NOT EXISTS tax_rates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		jurisdiction TEXT NOT NULL,
		year INTEGER NOT NULL,
		bands TEXT NOT NULL,
		allowance TEXT NOT NULL,
		currency TEXT NOT NULL,
		rules TEXT,
		source TEXT,
		last_updated TEXT NOT NULL,
		UNIQUE(jurisdiction, year)
	);
	`

	_, err = DB.Exec(createTableStatement)
	if err != nil {
		if logger.L != nil {
			logger.L.Error("failed to create tables", "error", err)
		}
		stdlog.Fatalf("failed to create tables: %v", err)
	}
	if logger.L != nil {
		logger.L.Info("Database tables ensured/created.")
	} else {
		stdlog.Println("Database tables ensured/created.")
	}
}

func migrateTransactionsTable() {
	var tableName string
	err := DB.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='transactions'").Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return
		}
		if logger.L != nil {
			logger.L.Error("Error checking for 'transactions' table", "error", err)
		} else {
			stdlog.Printf("Error checking for 'transactions' table: %v", err)
		}
		return
	}

	rows, err := DB.Query("PRAGMA table_info(transactions)")
	if err != nil {
		if logger.L != nil {
			logger.L.Error("Error querying table schema for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error querying table schema for 'transactions': %v", err)
		}
		return
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}

		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			if logger.L != nil {
				logger.L.Error("Error scanning column info for 'transactions'", "error", err)
			} else {
				stdlog.Printf("Error scanning column info for 'transactions': %v", err)
			}
			return
		}
		columnExists[name] = true
	}
	if err = rows.Err(); err != nil {
		if logger.L != nil {
			logger.L.Error("Error iterating over column info for 'transactions'", "error", err)
		} else {
			stdlog.Printf("Error iterating over column info for 'transactions': %v", err)
		}
		return
	}

	if _, ok := columnExists["exchange"]; !ok {
		_, err := DB.Exec("ALTER TABLE transactions ADD COLUMN exchange TEXT")
		if err != nil {
			logger.L.Error("Error adding 'exchange' column to 'transactions' table", "error", err)
		} else {
			logger.L.Info("Added 'exchange' column to 'transactions' table")
		}
	}
}
