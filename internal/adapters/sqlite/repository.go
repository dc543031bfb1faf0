// Package sqlite implements ports.StateRepository on a local SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gridPilot/internal/domain"
	"gridPilot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.StateRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (or creates) the database and verifies the schema.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/gridpilot.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// WAL mode for better concurrency between the tick loop and any
	// inspection tooling.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// The Go driver benefits from a single connection with SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trade_type TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		level_index INTEGER NOT NULL,
		fee REAL NOT NULL,
		profit REAL NOT NULL,
		closing INTEGER NOT NULL,
		executed_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_executed_at ON trades (executed_at);

	CREATE TABLE IF NOT EXISTS snapshots (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		taken_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: executing schema: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// AppendTrade persists one trade record and returns its row ID.
func (r *Repository) AppendTrade(ctx context.Context, trade *domain.TradeRecord) (int64, error) {
	if trade == nil {
		return 0, fmt.Errorf("%w: cannot append nil trade", ports.ErrQueryFailed)
	}
	const query = `
		INSERT INTO trades (trade_type, side, quantity, price, level_index, fee, profit, closing, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		string(trade.Type), string(trade.Side), trade.Quantity, trade.Price,
		trade.LevelIndex, trade.Fee, trade.Profit, boolToInt(trade.Closing), trade.ExecutedAt)
	if err != nil {
		r.logger.Error(ctx, err, "failed to insert trade", map[string]interface{}{"type": string(trade.Type)})
		return 0, fmt.Errorf("%w: inserting trade: %w", ports.ErrQueryFailed, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: reading trade id: %w", ports.ErrQueryFailed, err)
	}
	return id, nil
}

// FindTrades retrieves the most recent trades, oldest first, up to
// limit (0 means all).
func (r *Repository) FindTrades(ctx context.Context, limit int) ([]*domain.TradeRecord, error) {
	query := `
		SELECT id, trade_type, side, quantity, price, level_index, fee, profit, closing, executed_at
		FROM trades ORDER BY id`
	args := []interface{}{}
	if limit > 0 {
		// Last N rows, still returned oldest first.
		query = `
			SELECT id, trade_type, side, quantity, price, level_index, fee, profit, closing, executed_at
			FROM (
				SELECT * FROM trades ORDER BY id DESC LIMIT ?
			) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: querying trades: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	var trades []*domain.TradeRecord
	for rows.Next() {
		var t domain.TradeRecord
		var tradeType, side string
		var closing int
		if err := rows.Scan(&t.ID, &tradeType, &side, &t.Quantity, &t.Price,
			&t.LevelIndex, &t.Fee, &t.Profit, &closing, &t.ExecutedAt); err != nil {
			return nil, fmt.Errorf("%w: scanning trade row: %w", ports.ErrQueryFailed, err)
		}
		t.Type = domain.TradeType(tradeType)
		t.Side = domain.OrderSide(side)
		t.Closing = closing != 0
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating trade rows: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// SaveSnapshot stores the engine snapshot as a JSON payload, replacing
// any previous one.
func (r *Repository) SaveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("%w: cannot save nil snapshot", ports.ErrQueryFailed)
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("%w: encoding snapshot: %w", ports.ErrQueryFailed, err)
	}
	const query = `
		INSERT INTO snapshots (id, taken_at, payload) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET taken_at = excluded.taken_at, payload = excluded.payload`
	if _, err := r.db.ExecContext(ctx, query, snap.TakenAt, string(payload)); err != nil {
		r.logger.Error(ctx, err, "failed to save snapshot", nil)
		return fmt.Errorf("%w: saving snapshot: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// LoadSnapshot retrieves the stored snapshot, or nil when none exists.
func (r *Repository) LoadSnapshot(ctx context.Context) (*domain.Snapshot, error) {
	const query = `SELECT payload FROM snapshots WHERE id = 1`
	var payload string
	err := r.db.QueryRowContext(ctx, query).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: loading snapshot: %w", ports.ErrQueryFailed, err)
	}
	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("%w: decoding snapshot: %w", ports.ErrQueryFailed, err)
	}
	return &snap, nil
}

// Close releases the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
