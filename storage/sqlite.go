package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mantlenetworkio/relayer/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	id                       TEXT PRIMARY KEY,
	sender                   TEXT NOT NULL,
	target                   TEXT NOT NULL,
	calldata                 BLOB,
	value                    TEXT NOT NULL,
	gas_limit                INTEGER NOT NULL,
	max_fee_per_gas          TEXT NOT NULL,
	max_priority_fee_per_gas TEXT NOT NULL,
	nonce                    INTEGER NOT NULL,
	sig_v                    INTEGER NOT NULL,
	sig_r                    TEXT NOT NULL,
	sig_s                    TEXT NOT NULL,
	priority                 TEXT NOT NULL,
	status                   TEXT NOT NULL,
	tx_hash                  TEXT NOT NULL DEFAULT '',
	block_number             INTEGER NOT NULL DEFAULT 0,
	gas_used                 INTEGER NOT NULL DEFAULT 0,
	error_message            TEXT NOT NULL DEFAULT '',
	created_at               INTEGER NOT NULL,
	updated_at               INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_sender ON transactions(sender);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

// SQLStore persists records in SQLite through the pure-Go driver. It is
// the durable Store of the relayer binary.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (and migrates) the database at path. ":memory:" gives an
// ephemeral database.
func OpenSQL(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The sqlite driver is single-writer; serialize access instead of
	// surfacing SQLITE_BUSY to the pipeline.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info("Transaction store opened", "path", path)
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) CreateTransaction(ctx context.Context, record *types.TransactionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions (
			id, sender, target, calldata, value, gas_limit,
			max_fee_per_gas, max_priority_fee_per_gas, nonce,
			sig_v, sig_r, sig_s, priority, status,
			tx_hash, block_number, gas_used, error_message,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID.String(), record.Sender.Hex(), record.Target.Hex(),
		record.Calldata, record.Value, record.GasLimit,
		record.GasFeeCap, record.GasTipCap, record.Nonce,
		record.SigV, record.SigR, record.SigS,
		record.Priority.String(), string(record.Status),
		txHashColumn(record.TxHash), record.BlockNumber, record.GasUsed, record.ErrorMessage,
		record.CreatedAt.UnixNano(), record.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *SQLStore) UpdateStatus(ctx context.Context, id uuid.UUID, update types.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	record, err := scanRecord(tx.QueryRowContext(ctx,
		selectColumns+` FROM transactions WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if !applyUpdate(record, update) {
		return tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE transactions
		SET status = ?, tx_hash = ?, block_number = ?, gas_used = ?,
		    error_message = ?, updated_at = ?
		WHERE id = ?`,
		string(record.Status), txHashColumn(record.TxHash), record.BlockNumber,
		record.GasUsed, record.ErrorMessage, record.UpdatedAt.UnixNano(),
		id.String(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) GetTransaction(ctx context.Context, id uuid.UUID) (*types.TransactionRecord, error) {
	record, err := scanRecord(s.db.QueryRowContext(ctx,
		selectColumns+` FROM transactions WHERE id = ?`, id.String()))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return record, err
}

func (s *SQLStore) ListBySender(ctx context.Context, sender common.Address, page, limit int) ([]*types.TransactionRecord, int, error) {
	if page < 1 {
		page = 1
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE sender = ?`, sender.Hex(),
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM transactions WHERE sender = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		sender.Hex(), limit, (page-1)*limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*types.TransactionRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, record)
	}
	return out, total, rows.Err()
}

func (s *SQLStore) AggregateStats(ctx context.Context, window time.Duration) (*AggregateStats, error) {
	cutoff := time.Now().UTC().Add(-window).UnixNano()

	stats := &AggregateStats{}
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM transactions
		WHERE created_at >= ? GROUP BY status`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count uint64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.Total += count
		switch types.Status(status) {
		case types.StatusPending:
			stats.Pending = count
		case types.StatusProcessing:
			stats.Processing = count
		case types.StatusSubmitted:
			stats.Submitted = count
		case types.StatusConfirmed:
			stats.Confirmed = count
		case types.StatusFailed:
			stats.Failed = count
		case types.StatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, `
		SELECT AVG(gas_used) FROM transactions
		WHERE created_at >= ? AND gas_used > 0`, cutoff,
	).Scan(&avg); err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgGasUsed = avg.Float64
	}
	return stats, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const selectColumns = `
	SELECT id, sender, target, calldata, value, gas_limit,
	       max_fee_per_gas, max_priority_fee_per_gas, nonce,
	       sig_v, sig_r, sig_s, priority, status,
	       tx_hash, block_number, gas_used, error_message,
	       created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.TransactionRecord, error) {
	var (
		record               types.TransactionRecord
		id, sender, target   string
		priority, status     string
		txHash               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&id, &sender, &target, &record.Calldata, &record.Value,
		&record.GasLimit, &record.GasFeeCap, &record.GasTipCap, &record.Nonce,
		&record.SigV, &record.SigR, &record.SigS, &priority, &status,
		&txHash, &record.BlockNumber, &record.GasUsed, &record.ErrorMessage,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	record.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("corrupt record id %q: %w", id, err)
	}
	record.Sender = common.HexToAddress(sender)
	record.Target = common.HexToAddress(target)
	if p, perr := types.ParsePriority(priority); perr == nil {
		record.Priority = p
	}
	record.Status = types.Status(status)
	if txHash != "" {
		record.TxHash = common.HexToHash(txHash)
	}
	record.CreatedAt = time.Unix(0, createdAt).UTC()
	record.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &record, nil
}

// txHashColumn stores the zero hash as an empty string so "no hash yet"
// survives round-trips.
func txHashColumn(h common.Hash) string {
	if h == (common.Hash{}) {
		return ""
	}
	return h.Hex()
}
