package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
)

// writerLockID is the advisory lock key that serializes Update across all
// processes sharing the database.
const writerLockID int64 = 0x656c6962 // "elib"

// PostgresStore keeps all collections in one PostgreSQL table.
type PostgresStore struct {
	pool *pgxpool.Pool
	log  logrus.FieldLogger
}

// OpenPostgresStore connects to dsn and creates the records table.
func OpenPostgresStore(ctx context.Context, dsn string, opts ...Option) (*PostgresStore, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, ioError("connect postgres", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, ioError("ping postgres", err)
	}

	ps := &PostgresStore{pool: pool, log: s.logger}
	if err := ps.migrate(ctx); err != nil {
		pool.Close()
		return nil, ioError("migrate", err)
	}
	return ps, nil
}

// Close closes the connection pool.
func (ps *PostgresStore) Close() error {
	ps.pool.Close()
	return nil
}

func (ps *PostgresStore) migrate(ctx context.Context) error {
	_, err := ps.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS records (
            collection TEXT NOT NULL,
            key TEXT NOT NULL,
            position INTEGER NOT NULL,
            value JSONB NOT NULL,
            PRIMARY KEY (collection, key)
        )`)
	if err != nil {
		return err
	}
	ps.log.Info("postgres records table ready")
	return nil
}

// View runs fn in a read-only repeatable-read transaction.
func (ps *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := ps.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	return fn(&pgTx{ctx: ctx, tx: tx, readOnly: true})
}

// Update takes the writer lock, runs fn and commits when fn returns nil.
func (ps *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, writerLockID); err != nil {
		return ioError("acquire writer lock", err)
	}
	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return ioError("commit", tx.Commit(ctx))
}

type pgTx struct {
	ctx      context.Context
	tx       pgx.Tx
	readOnly bool
}

func (t *pgTx) Load(collection string) ([]Record, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	rows, err := t.tx.Query(t.ctx,
		`SELECT key, value::text FROM records WHERE collection = $1 ORDER BY position`, collection)
	if err != nil {
		return nil, ioError("load "+collection, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, ioError("scan "+collection, err)
		}
		records = append(records, Record{Key: key, Value: []byte(value)})
	}
	return records, ioError("load "+collection, rows.Err())
}

func (t *pgTx) Save(collection string, records []Record) error {
	if t.readOnly {
		return fmt.Errorf("save %s: read-only transaction", collection)
	}
	if err := validate(collection, records); err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM records WHERE collection = $1`, collection); err != nil {
		return ioError("clear "+collection, err)
	}

	batch := &pgx.Batch{}
	for i, r := range records {
		batch.Queue(`INSERT INTO records (collection, key, position, value) VALUES ($1, $2, $3, $4::jsonb)`,
			collection, r.Key, i, string(r.Value))
	}
	if batch.Len() == 0 {
		return nil
	}
	return ioError("insert "+collection, t.tx.SendBatch(t.ctx, batch).Close())
}
