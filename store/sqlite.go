package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// SQLiteStore keeps all collections in one SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	log logrus.FieldLogger

	// SQLite allows one writer; serializing here avoids busy retries.
	writeMu sync.Mutex

	loadStmt   *sql.Stmt
	deleteStmt *sql.Stmt
	insertStmt *sql.Stmt
}

// OpenSQLiteStore opens (or creates) the database at dbPath, applies schema
// migrations, and prepares common statements.
func OpenSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists so first-run succeeds.
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, ioError("create db dir", err)
		}
	}

	// Immediate transactions take the write lock at BEGIN, so a read inside
	// Update cannot be invalidated by a concurrent writer.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, ioError("open sqlite", err)
	}

	if err := applyMigrations(db, s.logger); err != nil {
		db.Close()
		return nil, ioError("migrate", err)
	}

	st := &SQLiteStore{db: db, log: s.logger}
	if err := st.prepareStatements(); err != nil {
		st.Close()
		return nil, ioError("prepare statements", err)
	}
	return st, nil
}

// Close releases prepared statements and closes the DB.
func (st *SQLiteStore) Close() error {
	for _, stmt := range []*sql.Stmt{st.loadStmt, st.deleteStmt, st.insertStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return st.db.Close()
}

// ---------------------------------------------------------------------------
// Schema migration
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applyMigrations(db *sql.DB, log logrus.FieldLogger) error {
	// WAL lets readers continue while a writer commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return fmt.Errorf("enable WAL: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS meta (key TEXT PRIMARY KEY, value TEXT);`); err != nil {
		return err
	}

	var current int
	_ = db.QueryRow(`SELECT value FROM meta WHERE key='schema_version';`).Scan(&current)
	if current >= schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
            collection TEXT NOT NULL,
            key TEXT NOT NULL,
            position INTEGER NOT NULL,
            value TEXT NOT NULL,
            PRIMARY KEY (collection, key)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_records_position ON records(collection, position);`,
		`INSERT INTO meta(key,value) VALUES('schema_version',?)
            ON CONFLICT(key) DO UPDATE SET value=excluded.value;`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, schemaVersion); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.WithField("schema_version", schemaVersion).Info("sqlite schema migrated")
	return nil
}

// ---------------------------------------------------------------------------
// Prepared statements
// ---------------------------------------------------------------------------

func (st *SQLiteStore) prepareStatements() error {
	var err error
	if st.loadStmt, err = st.db.Prepare(`SELECT key, value FROM records WHERE collection=? ORDER BY position`); err != nil {
		return err
	}
	if st.deleteStmt, err = st.db.Prepare(`DELETE FROM records WHERE collection=?`); err != nil {
		return err
	}
	if st.insertStmt, err = st.db.Prepare(`INSERT INTO records(collection,key,position,value) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// View runs fn inside a transaction that is always rolled back.
func (st *SQLiteStore) View(ctx context.Context, fn func(Tx) error) error {
	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback()

	return fn(&sqliteTx{ctx: ctx, st: st, tx: tx, readOnly: true})
}

// Update runs fn in one transaction and commits when fn returns nil.
func (st *SQLiteStore) Update(ctx context.Context, fn func(Tx) error) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()

	tx, err := st.db.BeginTx(ctx, nil)
	if err != nil {
		return ioError("begin", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, st: st, tx: tx}); err != nil {
		return err
	}
	return ioError("commit", tx.Commit())
}

type sqliteTx struct {
	ctx      context.Context
	st       *SQLiteStore
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) Load(collection string) ([]Record, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	rows, err := t.tx.StmtContext(t.ctx, t.st.loadStmt).QueryContext(t.ctx, collection)
	if err != nil {
		return nil, ioError("load "+collection, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			key   string
			value string
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, ioError("scan "+collection, err)
		}
		records = append(records, Record{Key: key, Value: []byte(value)})
	}
	return records, ioError("load "+collection, rows.Err())
}

func (t *sqliteTx) Save(collection string, records []Record) error {
	if t.readOnly {
		return fmt.Errorf("save %s: read-only transaction", collection)
	}
	if err := validate(collection, records); err != nil {
		return err
	}
	if _, err := t.tx.StmtContext(t.ctx, t.st.deleteStmt).ExecContext(t.ctx, collection); err != nil {
		return ioError("clear "+collection, err)
	}
	insert := t.tx.StmtContext(t.ctx, t.st.insertStmt)
	for i, r := range records {
		if _, err := insert.ExecContext(t.ctx, collection, r.Key, i, string(r.Value)); err != nil {
			return ioError("insert "+collection, err)
		}
	}
	return nil
}
