// Package store persists named collections of uniquely keyed records.
//
// A collection is loaded and saved as a whole. Every backend guarantees that a
// reader observes either the previous or the new version of a collection,
// never a partially written one, and that all saves made inside one Update are
// applied together. Writers are serialized, so a read-check-write sequence
// inside Update cannot race with another writer.
//
// Backends:
//   - FileStore: one JSON document per collection, replaced with an atomic rename
//   - SQLiteStore: a single SQLite database (WAL, immediate transactions)
//   - PostgresStore: a shared PostgreSQL database for multi-process deployments
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrIO is returned for every failure of the underlying persistence.
	ErrIO = errors.New("store i/o failure")

	// ErrMissing is wrapped into ErrIO when a collection document does not exist.
	ErrMissing = errors.New("collection document is missing")

	// ErrCorrupt is wrapped into ErrIO when a collection document cannot be parsed.
	ErrCorrupt = errors.New("collection document is corrupt")

	// ErrEmptyKey is returned when a record without a key is saved.
	ErrEmptyKey = errors.New("record key must not be empty")

	// ErrDuplicateKey is returned when a saved collection holds the same key twice.
	ErrDuplicateKey = errors.New("duplicate record key")

	// ErrEmptyCollection is returned for an empty collection name.
	ErrEmptyCollection = errors.New("collection name must not be empty")

	// ErrUnknownBackend is returned by Open for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown store backend")
)

// Record is one keyed entry of a collection. Value holds the JSON encoding of
// the entity.
type Record struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

// Tx reads and replaces collections inside View or Update.
type Tx interface {
	// Load returns the records of a collection in stored order. Inside Update
	// it reflects earlier saves of the same transaction.
	Load(collection string) ([]Record, error)

	// Save replaces the whole collection. It fails inside View.
	Save(collection string, records []Record) error
}

// Store is implemented by every backend.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// Load reads one collection in its own read transaction.
func Load(ctx context.Context, s Store, collection string) ([]Record, error) {
	var out []Record
	err := s.View(ctx, func(tx Tx) error {
		records, err := tx.Load(collection)
		out = records
		return err
	})
	return out, err
}

// Save replaces one collection in its own write transaction.
func Save(ctx context.Context, s Store, collection string, records []Record) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Save(collection, records)
	})
}

// Encode wraps v as a record with the given key.
func Encode(key string, v any) (Record, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode record %q: %w", key, err)
	}
	return Record{Key: key, Value: data}, nil
}

// Decode unmarshals the record value into v. A value that does not decode is
// reported as a corrupt collection.
func Decode(r Record, v any) error {
	if err := codec.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("%w: %w: record %q: %v", ErrIO, ErrCorrupt, r.Key, err)
	}
	return nil
}

// Options selects and configures a backend for Open.
type Options struct {
	Backend     string // json, sqlite or postgres
	Dir         string // json backend directory
	SQLitePath  string
	PostgresDSN string
	LenientLoad bool
	Collections []string // created empty on open by backends that need it
	Logger      logrus.FieldLogger
}

// Open creates the backend named in opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "json":
		return OpenFileStore(opts.Dir,
			WithLenientLoad(opts.LenientLoad),
			WithCollections(opts.Collections...),
			WithLogger(opts.Logger),
		)
	case "sqlite":
		return OpenSQLiteStore(opts.SQLitePath, WithLogger(opts.Logger))
	case "postgres":
		return OpenPostgresStore(ctx, opts.PostgresDSN, WithLogger(opts.Logger))
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func validate(collection string, records []Record) error {
	if collection == "" {
		return ErrEmptyCollection
	}
	seen := make(map[string]struct{}, len(records))
	for _, r := range records {
		if r.Key == "" {
			return fmt.Errorf("%w: collection %s", ErrEmptyKey, collection)
		}
		if _, dup := seen[r.Key]; dup {
			return fmt.Errorf("%w: %q in collection %s", ErrDuplicateKey, r.Key, collection)
		}
		seen[r.Key] = struct{}{}
	}
	return nil
}

// ioError tags err as a persistence failure unless it already is one.
func ioError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
