package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// FileStore keeps every collection in <dir>/<collection>.json as a JSON array
// of records.
type FileStore struct {
	dir     string
	lenient bool
	log     logrus.FieldLogger

	mu sync.RWMutex
}

// OpenFileStore prepares dir and creates an empty document for every
// collection passed with WithCollections that does not exist yet.
func OpenFileStore(dir string, opts ...Option) (*FileStore, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, ioError("create data dir", err)
	}

	fs := &FileStore{dir: dir, lenient: s.lenient, log: s.logger}
	for _, name := range s.collections {
		path := fs.path(name)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return nil, ioError("stat "+path, err)
		}
		if err := fs.write(name, []Record{}); err != nil {
			return nil, err
		}
		fs.log.WithField("collection", name).Info("created empty collection document")
	}
	return fs, nil
}

// Close is a no-op; documents are closed after every write.
func (fs *FileStore) Close() error { return nil }

// View runs fn with shared access.
func (fs *FileStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fn(&fileTx{fs: fs, readOnly: true})
}

// Update runs fn with exclusive access and writes the collections it saved
// once fn returns nil. Each document is replaced atomically; the set of
// documents is written in the order the collections were first saved.
func (fs *FileStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	tx := &fileTx{fs: fs, staged: map[string][]Record{}}
	if err := fn(tx); err != nil {
		return err
	}
	for _, name := range tx.order {
		if err := fs.write(name, tx.staged[name]); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FileStore) path(collection string) string {
	return filepath.Join(fs.dir, collection+".json")
}

func (fs *FileStore) read(collection string) ([]Record, error) {
	if collection == "" {
		return nil, ErrEmptyCollection
	}
	path := fs.path(collection)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fs.unreadable(collection, fmt.Errorf("%w: %w: %s", ErrIO, ErrMissing, path))
	}
	if err != nil {
		return nil, ioError("read "+path, err)
	}

	var records []Record
	if err := codec.Unmarshal(data, &records); err != nil {
		return fs.unreadable(collection, fmt.Errorf("%w: %w: %s: %v", ErrIO, ErrCorrupt, path, err))
	}
	if err := validate(collection, records); err != nil {
		return fs.unreadable(collection, fmt.Errorf("%w: %w: %s: %v", ErrIO, ErrCorrupt, path, err))
	}
	return records, nil
}

func (fs *FileStore) unreadable(collection string, cause error) ([]Record, error) {
	if !fs.lenient {
		return nil, cause
	}
	fs.log.WithError(cause).WithField("collection", collection).
		Warn("treating unreadable collection document as empty")
	return []Record{}, nil
}

// write replaces the document through a temp file in the same directory.
func (fs *FileStore) write(collection string, records []Record) error {
	if records == nil {
		records = []Record{}
	}
	data, err := codec.MarshalIndent(records, "", "    ")
	if err != nil {
		return ioError("encode "+collection, err)
	}

	tmp, err := os.CreateTemp(fs.dir, "."+collection+"-*.tmp")
	if err != nil {
		return ioError("create temp file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return ioError("write "+tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return ioError("sync "+tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return ioError("close "+tmpName, err)
	}
	if err := os.Rename(tmpName, fs.path(collection)); err != nil {
		return ioError("replace "+collection, err)
	}
	return nil
}

type fileTx struct {
	fs       *FileStore
	readOnly bool
	staged   map[string][]Record
	order    []string
}

func (tx *fileTx) Load(collection string) ([]Record, error) {
	if records, ok := tx.staged[collection]; ok {
		return append([]Record(nil), records...), nil
	}
	return tx.fs.read(collection)
}

func (tx *fileTx) Save(collection string, records []Record) error {
	if tx.readOnly {
		return fmt.Errorf("save %s: read-only transaction", collection)
	}
	if err := validate(collection, records); err != nil {
		return err
	}
	if _, ok := tx.staged[collection]; !ok {
		tx.order = append(tx.order, collection)
	}
	tx.staged[collection] = append([]Record(nil), records...)
	return nil
}
