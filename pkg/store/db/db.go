package db

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"fieldsync/pkg/state/logger"
	"fieldsync/pkg/telemetry"

	"github.com/cockroachdb/pebble"
)

var ErrNotFound = pebble.ErrNotFound

// returns true if error is a missing key
func IsNotFound(err error) bool {
	return errors.Is(err, pebble.ErrNotFound)
}

// DB is the local ordered key-value store. Writes go through Update, which
// serializes transactions and commits each one as a single synced batch.
type DB struct {
	pdb  *pebble.DB
	path string
	mu   sync.Mutex
}

// opens/creates the pebble store at path
func Open(path string, disableWAL bool) (*DB, error) {
	opts := &pebble.Options{
		DisableWAL: disableWAL,
	}
	if disableWAL {
		logger.Warn("durability_disabled", "durability", "pebble WAL disabled")
	}
	pdb, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("pebble_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &DB{pdb: pdb, path: path}, nil
}

// flushes and closes the store
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pdb == nil {
		return nil
	}
	if err := d.pdb.Flush(); err != nil {
		logger.Error("pebble_flush_failed", "error", err)
	}
	err := d.pdb.Close()
	d.pdb = nil
	return err
}

func (d *DB) Path() string { return d.path }

// Reader is the read side shared by snapshots and transactions.
type Reader interface {
	Get(key string) ([]byte, error)
	Scan(prefix string, fn func(key string, value []byte) error) error
	Last(prefix string) (key string, value []byte, ok bool, err error)
}

// View runs fn against a consistent snapshot.
func (d *DB) View(fn func(r Reader) error) error {
	if d.pdb == nil {
		return fmt.Errorf("store closed")
	}
	snap := d.pdb.NewSnapshot()
	defer snap.Close()
	return fn(reader{r: snap})
}

// Update runs fn in a transaction. Reads inside fn see the transaction's own
// writes; nothing is visible to others until fn returns nil and the batch
// commits. A non-nil error discards every write.
func (d *DB) Update(fn func(tx *Tx) error) error {
	tr := telemetry.Track("db.update")
	defer tr.Finish()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pdb == nil {
		return fmt.Errorf("store closed")
	}

	b := d.pdb.NewIndexedBatch()
	defer b.Close()

	tx := &Tx{reader: reader{r: b}, b: b}
	if err := fn(tx); err != nil {
		return err
	}
	tr.Mark("apply")
	if b.Empty() {
		return nil
	}
	if err := b.Commit(pebble.Sync); err != nil {
		logger.Error("batch_commit_failed", "error", err)
		return fmt.Errorf("commit: %w", err)
	}
	tr.Mark("commit")
	return nil
}

// Get reads a single key outside any transaction.
func (d *DB) Get(key string) ([]byte, error) {
	var out []byte
	err := d.View(func(r Reader) error {
		v, err := r.Get(key)
		out = v
		return err
	})
	return out, err
}

// Tx is a read-write transaction over an indexed batch.
type Tx struct {
	reader
	b *pebble.Batch
}

func (tx *Tx) Set(key string, value []byte) error {
	return tx.b.Set([]byte(key), value, nil)
}

func (tx *Tx) Delete(key string) error {
	return tx.b.Delete([]byte(key), nil)
}

// DeletePrefix removes every key starting with prefix.
func (tx *Tx) DeletePrefix(prefix string) error {
	var doomed []string
	if err := tx.Scan(prefix, func(k string, _ []byte) error {
		doomed = append(doomed, k)
		return nil
	}); err != nil {
		return err
	}
	for _, k := range doomed {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

type reader struct {
	r pebbleReader
}

// returns a copy of the value stored at key
func (rd reader) Get(key string) ([]byte, error) {
	v, closer, err := rd.r.Get([]byte(key))
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

// calls fn for every key with prefix, in order; returning an error stops the scan
func (rd reader) Scan(prefix string, fn func(key string, value []byte) error) error {
	iter, err := rd.r.NewIter(prefixBounds(prefix))
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		k := string(iter.Key())
		v := append([]byte(nil), iter.Value()...)
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return iter.Error()
}

// returns the greatest key with prefix
func (rd reader) Last(prefix string) (string, []byte, bool, error) {
	iter, err := rd.r.NewIter(prefixBounds(prefix))
	if err != nil {
		return "", nil, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return "", nil, false, iter.Error()
	}
	return string(iter.Key()), append([]byte(nil), iter.Value()...), true, nil
}

func prefixBounds(prefix string) *pebble.IterOptions {
	if prefix == "" {
		return &pebble.IterOptions{}
	}
	lower := []byte(prefix)
	return &pebble.IterOptions{LowerBound: lower, UpperBound: prefixUpperBound(lower)}
}

// smallest key greater than every key with prefix p
func prefixUpperBound(p []byte) []byte {
	end := append([]byte(nil), p...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
