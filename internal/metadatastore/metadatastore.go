// Package metadatastore is zb's durable record of what is installed: a
// single-writer, many-reader sqlite database backing an in-memory
// go-memdb index that reads go through instead of sqlite directly.
package metadatastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/zb-pm/zb/internal/filelock"
	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"

	_ "modernc.org/sqlite"
)

// writeLockTimeout bounds how long a writer waits for the store's
// exclusive file lock before giving up with BusyTimeout.
const writeLockTimeout = 10 * time.Second

// Store is zb's durable metadata database plus its in-memory read index.
type Store struct {
	db       *sql.DB
	index    *memdb.MemDB
	lockPath string
}

// Open opens (creating if needed) the sqlite database at dbPath in WAL
// mode, runs any pending migrations, and rebuilds the in-memory index from
// its current contents. lockPath names the advisory lock file writers
// serialize on.
func Open(dbPath, lockPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, &zberrors.IoError{Op: "mkdir", Path: filepath.Dir(dbPath), Err: err}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	index, err := newIndex()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("building in-memory index: %w", err)
	}

	s := &Store{db: db, index: index, lockPath: lockPath}
	if err := s.rebuildIndex(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying sqlite connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func migrate(db *sql.DB) error {
	var version int
	err := db.QueryRow(`SELECT value FROM schema_meta WHERE key = 'version'`).Scan(&version)
	if err != nil {
		if _, createErr := db.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value INTEGER)`); createErr != nil {
			return &zberrors.MigrationFailed{FromVersion: 0, ToVersion: len(migrations), Err: createErr}
		}
		version = 0
	}

	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return &zberrors.MigrationFailed{FromVersion: i, ToVersion: i + 1, Err: err}
		}
		if err := migrations[i](tx); err != nil {
			tx.Rollback()
			return &zberrors.MigrationFailed{FromVersion: i, ToVersion: i + 1, Err: err}
		}
		if _, err := tx.Exec(`INSERT INTO schema_meta (key, value) VALUES ('version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value`, i+1); err != nil {
			tx.Rollback()
			return &zberrors.MigrationFailed{FromVersion: i, ToVersion: i + 1, Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &zberrors.MigrationFailed{FromVersion: i, ToVersion: i + 1, Err: err}
		}
	}
	return nil
}

// rebuildIndex loads every row from sqlite into the in-memory index. Called
// once at Open; subsequent writes patch the index incrementally inside the
// same transaction that writes sqlite.
func (s *Store) rebuildIndex() error {
	txn := s.index.Txn(true)
	defer txn.Abort()

	rows, err := s.db.Query(`SELECT name, version, store_key, installed_at, platform_tag FROM installed_kegs`)
	if err != nil {
		return &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	for rows.Next() {
		var k model.InstalledKeg
		var storeKey string
		var installedAt int64
		if err := rows.Scan(&k.Name, &k.Version, &storeKey, &installedAt, &k.PlatformTag); err != nil {
			rows.Close()
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		k.StoreKey = model.StoreKey(storeKey)
		k.InstalledAt = time.Unix(installedAt, 0).UTC()
		if err := txn.Insert("installed_kegs", k); err != nil {
			rows.Close()
			return err
		}
	}
	rows.Close()

	linkRows, err := s.db.Query(`SELECT name, version, link_path, target_path FROM link_records`)
	if err != nil {
		return &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	for linkRows.Next() {
		var rec model.LinkRecord
		if err := linkRows.Scan(&rec.Name, &rec.Version, &rec.LinkPath, &rec.TargetPath); err != nil {
			linkRows.Close()
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		if err := txn.Insert("link_records", rec); err != nil {
			linkRows.Close()
			return err
		}
	}
	linkRows.Close()

	refRows, err := s.db.Query(`SELECT store_key, ref_count FROM store_refs`)
	if err != nil {
		return &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	for refRows.Next() {
		var key string
		var ref model.StoreRef
		if err := refRows.Scan(&key, &ref.Count); err != nil {
			refRows.Close()
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		ref.Key = model.StoreKey(key)
		if err := txn.Insert("store_refs", ref); err != nil {
			refRows.Close()
			return err
		}
	}
	refRows.Close()

	txn.Commit()
	return nil
}

// withWriteLock serializes fn against every other zb process's writer via
// the store's exclusive file lock, returning BusyTimeout if it can't be
// obtained within writeLockTimeout.
func (s *Store) withWriteLock(ctx context.Context, fn func(*sql.Tx) error) error {
	lockCh := make(chan *filelock.Lock, 1)
	errCh := make(chan error, 1)
	go func() {
		lock, err := filelock.Acquire(s.lockPath)
		if err != nil {
			errCh <- err
			return
		}
		lockCh <- lock
	}()

	var lock *filelock.Lock
	select {
	case lock = <-lockCh:
	case err := <-errCh:
		return &zberrors.IoError{Op: "lock", Path: s.lockPath, Err: err}
	case <-time.After(writeLockTimeout):
		return &zberrors.BusyTimeout{Op: "acquire metadata store write lock"}
	case <-ctx.Done():
		return ctx.Err()
	}
	defer lock.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
