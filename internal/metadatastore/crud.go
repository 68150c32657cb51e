package metadatastore

import (
	"context"
	"database/sql"
	"time"

	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

func unixToTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// PutInstalledKeg records keg as installed, replacing any existing row
// under the same name (a reinstall or version upgrade).
func (s *Store) PutInstalledKeg(ctx context.Context, keg model.InstalledKeg) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO installed_kegs (name, version, store_key, installed_at, platform_tag)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET version = excluded.version, store_key = excluded.store_key,
				installed_at = excluded.installed_at, platform_tag = excluded.platform_tag`,
			keg.Name, keg.Version, string(keg.StoreKey), keg.InstalledAt.UTC().Unix(), keg.PlatformTag)
		if err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}

		itxn := s.index.Txn(true)
		if err := itxn.Insert("installed_kegs", keg); err != nil {
			itxn.Abort()
			return err
		}
		itxn.Commit()
		return nil
	})
}

// DeleteInstalledKeg removes the row for name, used by uninstall.
func (s *Store) DeleteInstalledKeg(ctx context.Context, name string) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM installed_kegs WHERE name = ?`, name); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}

		itxn := s.index.Txn(true)
		if _, err := itxn.DeleteAll("installed_kegs", "id", name); err != nil {
			itxn.Abort()
			return err
		}
		itxn.Commit()
		return nil
	})
}

// GetInstalledKeg looks up name in the in-memory index, never touching
// sqlite.
func (s *Store) GetInstalledKeg(name string) (model.InstalledKeg, bool, error) {
	txn := s.index.Txn(false)
	raw, err := txn.First("installed_kegs", "id", name)
	if err != nil {
		return model.InstalledKeg{}, false, err
	}
	if raw == nil {
		return model.InstalledKeg{}, false, nil
	}
	return raw.(model.InstalledKeg), true, nil
}

// ListInstalledKegs returns every installed keg, in no particular order.
func (s *Store) ListInstalledKegs() ([]model.InstalledKeg, error) {
	txn := s.index.Txn(false)
	it, err := txn.Get("installed_kegs", "id")
	if err != nil {
		return nil, err
	}
	var out []model.InstalledKeg
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(model.InstalledKeg))
	}
	return out, nil
}

// PutLinkRecords persists every record produced by linking a keg, as part
// of the same transaction that installs it.
func (s *Store) PutLinkRecords(ctx context.Context, records []model.LinkRecord) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		itxn := s.index.Txn(true)
		for _, rec := range records {
			_, err := tx.ExecContext(ctx, `INSERT INTO link_records (name, version, link_path, target_path)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(name, link_path) DO UPDATE SET version = excluded.version, target_path = excluded.target_path`,
				rec.Name, rec.Version, rec.LinkPath, rec.TargetPath)
			if err != nil {
				itxn.Abort()
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
			if err := itxn.Insert("link_records", rec); err != nil {
				itxn.Abort()
				return err
			}
		}
		itxn.Commit()
		return nil
	})
}

// DeleteLinkRecordsForName removes every link record owned by name,
// used by uninstall after UnlinkKeg has removed the symlinks themselves.
func (s *Store) DeleteLinkRecordsForName(ctx context.Context, name string) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM link_records WHERE name = ?`, name); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}

		itxn := s.index.Txn(true)
		if _, err := itxn.DeleteAll("link_records", "name", name); err != nil {
			itxn.Abort()
			return err
		}
		itxn.Commit()
		return nil
	})
}

// GetLinkRecordsForName returns every link record owned by name.
func (s *Store) GetLinkRecordsForName(name string) ([]model.LinkRecord, error) {
	txn := s.index.Txn(false)
	it, err := txn.Get("link_records", "name", name)
	if err != nil {
		return nil, err
	}
	var out []model.LinkRecord
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(model.LinkRecord))
	}
	return out, nil
}

// IncrementStoreRef bumps the reference count for key by one, inserting a
// fresh row at count 1 if none exists yet. Called once per installed keg
// that materializes from this store entry.
func (s *Store) IncrementStoreRef(ctx context.Context, key model.StoreKey) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO store_refs (store_key, ref_count) VALUES (?, 1)
			ON CONFLICT(store_key) DO UPDATE SET ref_count = ref_count + 1`, string(key))
		if err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		return s.reloadStoreRef(tx, key)
	})
}

// DecrementStoreRef drops the reference count for key by one, deleting the
// row once it reaches zero. Returns the count remaining after the
// decrement, so callers know whether the store entry is now unreferenced.
func (s *Store) DecrementStoreRef(ctx context.Context, key model.StoreKey) (int, error) {
	var remaining int
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE store_refs SET ref_count = ref_count - 1 WHERE store_key = ?`, string(key))
		if err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		if err := tx.QueryRowContext(ctx, `SELECT ref_count FROM store_refs WHERE store_key = ?`, string(key)).Scan(&remaining); err != nil {
			if err == sql.ErrNoRows {
				remaining = 0
			} else {
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
		}
		if remaining <= 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM store_refs WHERE store_key = ?`, string(key)); err != nil {
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
			itxn := s.index.Txn(true)
			if _, err := itxn.DeleteAll("store_refs", "id", string(key)); err != nil {
				itxn.Abort()
				return err
			}
			itxn.Commit()
			return nil
		}
		return s.reloadStoreRef(tx, key)
	})
	return remaining, err
}

// CommitInstall performs every row mutation that materializing one planned
// node into the metadata store requires — inserting the InstalledKeg row,
// inserting its LinkRecords, and incrementing key's reference count — as a
// single sqlite transaction and a single in-memory index patch. A failure
// partway through rolls back the transaction and leaves the index
// untouched, so the caller's own unwind never has to reason about a
// partially committed row set.
func (s *Store) CommitInstall(ctx context.Context, keg model.InstalledKeg, records []model.LinkRecord, key model.StoreKey) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO installed_kegs (name, version, store_key, installed_at, platform_tag)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET version = excluded.version, store_key = excluded.store_key,
				installed_at = excluded.installed_at, platform_tag = excluded.platform_tag`,
			keg.Name, keg.Version, string(keg.StoreKey), keg.InstalledAt.UTC().Unix(), keg.PlatformTag); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}

		for _, rec := range records {
			if _, err := tx.ExecContext(ctx, `INSERT INTO link_records (name, version, link_path, target_path)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(name, link_path) DO UPDATE SET version = excluded.version, target_path = excluded.target_path`,
				rec.Name, rec.Version, rec.LinkPath, rec.TargetPath); err != nil {
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO store_refs (store_key, ref_count) VALUES (?, 1)
			ON CONFLICT(store_key) DO UPDATE SET ref_count = ref_count + 1`, string(key)); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT ref_count FROM store_refs WHERE store_key = ?`, string(key)).Scan(&count); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}

		itxn := s.index.Txn(true)
		if err := itxn.Insert("installed_kegs", keg); err != nil {
			itxn.Abort()
			return err
		}
		for _, rec := range records {
			if err := itxn.Insert("link_records", rec); err != nil {
				itxn.Abort()
				return err
			}
		}
		if err := itxn.Insert("store_refs", model.StoreRef{Key: key, Count: count}); err != nil {
			itxn.Abort()
			return err
		}
		itxn.Commit()
		return nil
	})
}

// CommitUninstall performs every row mutation an uninstall requires —
// deleting name's LinkRecords and InstalledKeg row and decrementing key's
// reference count, deleting that row too once it reaches zero — as a
// single sqlite transaction and a single in-memory index patch. Returns the
// reference count remaining after the decrement, so the caller knows
// whether the store entry is now unreferenced.
func (s *Store) CommitUninstall(ctx context.Context, name string, key model.StoreKey) (int, error) {
	var remaining int
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM link_records WHERE name = ?`, name); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM installed_kegs WHERE name = ?`, name); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE store_refs SET ref_count = ref_count - 1 WHERE store_key = ?`, string(key)); err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		if err := tx.QueryRowContext(ctx, `SELECT ref_count FROM store_refs WHERE store_key = ?`, string(key)).Scan(&remaining); err != nil {
			if err == sql.ErrNoRows {
				remaining = 0
			} else {
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
		}
		rowDeleted := remaining <= 0
		if rowDeleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM store_refs WHERE store_key = ?`, string(key)); err != nil {
				return &zberrors.StorageCorrupt{Detail: err.Error()}
			}
		}

		itxn := s.index.Txn(true)
		if _, err := itxn.DeleteAll("link_records", "name", name); err != nil {
			itxn.Abort()
			return err
		}
		if _, err := itxn.DeleteAll("installed_kegs", "id", name); err != nil {
			itxn.Abort()
			return err
		}
		if rowDeleted {
			if _, err := itxn.DeleteAll("store_refs", "id", string(key)); err != nil {
				itxn.Abort()
				return err
			}
		} else if err := itxn.Insert("store_refs", model.StoreRef{Key: key, Count: remaining}); err != nil {
			itxn.Abort()
			return err
		}
		itxn.Commit()
		return nil
	})
	return remaining, err
}

// reloadStoreRef re-reads key's current count from tx and patches the
// in-memory index to match, called from inside the same write transaction
// after an insert/update so the index never observes a stale count.
func (s *Store) reloadStoreRef(tx *sql.Tx, key model.StoreKey) error {
	var count int
	if err := tx.QueryRow(`SELECT ref_count FROM store_refs WHERE store_key = ?`, string(key)).Scan(&count); err != nil {
		return &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	itxn := s.index.Txn(true)
	if err := itxn.Insert("store_refs", model.StoreRef{Key: key, Count: count}); err != nil {
		itxn.Abort()
		return err
	}
	itxn.Commit()
	return nil
}

// GetStoreRef returns the current reference count for key, or (0, false)
// if nothing references it.
func (s *Store) GetStoreRef(key model.StoreKey) (model.StoreRef, bool, error) {
	txn := s.index.Txn(false)
	raw, err := txn.First("store_refs", "id", string(key))
	if err != nil {
		return model.StoreRef{}, false, err
	}
	if raw == nil {
		return model.StoreRef{}, false, nil
	}
	return raw.(model.StoreRef), true, nil
}

// ListStoreRefs returns every tracked store reference count.
func (s *Store) ListStoreRefs() ([]model.StoreRef, error) {
	txn := s.index.Txn(false)
	it, err := txn.Get("store_refs", "id")
	if err != nil {
		return nil, err
	}
	var out []model.StoreRef
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out = append(out, raw.(model.StoreRef))
	}
	return out, nil
}

// Get implements apiclient.CacheStore. http_cache rows are read straight
// from sqlite rather than through the in-memory index: conditional-GET
// lookups are once-per-formula-per-invocation, not hot enough to justify
// a memdb table, and the blob body would otherwise double the index's
// resident size for no benefit.
func (s *Store) Get(ctx context.Context, url string) (model.HttpCacheEntry, bool, error) {
	var entry model.HttpCacheEntry
	var cachedAt int64
	entry.URL = url
	err := s.db.QueryRowContext(ctx, `SELECT etag, last_modified, body, cached_at FROM http_cache WHERE url = ?`, url).
		Scan(&entry.ETag, &entry.LastModified, &entry.Body, &cachedAt)
	if err == sql.ErrNoRows {
		return model.HttpCacheEntry{}, false, nil
	}
	if err != nil {
		return model.HttpCacheEntry{}, false, &zberrors.StorageCorrupt{Detail: err.Error()}
	}
	entry.CachedAt = unixToTime(cachedAt)
	return entry, true, nil
}

// Put implements apiclient.CacheStore.
func (s *Store) Put(ctx context.Context, entry model.HttpCacheEntry) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO http_cache (url, etag, last_modified, body, cached_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(url) DO UPDATE SET etag = excluded.etag, last_modified = excluded.last_modified,
				body = excluded.body, cached_at = excluded.cached_at`,
			entry.URL, entry.ETag, entry.LastModified, entry.Body, entry.CachedAt.UTC().Unix())
		if err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		return nil
	})
}
