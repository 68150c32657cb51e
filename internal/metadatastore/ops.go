package metadatastore

import (
	"context"
	"database/sql"
	"os"
	"time"

	"github.com/zb-pm/zb/internal/model"
	"github.com/zb-pm/zb/internal/zberrors"
)

// StoreChecker is the subset of internal/store's Store this package needs
// for Doctor and PruneBlobCache, kept narrow so tests can fake it.
type StoreChecker interface {
	Exists(key model.StoreKey) bool
	Remove(key model.StoreKey) error
	ListEntries() ([]model.StoreKey, error)
}

// Doctor walks every installed keg and reports one PartialInstall per row
// whose store entry has gone missing, that has no link records, or one of
// whose recorded symlinks is missing or repointed — disk state diverging
// from what was recorded, not a schema problem. The keg directory itself is
// not checked. It never mutates state; repair is a separate, explicit step.
func (s *Store) Doctor(store StoreChecker) ([]error, error) {
	kegs, err := s.ListInstalledKegs()
	if err != nil {
		return nil, err
	}

	var problems []error
	for _, keg := range kegs {
		if !store.Exists(keg.StoreKey) {
			problems = append(problems, &zberrors.PartialInstall{
				Name:   keg.Name,
				Detail: "store entry " + string(keg.StoreKey) + " is missing",
			})
			continue
		}

		links, err := s.GetLinkRecordsForName(keg.Name)
		if err != nil {
			return nil, err
		}
		if len(links) == 0 {
			problems = append(problems, &zberrors.PartialInstall{
				Name:   keg.Name,
				Detail: "no link records recorded",
			})
			continue
		}
		for _, link := range links {
			if target, err := os.Readlink(link.LinkPath); err != nil || target != link.TargetPath {
				problems = append(problems, &zberrors.PartialInstall{
					Name:   keg.Name,
					Detail: "link " + link.LinkPath + " is missing or repointed",
				})
				break
			}
		}
	}
	return problems, nil
}

// Status reports the installed keg and its link records for name, or
// (_, false, nil) if name is not installed.
func (s *Store) Status(name string) (model.InstalledKeg, []model.LinkRecord, bool, error) {
	keg, ok, err := s.GetInstalledKeg(name)
	if err != nil || !ok {
		return model.InstalledKeg{}, nil, ok, err
	}
	links, err := s.GetLinkRecordsForName(name)
	if err != nil {
		return model.InstalledKeg{}, nil, false, err
	}
	return keg, links, true, nil
}

// PruneHTTPCache deletes cached API responses older than maxAge. The
// formula API is re-fetched lazily on next use; this only bounds how
// large http_cache is allowed to grow.
func (s *Store) PruneHTTPCache(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := timeNow().Add(-maxAge).Unix()
	var affected int64
	err := s.withWriteLock(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM http_cache WHERE cached_at < ?`, cutoff)
		if err != nil {
			return &zberrors.StorageCorrupt{Detail: err.Error()}
		}
		affected, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// PruneBlobCache removes store entry directories with a zero reference
// count. It walks the store's own directory listing rather than StoreRef's
// rows: DecrementStoreRef deletes a key's row entirely once its count
// reaches zero, so a directory whose row is simply absent is exactly as
// collectible as one whose row still exists at count 0. When keepReferenced
// is false it removes every completed store entry, whatever its reference
// count; installed_kegs rows are not consulted. Callers pass true for the
// ordinary gc() path.
func (s *Store) PruneBlobCache(ctx context.Context, store StoreChecker, keepReferenced bool) ([]model.StoreKey, error) {
	keys, err := store.ListEntries()
	if err != nil {
		return nil, err
	}

	var removed []model.StoreKey
	for _, key := range keys {
		ref, ok, err := s.GetStoreRef(key)
		if err != nil {
			return removed, err
		}
		if ok && ref.Count > 0 && keepReferenced {
			continue
		}
		if err := store.Remove(key); err != nil {
			return removed, err
		}
		if ok {
			if err := s.removeStoreRefRow(ctx, key); err != nil {
				return removed, err
			}
		}
		removed = append(removed, key)
	}
	return removed, nil
}

func (s *Store) removeStoreRefRow(ctx context.Context, key model.StoreKey) error {
	return s.withWriteLock(ctx, func(tx *sql.Tx) error {
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
	})
}

// timeNow is a seam so tests can control PruneHTTPCache's notion of "now"
// without the package reaching for time.Now() directly in more than one
// place.
var timeNow = func() time.Time { return time.Now() }
