package metadatastore

import "database/sql"

// migrations are applied in order, starting from whatever version the
// database's schema_meta table currently records. Forward-only: there is no down migration,
// matching the rest of zb's durable state (store entries, link records)
// which are also additive-only until an explicit uninstall/gc.
var migrations = []func(*sql.Tx) error{
	migration1CreateTables,
}

func migration1CreateTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE installed_kegs (
			name TEXT PRIMARY KEY,
			version TEXT NOT NULL,
			store_key TEXT NOT NULL,
			installed_at INTEGER NOT NULL,
			platform_tag TEXT NOT NULL
		)`,
		`CREATE TABLE link_records (
			name TEXT NOT NULL,
			version TEXT NOT NULL,
			link_path TEXT NOT NULL,
			target_path TEXT NOT NULL,
			PRIMARY KEY (name, link_path)
		)`,
		`CREATE TABLE store_refs (
			store_key TEXT PRIMARY KEY,
			ref_count INTEGER NOT NULL
		)`,
		`CREATE TABLE http_cache (
			url TEXT PRIMARY KEY,
			etag TEXT NOT NULL,
			last_modified TEXT NOT NULL,
			body BLOB NOT NULL,
			cached_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
