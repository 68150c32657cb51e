package metadatastore

import (
	"github.com/hashicorp/go-memdb"
)

// indexSchema defines the in-memory secondary index rebuilt from sqlite on
// open and patched incrementally as each write transaction commits. Reads
// (Doctor, Status, link lookups) go through this index rather than sqlite,
// so they never block on or wait for the single-writer lock.
var indexSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		"installed_kegs": {
			Name: "installed_kegs",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
				"store_key": {
					Name:    "store_key",
					Indexer: &memdb.StringFieldIndex{Field: "StoreKey"},
				},
			},
		},
		"link_records": {
			Name: "link_records",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:   "id",
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Name"},
							&memdb.StringFieldIndex{Field: "LinkPath"},
						},
					},
				},
				"name": {
					Name:    "name",
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		"store_refs": {
			Name: "store_refs",
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Key"},
				},
			},
		},
	},
}

func newIndex() (*memdb.MemDB, error) {
	return memdb.NewMemDB(indexSchema)
}
