package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"

	"github.com/jmylchreest/apexlens/internal/logging"
)

// SchemaVersion is the current schema version. Increment it with each new
// migration.
var SchemaVersion uint64 = 2

type migration struct {
	version     uint64
	description string
	migrate     func(tx *bolt.Tx) error
}

// migrations are applied in order, each exactly once.
var migrations = []migration{
	{version: 1, description: "create records bucket", migrate: func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketRecords)
		return err
	}},
	{version: 2, description: "drop records without a kind", migrate: dropKindless},
}

// dropKindless removes records written before every finding carried its
// rule kind; they cannot be filtered or explained.
func dropKindless(tx *bolt.Tx) error {
	b := tx.Bucket(BucketRecords)
	var stale [][]byte
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var r struct {
			Kind string `json:"kind"`
		}
		if err := json.Unmarshal(v, &r); err != nil || r.Kind == "" {
			stale = append(stale, append([]byte(nil), k...))
		}
	}
	for _, k := range stale {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// RunMigrations applies pending migrations in a single transaction. A
// database stamped with a newer version than SchemaVersion is an error.
func RunMigrations(db *bolt.DB) error {
	current, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema version %d is ahead of binary version %d (downgrade not supported)", current, SchemaVersion)
	}
	if current == SchemaVersion {
		return nil
	}

	log := logging.Named("store")
	return db.Update(func(tx *bolt.Tx) error {
		for _, m := range migrations {
			if m.version <= current || m.version > SchemaVersion {
				continue
			}
			log.Infow("applying migration", "version", m.version, "description", m.description)
			if err := m.migrate(tx); err != nil {
				return fmt.Errorf("migration v%d (%s) failed: %w", m.version, m.description, err)
			}
		}
		return putVersion(tx, SchemaVersion)
	})
}

// GetSchemaVersion reads the schema version, 0 for a fresh database.
func GetSchemaVersion(db *bolt.DB) (uint64, error) {
	var version uint64
	err := db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(BucketMeta)
		if meta == nil {
			return nil
		}
		data := meta.Get([]byte("schema_version"))
		if data == nil {
			return nil
		}
		if len(data) != 8 {
			return fmt.Errorf("corrupt schema_version: expected 8 bytes, got %d", len(data))
		}
		version = binary.BigEndian.Uint64(data)
		return nil
	})
	return version, err
}

func putVersion(tx *bolt.Tx, version uint64) error {
	meta := tx.Bucket(BucketMeta)
	if meta == nil {
		return fmt.Errorf("meta bucket not found")
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, version)
	return meta.Put([]byte("schema_version"), buf)
}

// MappingHash returns a SHA-256 hex digest of an index mapping, used to
// notice when the search index must be rebuilt.
func MappingHash(m mapping.IndexMapping) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%x", sha256.Sum256(data))
}
