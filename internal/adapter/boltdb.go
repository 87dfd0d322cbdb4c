package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/h2hsecure/acctsync/internal/domain"
	bolt "go.etcd.io/bbolt"
)

const (
	bucketRegistry = "registry"
	bucketAudit    = "audit"

	keySharedDBs = "shared_dbs"
	keyRecords   = "records"
)

// BoltStore keeps the shared-database registry and the audit ring in a
// single bbolt file. Writers are serialised by bbolt's own file lock.
type BoltStore struct {
	db         *bolt.DB
	auditLimit int
}

var _ domain.Store = (*BoltStore)(nil)

func NewBoltStore(path string, auditLimit int) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 10 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("db open: path '%s' %w", path, err)
	}

	tx, err := db.Begin(true)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db begin: %w", err)
	}

	for _, name := range []string{bucketRegistry, bucketAudit} {
		if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
			_ = tx.Rollback()
			_ = db.Close()
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &BoltStore{db: db, auditLimit: auditLimit}, nil
}

func (b *BoltStore) Close() error {
	return b.db.Close()
}

// getJSON decodes key into v. A missing key leaves v untouched.
func getJSON(tx *bolt.Tx, bucketName, key string, v any) error {
	bucket := tx.Bucket([]byte(bucketName))
	if bucket == nil {
		return fmt.Errorf("db bucket not found: %s", bucketName)
	}

	raw := bucket.Get([]byte(key))
	if raw == nil {
		return nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("db value unmarshal: %w", err)
	}

	return nil
}

func putJSON(tx *bolt.Tx, bucketName, key string, v any) error {
	m, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("db value marshal: %w", err)
	}

	bucket := tx.Bucket([]byte(bucketName))
	if bucket == nil {
		return fmt.Errorf("db bucket not found: %s", bucketName)
	}

	if err := bucket.Put([]byte(key), m); err != nil {
		return fmt.Errorf("db put: %w", err)
	}

	return nil
}

func (b *BoltStore) readRegistry() (registryDoc, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return registryDoc{}, fmt.Errorf("db begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	doc := newRegistryDoc()
	if err := getJSON(tx, bucketRegistry, keySharedDBs, &doc); err != nil {
		return registryDoc{}, err
	}

	return doc, nil
}

// updateRegistry applies fn to the registry inside one write transaction.
// Nothing is stored when fn fails.
func (b *BoltStore) updateRegistry(fn func(doc *registryDoc) error) error {
	tx, err := b.db.Begin(true)
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}

	doc := newRegistryDoc()
	if err := getJSON(tx, bucketRegistry, keySharedDBs, &doc); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(&doc); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := putJSON(tx, bucketRegistry, keySharedDBs, doc); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// SharedDatabases implements domain.Registry.
func (b *BoltStore) SharedDatabases(ctx context.Context) ([]domain.SharedDatabase, error) {
	doc, err := b.readRegistry()
	if err != nil {
		return nil, err
	}
	return doc.shared(), nil
}

// AddSharedDatabase implements domain.Registry.
func (b *BoltStore) AddSharedDatabase(ctx context.Context, name string) error {
	return b.updateRegistry(func(doc *registryDoc) error {
		doc.add(name)
		return nil
	})
}

// RemoveSharedDatabase implements domain.Registry.
func (b *BoltStore) RemoveSharedDatabase(ctx context.Context, name string) error {
	return b.updateRegistry(func(doc *registryDoc) error {
		return doc.remove(name)
	})
}

// AddGrant implements domain.Registry.
func (b *BoltStore) AddGrant(ctx context.Context, dbName, username string) error {
	return b.updateRegistry(func(doc *registryDoc) error {
		return doc.grant(dbName, username)
	})
}

// RemoveGrant implements domain.Registry.
func (b *BoltStore) RemoveGrant(ctx context.Context, dbName, username string) error {
	return b.updateRegistry(func(doc *registryDoc) error {
		return doc.revoke(dbName, username)
	})
}

// RemoveAccountGrants implements domain.Registry.
func (b *BoltStore) RemoveAccountGrants(ctx context.Context, username string) error {
	return b.updateRegistry(func(doc *registryDoc) error {
		doc.removeAccount(username)
		return nil
	})
}

// Append implements domain.AuditLog.
func (b *BoltStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	tx, err := b.db.Begin(true)
	if err != nil {
		return fmt.Errorf("db begin: %w", err)
	}

	var records []domain.AuditRecord
	if err := getJSON(tx, bucketAudit, keyRecords, &records); err != nil {
		_ = tx.Rollback()
		return err
	}

	records = appendCapped(records, rec, b.auditLimit)

	if err := putJSON(tx, bucketAudit, keyRecords, records); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// Records implements domain.AuditLog. Oldest first.
func (b *BoltStore) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	tx, err := b.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("db begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var records []domain.AuditRecord
	if err := getJSON(tx, bucketAudit, keyRecords, &records); err != nil {
		return nil, err
	}

	return records, nil
}
