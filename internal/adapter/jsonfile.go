package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// JSONStore keeps the registry and the audit ring as two indented JSON
// files. Every read-modify-write holds an advisory lock on the file.
type JSONStore struct {
	registryPath string
	auditPath    string
	auditLimit   int
}

var _ domain.Store = (*JSONStore)(nil)

func NewJSONStore(registryPath, auditPath string, auditLimit int) *JSONStore {
	return &JSONStore{
		registryPath: registryPath,
		auditPath:    auditPath,
		auditLimit:   auditLimit,
	}
}

func (j *JSONStore) Close() error {
	return nil
}

// readJSON decodes path into v. A missing file leaves v untouched.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	return writeFileAtomic(path, append(data, '\n'), 0o600)
}

func (j *JSONStore) readRegistry() (registryDoc, error) {
	doc := newRegistryDoc()
	if err := readJSON(j.registryPath, &doc); err != nil {
		return registryDoc{}, err
	}
	if doc.SharedDBs == nil {
		doc.SharedDBs = []string{}
	}
	return doc, nil
}

func (j *JSONStore) updateRegistry(ctx context.Context, fn func(doc *registryDoc) error) error {
	return withFileLock(ctx, "", j.registryPath, func() error {
		doc, err := j.readRegistry()
		if err != nil {
			return err
		}

		if err := fn(&doc); err != nil {
			return err
		}

		return writeJSON(j.registryPath, doc)
	})
}

// SharedDatabases implements domain.Registry.
func (j *JSONStore) SharedDatabases(ctx context.Context) ([]domain.SharedDatabase, error) {
	doc, err := j.readRegistry()
	if err != nil {
		return nil, err
	}
	return doc.shared(), nil
}

// AddSharedDatabase implements domain.Registry.
func (j *JSONStore) AddSharedDatabase(ctx context.Context, name string) error {
	return j.updateRegistry(ctx, func(doc *registryDoc) error {
		doc.add(name)
		return nil
	})
}

// RemoveSharedDatabase implements domain.Registry.
func (j *JSONStore) RemoveSharedDatabase(ctx context.Context, name string) error {
	return j.updateRegistry(ctx, func(doc *registryDoc) error {
		return doc.remove(name)
	})
}

// AddGrant implements domain.Registry.
func (j *JSONStore) AddGrant(ctx context.Context, dbName, username string) error {
	return j.updateRegistry(ctx, func(doc *registryDoc) error {
		return doc.grant(dbName, username)
	})
}

// RemoveGrant implements domain.Registry.
func (j *JSONStore) RemoveGrant(ctx context.Context, dbName, username string) error {
	return j.updateRegistry(ctx, func(doc *registryDoc) error {
		return doc.revoke(dbName, username)
	})
}

// RemoveAccountGrants implements domain.Registry.
func (j *JSONStore) RemoveAccountGrants(ctx context.Context, username string) error {
	return j.updateRegistry(ctx, func(doc *registryDoc) error {
		doc.removeAccount(username)
		return nil
	})
}

// legacyTimeLayout is the local-time stamp used by the on-disk audit log.
const legacyTimeLayout = "2006-01-02 15:04:05"

// auditEntry is one audit log line as stored on disk. Subject and Outcome are
// read so that logs written with those keys still load.
type auditEntry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Username  string `json:"username"`
	Result    string `json:"result"`
	Subject   string `json:"subject,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
}

func toAuditEntry(rec domain.AuditRecord) auditEntry {
	return auditEntry{
		Timestamp: rec.Timestamp.Local().Format(legacyTimeLayout),
		Action:    rec.Action,
		Username:  rec.Subject,
		Result:    rec.Outcome,
	}
}

func (e auditEntry) record() domain.AuditRecord {
	rec := domain.AuditRecord{
		Action:  e.Action,
		Subject: lo.CoalesceOrEmpty(e.Username, e.Subject),
		Outcome: lo.CoalesceOrEmpty(e.Result, e.Outcome),
	}

	if ts, err := time.ParseInLocation(legacyTimeLayout, e.Timestamp, time.Local); err == nil {
		rec.Timestamp = ts
	} else if ts, err := time.Parse(time.RFC3339Nano, e.Timestamp); err == nil {
		rec.Timestamp = ts
	}

	return rec
}

func (j *JSONStore) readAudit() ([]domain.AuditRecord, error) {
	var entries []auditEntry
	if err := readJSON(j.auditPath, &entries); err != nil {
		return nil, err
	}
	return lo.Map(entries, func(e auditEntry, _ int) domain.AuditRecord {
		return e.record()
	}), nil
}

// Append implements domain.AuditLog. A log that cannot be decoded is moved
// aside to <path>.corrupt-<unix time> and a new one is started.
func (j *JSONStore) Append(ctx context.Context, rec domain.AuditRecord) error {
	return withFileLock(ctx, "", j.auditPath, func() error {
		records, err := j.readAudit()
		if err != nil {
			aside := fmt.Sprintf("%s.corrupt-%d", j.auditPath, time.Now().Unix())
			if mvErr := os.Rename(j.auditPath, aside); mvErr != nil {
				return fmt.Errorf("move aside unreadable audit log: %w: %w", err, mvErr)
			}
			log.Warn().Err(err).Str("path", j.auditPath).Str("moved_to", aside).Msg("audit log unreadable, moved aside")
			records = nil
		}

		records = appendCapped(records, rec, j.auditLimit)

		return writeJSON(j.auditPath, lo.Map(records, func(r domain.AuditRecord, _ int) auditEntry {
			return toAuditEntry(r)
		}))
	})
}

// Records implements domain.AuditLog. Oldest first.
func (j *JSONStore) Records(ctx context.Context) ([]domain.AuditRecord, error) {
	records, err := j.readAudit()
	if err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	return records, nil
}
