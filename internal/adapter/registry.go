package adapter

import (
	"fmt"
	"sort"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/samber/lo"
)

// registryDoc is the persisted registry layout shared by both stores.
type registryDoc struct {
	SharedDBs []string            `json:"shared_dbs"`
	Grants    map[string][]string `json:"grants,omitempty"`
}

func newRegistryDoc() registryDoc {
	return registryDoc{SharedDBs: []string{}}
}

func (r *registryDoc) add(name string) {
	if !lo.Contains(r.SharedDBs, name) {
		r.SharedDBs = append(r.SharedDBs, name)
	}
}

func (r *registryDoc) remove(name string) error {
	if !lo.Contains(r.SharedDBs, name) {
		return fmt.Errorf("shared database %s: %w", name, domain.ErrNotFound)
	}

	r.SharedDBs = lo.Without(r.SharedDBs, name)
	delete(r.Grants, name)

	return nil
}

func (r *registryDoc) grant(dbName, username string) error {
	if !lo.Contains(r.SharedDBs, dbName) {
		return fmt.Errorf("shared database %s: %w", dbName, domain.ErrNotFound)
	}

	if r.Grants == nil {
		r.Grants = map[string][]string{}
	}

	users := lo.Uniq(append(r.Grants[dbName], username))
	sort.Strings(users)
	r.Grants[dbName] = users

	return nil
}

func (r *registryDoc) revoke(dbName, username string) error {
	if !lo.Contains(r.SharedDBs, dbName) {
		return fmt.Errorf("shared database %s: %w", dbName, domain.ErrNotFound)
	}

	r.dropGrant(dbName, username)

	return nil
}

func (r *registryDoc) removeAccount(username string) {
	for dbName := range r.Grants {
		r.dropGrant(dbName, username)
	}
}

func (r *registryDoc) dropGrant(dbName, username string) {
	users := lo.Without(r.Grants[dbName], username)
	if len(users) == 0 {
		delete(r.Grants, dbName)
		return
	}
	r.Grants[dbName] = users
}

func (r *registryDoc) shared() []domain.SharedDatabase {
	return lo.Map(r.SharedDBs, func(name string, _ int) domain.SharedDatabase {
		return domain.SharedDatabase{
			Name:   name,
			Grants: append([]string{}, r.Grants[name]...),
		}
	})
}

// appendCapped appends rec and keeps only the newest limit records. A limit
// of zero or less keeps everything.
func appendCapped(records []domain.AuditRecord, rec domain.AuditRecord, limit int) []domain.AuditRecord {
	records = append(records, rec)
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records
}
