package domain_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/samber/lo"
)

type fakeSystem struct {
	admin      string
	accounts   map[string]string
	locked     map[string]bool
	failCreate map[string]error
	failDelete map[string]error
}

func newFakeSystem() *fakeSystem {
	return &fakeSystem{
		admin:      "root",
		accounts:   map[string]string{},
		locked:     map[string]bool{},
		failCreate: map[string]error{},
		failDelete: map[string]error{},
	}
}

func (f *fakeSystem) Create(_ context.Context, username, password string) error {
	if err, has := f.failCreate[username]; has {
		return err
	}
	if _, has := f.accounts[username]; has {
		return fmt.Errorf("useradd %s: %w", username, domain.ErrAlreadyExists)
	}
	f.accounts[username] = password
	return nil
}

func (f *fakeSystem) Delete(_ context.Context, username string) error {
	if err, has := f.failDelete[username]; has {
		return err
	}
	if _, has := f.accounts[username]; !has {
		return fmt.Errorf("userdel %s: %w", username, domain.ErrNotFound)
	}
	delete(f.accounts, username)
	return nil
}

func (f *fakeSystem) SetPassword(_ context.Context, username, password string) error {
	if _, has := f.accounts[username]; !has {
		return fmt.Errorf("chpasswd %s: %w", username, domain.ErrSubsystem)
	}
	f.accounts[username] = password
	return nil
}

func (f *fakeSystem) SetLocked(_ context.Context, username string, locked bool) error {
	if _, has := f.accounts[username]; !has {
		return fmt.Errorf("usermod %s: %w", username, domain.ErrSubsystem)
	}
	f.locked[username] = locked
	return nil
}

func (f *fakeSystem) IsLocked(_ context.Context, username string) bool {
	return f.locked[username]
}

func (f *fakeSystem) ListManaged(_ context.Context) ([]string, error) {
	users := append(lo.Keys(f.accounts), f.admin)
	sort.Strings(users)
	return users, nil
}

type fakeDatabase struct {
	users      map[string]string
	databases  map[string]bool
	grants     map[string]map[string]bool
	failCreate map[string]error
	failDelete map[string]error
	queries    int
}

func newFakeDatabase() *fakeDatabase {
	return &fakeDatabase{
		users:      map[string]string{},
		databases:  map[string]bool{},
		grants:     map[string]map[string]bool{},
		failCreate: map[string]error{},
		failDelete: map[string]error{},
	}
}

func (f *fakeDatabase) CreateAccount(_ context.Context, username, password string) error {
	if err, has := f.failCreate[username]; has {
		return err
	}
	f.databases[username] = true
	f.users[username] = password
	f.grant(username, username)
	return nil
}

func (f *fakeDatabase) DeleteAccount(_ context.Context, username string) error {
	if err, has := f.failDelete[username]; has {
		return err
	}
	delete(f.databases, username)
	delete(f.users, username)
	for _, users := range f.grants {
		delete(users, username)
	}
	return nil
}

func (f *fakeDatabase) ResetPassword(_ context.Context, username, password string) error {
	f.users[username] = password
	return nil
}

func (f *fakeDatabase) CreateDatabase(_ context.Context, name string) error {
	f.databases[name] = true
	return nil
}

func (f *fakeDatabase) DropDatabase(_ context.Context, name string) error {
	delete(f.databases, name)
	delete(f.grants, name)
	return nil
}

func (f *fakeDatabase) grant(dbName, username string) {
	if f.grants[dbName] == nil {
		f.grants[dbName] = map[string]bool{}
	}
	f.grants[dbName][username] = true
}

func (f *fakeDatabase) Grant(_ context.Context, dbName, username string) error {
	f.grant(dbName, username)
	return nil
}

func (f *fakeDatabase) Revoke(_ context.Context, dbName, username string) error {
	delete(f.grants[dbName], username)
	return nil
}

func (f *fakeDatabase) ListUsers(_ context.Context) ([]string, error) {
	users := lo.Keys(f.users)
	sort.Strings(users)
	return users, nil
}

func (f *fakeDatabase) DatabaseSize(_ context.Context, name string) string {
	if f.databases[name] {
		return "0.02 MB"
	}
	return "0 MB"
}

func (f *fakeDatabase) Query(_ context.Context, dbName, statement string) (domain.QueryResult, error) {
	f.queries++
	return domain.QueryResult{Columns: []string{"1"}, Rows: [][]string{{"1"}}}, nil
}

type fakeAllowList struct {
	calls int
	users []string
	err   error
}

func (f *fakeAllowList) Sync(_ context.Context, users []string) error {
	f.calls++
	f.users = users
	return f.err
}

type fakeBind struct {
	addr string
	err  error
}

func (f *fakeBind) SetBindAddress(_ context.Context, addr string) error {
	f.addr = addr
	return f.err
}

type memStore struct {
	mu      sync.Mutex
	shared  []string
	grants  map[string][]string
	records []domain.AuditRecord
}

func newMemStore() *memStore {
	return &memStore{grants: map[string][]string{}}
}

func (m *memStore) SharedDatabases(_ context.Context) ([]domain.SharedDatabase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lo.Map(m.shared, func(name string, _ int) domain.SharedDatabase {
		return domain.SharedDatabase{Name: name, Grants: append([]string{}, m.grants[name]...)}
	}), nil
}

func (m *memStore) AddSharedDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !lo.Contains(m.shared, name) {
		m.shared = append(m.shared, name)
	}
	return nil
}

func (m *memStore) RemoveSharedDatabase(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !lo.Contains(m.shared, name) {
		return domain.ErrNotFound
	}
	m.shared = lo.Without(m.shared, name)
	delete(m.grants, name)
	return nil
}

func (m *memStore) AddGrant(_ context.Context, dbName, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !lo.Contains(m.shared, dbName) {
		return domain.ErrNotFound
	}
	m.grants[dbName] = lo.Uniq(append(m.grants[dbName], username))
	return nil
}

func (m *memStore) RemoveGrant(_ context.Context, dbName, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[dbName] = lo.Without(m.grants[dbName], username)
	return nil
}

func (m *memStore) RemoveAccountGrants(_ context.Context, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, users := range m.grants {
		m.grants[name] = lo.Without(users, username)
	}
	return nil
}

func (m *memStore) Append(_ context.Context, rec domain.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) Records(_ context.Context) ([]domain.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditRecord{}, m.records...), nil
}

func (m *memStore) Close() error { return nil }

type harness struct {
	system *fakeSystem
	db     *fakeDatabase
	sshd   *fakeAllowList
	bind   *fakeBind
	store  *memStore
	svc    *domain.Service
}

func newHarness() *harness {
	h := &harness{
		system: newFakeSystem(),
		db:     newFakeDatabase(),
		sshd:   &fakeAllowList{},
		bind:   &fakeBind{},
		store:  newMemStore(),
	}
	h.svc = domain.NewService(domain.DefaultConfig(), h.system, h.db, h.sshd, h.bind, h.store)
	return h
}
