package domain

import (
	"context"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Account is the paired OS login and database identity sharing one name.
type Account struct {
	Username string `json:"username"`
	DBSize   string `json:"db_size"`
	Locked   bool   `json:"locked"`
}

type Credential struct {
	Username string
	Password string
}

type SharedDatabase struct {
	Name   string   `json:"name"`
	Grants []string `json:"grants"`
}

type AuditRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Subject   string    `json:"subject"`
	Outcome   string    `json:"outcome"`
}

// Result is the per-item outcome handed back to the operator.
type Result struct {
	Subject string `json:"subject"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

type BatchResult struct {
	Results   []Result  `json:"results"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Summary   string    `json:"summary,omitempty"`
	Accounts  []Account `json:"accounts"`
}

type QueryResult struct {
	Columns []string
	Rows    [][]string
}

type DriftReport struct {
	SystemOnly   []string `json:"system_only"`
	DatabaseOnly []string `json:"database_only"`
}

func (d DriftReport) InSync() bool {
	return len(d.SystemOnly) == 0 && len(d.DatabaseOnly) == 0
}

type SystemAccounts interface {
	Create(ctx context.Context, username, password string) error
	Delete(ctx context.Context, username string) error
	SetPassword(ctx context.Context, username, password string) error
	SetLocked(ctx context.Context, username string, locked bool) error
	// IsLocked is for display only and reports false when the state is unknown.
	IsLocked(ctx context.Context, username string) bool
	ListManaged(ctx context.Context) ([]string, error)
}

type DatabaseAccounts interface {
	CreateAccount(ctx context.Context, username, password string) error
	DeleteAccount(ctx context.Context, username string) error
	ResetPassword(ctx context.Context, username, password string) error
	CreateDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	Grant(ctx context.Context, dbName, username string) error
	Revoke(ctx context.Context, dbName, username string) error
	ListUsers(ctx context.Context) ([]string, error)
	DatabaseSize(ctx context.Context, name string) string
	Query(ctx context.Context, dbName, statement string) (QueryResult, error)
}

type AllowList interface {
	Sync(ctx context.Context, users []string) error
}

type BindAddress interface {
	SetBindAddress(ctx context.Context, addr string) error
}

type Registry interface {
	SharedDatabases(ctx context.Context) ([]SharedDatabase, error)
	AddSharedDatabase(ctx context.Context, name string) error
	RemoveSharedDatabase(ctx context.Context, name string) error
	AddGrant(ctx context.Context, dbName, username string) error
	RemoveGrant(ctx context.Context, dbName, username string) error
	RemoveAccountGrants(ctx context.Context, username string) error
}

type AuditLog interface {
	Append(ctx context.Context, rec AuditRecord) error
	Records(ctx context.Context) ([]AuditRecord, error)
}

type Store interface {
	Registry
	AuditLog
	Close() error
}
