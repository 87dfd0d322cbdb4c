package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Service sequences one operator request across the OS account store, the
// database engine and the sshd allow-list. Steps are never rolled back: a
// failure is recorded as a Result and the next independent item proceeds.
type Service struct {
	cfg    *Config
	system SystemAccounts
	db     DatabaseAccounts
	sshd   AllowList
	bind   BindAddress
	store  Store
	now    func() time.Time
}

func NewService(cfg *Config, system SystemAccounts, db DatabaseAccounts, sshd AllowList, bind BindAddress, store Store) *Service {
	return &Service{
		cfg:    cfg,
		system: system,
		db:     db,
		sshd:   sshd,
		bind:   bind,
		store:  store,
		now:    time.Now,
	}
}

func success(subject, format string, args ...any) Result {
	return Result{Subject: subject, Status: StatusSuccess, Message: fmt.Sprintf(format, args...)}
}

func warning(subject, format string, args ...any) Result {
	return Result{Subject: subject, Status: StatusWarning, Message: fmt.Sprintf(format, args...)}
}

func failure(subject, format string, args ...any) Result {
	return Result{Subject: subject, Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

func (s *Service) audit(ctx context.Context, action, subject, outcome string) {
	rec := AuditRecord{
		Timestamp: s.now().UTC().Truncate(time.Second),
		Action:    action,
		Subject:   subject,
		Outcome:   outcome,
	}
	if err := s.store.Append(ctx, rec); err != nil {
		log.Warn().Err(err).Str("action", action).Str("subject", subject).Msg("audit append")
	}
}

// CreateAccount provisions a single account and resyncs the allow-list.
func (s *Service) CreateAccount(ctx context.Context, username, password string) BatchResult {
	return s.CreateAccounts(ctx, []Credential{{Username: username, Password: password}})
}

// CreateAccounts provisions every credential independently, then resyncs the
// allow-list once for the whole batch.
func (s *Service) CreateAccounts(ctx context.Context, creds []Credential) BatchResult {
	entries := lo.Map(creds, func(c Credential, _ int) ImportEntry {
		return ImportEntry{Username: c.Username, Password: c.Password, PasswordOK: c.Password != ""}
	})
	return s.provisionBatch(ctx, entries)
}

// ImportAccounts parses a bulk document and provisions its entries.
func (s *Service) ImportAccounts(ctx context.Context, data []byte) (BatchResult, error) {
	entries, err := ParseImport(data, s.cfg.MaxImportSize)
	if err != nil {
		s.audit(ctx, "upload_file", "bulk", "failed: "+err.Error())
		return BatchResult{}, err
	}

	return s.provisionBatch(ctx, entries), nil
}

func (s *Service) provisionBatch(ctx context.Context, entries []ImportEntry) BatchResult {
	var out BatchResult

	for _, entry := range entries {
		results, ok := s.provision(ctx, entry)
		out.Results = append(out.Results, results...)
		if ok {
			out.Succeeded++
		} else {
			out.Skipped++
		}
	}

	out.Results = append(out.Results, s.SyncAllowList(ctx))
	out.Summary = importSummary(out.Succeeded, out.Skipped)
	out.Accounts = s.accountsOrLog(ctx)

	return out
}

// provision runs Validated -> SystemMutated -> DatabaseMutated for one entry.
// It reports ok when the OS account exists afterwards.
func (s *Service) provision(ctx context.Context, entry ImportEntry) ([]Result, bool) {
	username := entry.Username

	if !ValidIdentifier(username) {
		s.audit(ctx, "create_user", username, "rejected: invalid username format")
		return []Result{failure(username, "Invalid username format: %s", username)}, false
	}
	if !entry.PasswordOK {
		s.audit(ctx, "create_user", username, "rejected: invalid password")
		return []Result{failure(username, "Invalid password for: %s", username)}, false
	}

	var results []Result

	err := s.system.Create(ctx, username, entry.Password)
	switch {
	case err == nil:
		results = append(results, success(username, "SSH user '%s' created.", username))
	case errors.Is(err, ErrAlreadyExists):
		results = append(results, warning(username, "SSH user '%s' already exists.", username))
	default:
		log.Error().Err(err).Str("user", username).Msg("create system account")
		s.audit(ctx, "create_user", username, "failed: "+err.Error())
		return append(results, failure(username, "Failed to create SSH user '%s': %s", username, err)), false
	}

	if err := s.db.CreateAccount(ctx, username, entry.Password); err != nil {
		log.Error().Err(err).Str("user", username).Msg("create database account")
		s.audit(ctx, "create_db_user", username, "failed: "+err.Error())
		results = append(results, failure(username, "Failed to create DB user: %s", err))
		s.audit(ctx, "create_user", username, "partial")
		return results, true
	}

	results = append(results, success(username, "DB user '%s' created and restricted to database '%s'.", username, username))
	s.audit(ctx, "create_user", username, "success")
	log.Info().Str("user", username).Msg("account provisioned")

	return results, true
}

// DeleteAccount removes one account and resyncs the allow-list.
func (s *Service) DeleteAccount(ctx context.Context, username string) BatchResult {
	return s.DeleteAccounts(ctx, []string{username})
}

func (s *Service) DeleteAccounts(ctx context.Context, usernames []string) BatchResult {
	var out BatchResult

	for _, username := range usernames {
		res := s.deprovision(ctx, username)
		out.Results = append(out.Results, res)
		if res.Status == StatusError {
			out.Skipped++
		} else {
			out.Succeeded++
		}
	}

	out.Results = append(out.Results, s.SyncAllowList(ctx))
	out.Summary = fmt.Sprintf("Deleted %d users.", out.Succeeded)
	if out.Skipped > 0 {
		out.Summary += fmt.Sprintf(" Failed %d.", out.Skipped)
	}
	out.Accounts = s.accountsOrLog(ctx)

	return out
}

func (s *Service) deprovision(ctx context.Context, username string) Result {
	if !ValidIdentifier(username) {
		s.audit(ctx, "delete_user", username, "rejected: invalid username format")
		return failure(username, "Invalid username format")
	}

	if username == s.cfg.AdminUser {
		s.audit(ctx, "delete_user", username, "rejected: administrative account")
		return failure(username, "Refusing to delete administrative account")
	}

	missing := false
	if err := s.system.Delete(ctx, username); err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Error().Err(err).Str("user", username).Msg("delete system account")
			s.audit(ctx, "delete_user", username, "failed: "+err.Error())
			return failure(username, "Failed to delete user %s: %s", username, err)
		}
		missing = true
	}

	if err := s.db.DeleteAccount(ctx, username); err != nil {
		log.Error().Err(err).Str("user", username).Msg("delete database account")
		s.audit(ctx, "delete_user", username, "partial: "+err.Error())
		if missing {
			return failure(username, "System account was already absent and database cleanup failed: %s", err)
		}
		return failure(username, "System account removed but database cleanup failed: %s", err)
	}

	if err := s.store.RemoveAccountGrants(ctx, username); err != nil {
		log.Warn().Err(err).Str("user", username).Msg("registry grant cleanup")
	}

	if missing {
		s.audit(ctx, "delete_user", username, "success: system account was already absent")
		return warning(username, "User %s deleted (system account was already absent)", username)
	}

	s.audit(ctx, "delete_user", username, "success")
	log.Info().Str("user", username).Msg("account removed")
	return success(username, "User %s deleted", username)
}

// ResetPassword updates the OS credential first, then the database one.
func (s *Service) ResetPassword(ctx context.Context, username, password string) Result {
	if !ValidIdentifier(username) {
		s.audit(ctx, "reset_password", username, "rejected: invalid username format")
		return failure(username, "Invalid username format")
	}
	if password == "" {
		s.audit(ctx, "reset_password", username, "rejected: empty password")
		return failure(username, "Invalid password for: %s", username)
	}

	if err := s.system.SetPassword(ctx, username, password); err != nil {
		s.audit(ctx, "reset_password", username, "failed: "+err.Error())
		return failure(username, "Failed to update system password: %s", err)
	}

	if err := s.db.ResetPassword(ctx, username, password); err != nil {
		s.audit(ctx, "reset_password", username, "partial: "+err.Error())
		return failure(username, "System password updated but database password failed: %s", err)
	}

	s.audit(ctx, "reset_password", username, "success")
	return success(username, "Password updated")
}

// SetLocked toggles OS login only. The database identity is untouched.
func (s *Service) SetLocked(ctx context.Context, username string, locked bool) Result {
	verb := "unlock"
	if locked {
		verb = "lock"
	}
	action := verb + "_user"

	if !ValidIdentifier(username) {
		s.audit(ctx, action, username, "rejected: invalid username format")
		return failure(username, "Invalid username format")
	}

	if err := s.system.SetLocked(ctx, username, locked); err != nil {
		s.audit(ctx, action, username, "failed: "+err.Error())
		return failure(username, "Failed to %s %s: %s", verb, username, err)
	}

	s.audit(ctx, action, username, "success")
	if locked {
		return success(username, "User %s locked", username)
	}
	return success(username, "User %s unlocked", username)
}

// SyncAllowList recomputes the managed account set and rewrites sshd's
// AllowUsers directive. A reload failure leaves the written file in place.
func (s *Service) SyncAllowList(ctx context.Context) Result {
	const subject = "sshd"

	users, err := s.system.ListManaged(ctx)
	if err != nil {
		s.audit(ctx, "sync_allowlist", subject, "failed: "+err.Error())
		return failure(subject, "Failed to update SSH config: %s", err)
	}

	if err := s.sshd.Sync(ctx, users); err != nil {
		if errors.Is(err, ErrReload) {
			log.Warn().Err(err).Msg("sshd config written but reload failed")
			s.audit(ctx, "sync_allowlist", subject, "drift: "+err.Error())
			return warning(subject, "SSH config written but reload failed, daemon may still use the old allow-list: %s", err)
		}
		log.Error().Err(err).Msg("sshd allow-list")
		s.audit(ctx, "sync_allowlist", subject, "failed: "+err.Error())
		return failure(subject, "Failed to update SSH config: %s", err)
	}

	log.Info().Strs("users", users).Msg("ssh allow-list updated")
	return success(subject, "SSH permissions updated.")
}

func (s *Service) CreateSharedDatabase(ctx context.Context, name string) Result {
	if !ValidIdentifier(name) {
		s.audit(ctx, "create_shared_db", name, "rejected: invalid database name format")
		return failure(name, "Invalid database name format")
	}

	if err := s.db.CreateDatabase(ctx, name); err != nil {
		s.audit(ctx, "create_shared_db", name, "failed: "+err.Error())
		return failure(name, "Failed to create database %s: %s", name, err)
	}

	if err := s.store.AddSharedDatabase(ctx, name); err != nil {
		s.audit(ctx, "create_shared_db", name, "partial: "+err.Error())
		return warning(name, "Database %s created but not registered as shared: %s", name, err)
	}

	s.audit(ctx, "create_shared_db", name, "success")
	return success(name, "Database %s created", name)
}

// RemoveSharedDatabase drops the registry entry and, when drop is set, the
// database itself.
func (s *Service) RemoveSharedDatabase(ctx context.Context, name string, drop bool) Result {
	if !ValidIdentifier(name) {
		s.audit(ctx, "remove_shared_db", name, "rejected: invalid database name format")
		return failure(name, "Invalid database name format")
	}

	if drop {
		if err := s.db.DropDatabase(ctx, name); err != nil {
			s.audit(ctx, "remove_shared_db", name, "failed: "+err.Error())
			return failure(name, "Failed to drop database %s: %s", name, err)
		}
	}

	if err := s.store.RemoveSharedDatabase(ctx, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			s.audit(ctx, "remove_shared_db", name, "success: not registered")
			return warning(name, "Database %s was not registered as shared", name)
		}
		s.audit(ctx, "remove_shared_db", name, "failed: "+err.Error())
		return failure(name, "Failed to unregister database %s: %s", name, err)
	}

	s.audit(ctx, "remove_shared_db", name, "success")
	return success(name, "Database %s removed from shared registry", name)
}

func (s *Service) GrantAccess(ctx context.Context, dbName, username string) Result {
	subject := username + " to " + dbName
	if !ValidIdentifier(dbName) || !ValidIdentifier(username) {
		s.audit(ctx, "grant_access", subject, "rejected: invalid input format")
		return failure(subject, "Invalid input format")
	}

	if err := s.db.Grant(ctx, dbName, username); err != nil {
		s.audit(ctx, "grant_access", subject, "failed: "+err.Error())
		return failure(subject, "Failed to grant %s access on %s: %s", username, dbName, err)
	}

	if err := s.store.AddGrant(ctx, dbName, username); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("db", dbName).Str("user", username).Msg("registry grant")
	}

	s.audit(ctx, "grant_access", subject, "success")
	return success(subject, "Table/object management access granted to %s on %s", username, dbName)
}

func (s *Service) RevokeAccess(ctx context.Context, dbName, username string) Result {
	subject := username + " from " + dbName
	if !ValidIdentifier(dbName) || !ValidIdentifier(username) {
		s.audit(ctx, "revoke_access", subject, "rejected: invalid input format")
		return failure(subject, "Invalid input format")
	}

	if err := s.db.Revoke(ctx, dbName, username); err != nil {
		s.audit(ctx, "revoke_access", subject, "failed: "+err.Error())
		return failure(subject, "Failed to revoke %s access on %s: %s", username, dbName, err)
	}

	if err := s.store.RemoveGrant(ctx, dbName, username); err != nil && !errors.Is(err, ErrNotFound) {
		log.Warn().Err(err).Str("db", dbName).Str("user", username).Msg("registry revoke")
	}

	s.audit(ctx, "revoke_access", subject, "success")
	return success(subject, "Access revoked from %s", username)
}

// QuerySharedDatabase runs a read/write statement against dbName after the
// keyword guard.
func (s *Service) QuerySharedDatabase(ctx context.Context, dbName, statement string) (QueryResult, error) {
	if !ValidIdentifier(dbName) {
		s.audit(ctx, "query_shared_db", dbName, "rejected: invalid database name")
		return QueryResult{}, fmt.Errorf("invalid database name: %w", ErrValidation)
	}
	if !ValidReadWriteStatement(statement) {
		s.audit(ctx, "query_shared_db", dbName, "rejected: statement not allowed")
		return QueryResult{}, fmt.Errorf("query not allowed, only SELECT, INSERT, UPDATE, DELETE, SHOW, DESCRIBE are permitted: %w", ErrValidation)
	}

	res, err := s.db.Query(ctx, dbName, statement)
	if err != nil {
		s.audit(ctx, "query_shared_db", dbName, "failed: "+err.Error())
		return QueryResult{}, fmt.Errorf("query execution: %w", err)
	}

	s.audit(ctx, "query_shared_db", dbName, "success")
	return res, nil
}

func (s *Service) SharedDatabases(ctx context.Context) ([]SharedDatabase, error) {
	return s.store.SharedDatabases(ctx)
}

func (s *Service) AuditLog(ctx context.Context) ([]AuditRecord, error) {
	return s.store.Records(ctx)
}

// Accounts lists managed accounts other than the administrator, with their
// lock state and database footprint computed on demand.
func (s *Service) Accounts(ctx context.Context) ([]Account, error) {
	users, err := s.system.ListManaged(ctx)
	if err != nil {
		return nil, fmt.Errorf("list managed accounts: %w", err)
	}

	users = lo.Without(users, s.cfg.AdminUser)

	return lo.Map(users, func(user string, _ int) Account {
		return Account{
			Username: user,
			DBSize:   s.db.DatabaseSize(ctx, user),
			Locked:   s.system.IsLocked(ctx, user),
		}
	}), nil
}

func (s *Service) accountsOrLog(ctx context.Context) []Account {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("refresh account view")
	}
	return accounts
}

func (s *Service) ExportCSV(ctx context.Context, w io.Writer) error {
	accounts, err := s.Accounts(ctx)
	if err != nil {
		return err
	}
	return WriteCSV(w, accounts)
}

// SetBindAddress restricts which interface the database listens on. An empty
// address means all interfaces.
func (s *Service) SetBindAddress(ctx context.Context, addr string) Result {
	subject := addr
	if subject == "" {
		subject = "all"
	}

	if !ValidAddress(addr) {
		s.audit(ctx, "set_ip_range", subject, "rejected: invalid IP address format")
		return failure(subject, "Invalid IP address format")
	}

	bindAddr := addr
	if bindAddr == "" {
		bindAddr = "0.0.0.0"
	}

	if err := s.bind.SetBindAddress(ctx, bindAddr); err != nil {
		s.audit(ctx, "set_ip_range", subject, "failed: "+err.Error())
		if errors.Is(err, ErrReload) {
			return warning(subject, "bind-address written but database restart failed: %s", err)
		}
		return failure(subject, "Failed to set bind address: %s", err)
	}

	s.audit(ctx, "set_ip_range", subject, "success")
	return success(subject, "IP range set to %s", bindAddr)
}
