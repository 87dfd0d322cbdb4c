package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/go-sql-driver/mysql"
	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
)

// Privileges for working inside a shared database. Nothing here reaches
// other schemas or grants administrative rights.
const sharedPrivileges = "SELECT, INSERT, UPDATE, DELETE, CREATE, DROP, ALTER, INDEX, REFERENCES, " +
	"CREATE TEMPORARY TABLES, LOCK TABLES, EXECUTE, CREATE VIEW, SHOW VIEW, CREATE ROUTINE, ALTER ROUTINE, TRIGGER"

// MySQL manages per-tenant database users. Identifiers can not be bound as
// parameters, so they are only placed in backticks after passing
// domain.ValidIdentifier. String values go through the driver's escaping.
type MySQL struct {
	db *sql.DB
}

// NewMySQL opens a pool for dsn with client-side parameter interpolation,
// which lets account-management statements carry ? placeholders.
func NewMySQL(dsn string) (*MySQL, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.InterpolateParams = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}

	return &MySQL{db: sql.OpenDB(connector)}, nil
}

// NewMySQLFromDB wraps an existing pool. The pool must interpolate
// parameters client-side.
func NewMySQLFromDB(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

func (m *MySQL) Close() error {
	return m.db.Close()
}

func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

type statement struct {
	query string
	args  []any
}

func stmt(query string, args ...any) statement {
	return statement{query: query, args: args}
}

// quoteIdent returns name in backticks or an error if it is not a plain
// identifier.
func quoteIdent(name string) (string, error) {
	if !domain.ValidIdentifier(name) {
		return "", fmt.Errorf("identifier %q: %w", name, domain.ErrValidation)
	}
	return "`" + name + "`", nil
}

// exec runs statements in order and stops at the first failure. Earlier
// statements are not undone.
func (m *MySQL) exec(ctx context.Context, stmts ...statement) error {
	for _, s := range stmts {
		if _, err := m.db.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("exec %q: %w: %w", s.query, domain.ErrSubsystem, err)
		}
	}
	return nil
}

// CreateAccount implements domain.DatabaseAccounts.
func (m *MySQL) CreateAccount(ctx context.Context, username, password string) error {
	db, err := quoteIdent(username)
	if err != nil {
		return err
	}

	err = m.exec(ctx,
		stmt("CREATE DATABASE IF NOT EXISTS "+db),
		stmt("CREATE USER IF NOT EXISTS ?@'localhost' IDENTIFIED BY ?", username, password),
		stmt("GRANT ALL PRIVILEGES ON "+db+".* TO ?@'localhost'", username),
		stmt("FLUSH PRIVILEGES"),
	)
	if err != nil {
		return fmt.Errorf("create db user %s: %w", username, err)
	}

	log.Info().Str("user", username).Msg("database account created")

	return nil
}

// DeleteAccount implements domain.DatabaseAccounts.
func (m *MySQL) DeleteAccount(ctx context.Context, username string) error {
	db, err := quoteIdent(username)
	if err != nil {
		return err
	}

	err = m.exec(ctx,
		stmt("DROP DATABASE IF EXISTS "+db),
		stmt("DROP USER IF EXISTS ?@'localhost'", username),
		stmt("FLUSH PRIVILEGES"),
	)
	if err != nil {
		return fmt.Errorf("drop db user %s: %w", username, err)
	}

	return nil
}

// ResetPassword implements domain.DatabaseAccounts.
func (m *MySQL) ResetPassword(ctx context.Context, username, password string) error {
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("identifier %q: %w", username, domain.ErrValidation)
	}

	if err := m.exec(ctx, stmt("ALTER USER ?@'localhost' IDENTIFIED BY ?", username, password)); err != nil {
		return fmt.Errorf("reset password %s: %w", username, err)
	}

	return nil
}

func (m *MySQL) CreateDatabase(ctx context.Context, name string) error {
	db, err := quoteIdent(name)
	if err != nil {
		return err
	}
	return m.exec(ctx, stmt("CREATE DATABASE IF NOT EXISTS "+db))
}

func (m *MySQL) DropDatabase(ctx context.Context, name string) error {
	db, err := quoteIdent(name)
	if err != nil {
		return err
	}
	return m.exec(ctx, stmt("DROP DATABASE IF EXISTS "+db))
}

// Grant implements domain.DatabaseAccounts.
func (m *MySQL) Grant(ctx context.Context, dbName, username string) error {
	db, err := quoteIdent(dbName)
	if err != nil {
		return err
	}
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("identifier %q: %w", username, domain.ErrValidation)
	}

	err = m.exec(ctx,
		stmt("GRANT "+sharedPrivileges+" ON "+db+".* TO ?@'localhost'", username),
		stmt("FLUSH PRIVILEGES"),
	)
	if err != nil {
		return fmt.Errorf("grant %s on %s: %w", username, dbName, err)
	}

	return nil
}

// Revoke implements domain.DatabaseAccounts.
func (m *MySQL) Revoke(ctx context.Context, dbName, username string) error {
	db, err := quoteIdent(dbName)
	if err != nil {
		return err
	}
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("identifier %q: %w", username, domain.ErrValidation)
	}

	err = m.exec(ctx,
		stmt("REVOKE ALL PRIVILEGES ON "+db+".* FROM ?@'localhost'", username),
		stmt("FLUSH PRIVILEGES"),
	)
	if err != nil {
		return fmt.Errorf("revoke %s on %s: %w", username, dbName, err)
	}

	return nil
}

// ListUsers returns local database users, leaving out the engine's own
// accounts.
func (m *MySQL) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		"SELECT user FROM mysql.user WHERE host = 'localhost' AND user NOT IN ('root', 'mysql', 'mariadb.sys')")
	if err != nil {
		return nil, fmt.Errorf("list db users: %w: %w", domain.ErrSubsystem, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("scan db user: %w", err)
		}
		if user != "" {
			users = append(users, user)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list db users: %w", err)
	}

	sort.Strings(users)
	return users, nil
}

// DatabaseSize reports data plus index size in MB. Any failure reads as
// "0 MB" since the value is informational.
func (m *MySQL) DatabaseSize(ctx context.Context, name string) string {
	var size sql.NullString

	err := m.db.QueryRowContext(ctx,
		"SELECT ROUND(SUM(data_length + index_length) / 1024 / 1024, 2) FROM information_schema.TABLES WHERE table_schema = ?",
		name,
	).Scan(&size)
	if err != nil {
		log.Debug().Err(err).Str("db", name).Msg("database size")
		return "0 MB"
	}

	if !size.Valid || size.String == "" {
		return "0 MB"
	}

	return size.String + " MB"
}

// Query runs statement with dbName as the default schema and returns every
// value as text. NULL is rendered as "NULL".
func (m *MySQL) Query(ctx context.Context, dbName, statement string) (domain.QueryResult, error) {
	db, err := quoteIdent(dbName)
	if err != nil {
		return domain.QueryResult{}, err
	}

	conn, err := m.db.Conn(ctx)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("db conn: %w: %w", domain.ErrSubsystem, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err := conn.ExecContext(ctx, "USE "+db); err != nil {
		return domain.QueryResult{}, fmt.Errorf("use %s: %w: %w", dbName, domain.ErrSubsystem, err)
	}

	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("query: %w: %w", domain.ErrSubsystem, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("columns: %w", err)
	}

	res := domain.QueryResult{Columns: columns}

	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}

		if err := rows.Scan(dest...); err != nil {
			return domain.QueryResult{}, fmt.Errorf("scan: %w", err)
		}

		row := make([]string, len(columns))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			} else {
				row[i] = "NULL"
			}
		}
		res.Rows = append(res.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return domain.QueryResult{}, fmt.Errorf("rows: %w", err)
	}

	return res, nil
}
