package apps

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2hsecure/acctsync/internal/adapter"
	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	AppDescription = `This is the account provisioning tool for a shared MariaDB host. Here is the options:
	- create/import/delete: Manage paired SSH login and database accounts
	- passwd/lock/unlock: Change credentials and login state
	- list/export: Show managed accounts with lock state and database size
	- shared: Manage shared databases and who can work in them
	- bind-address: Restrict the network interface MariaDB listens on
	- sync/reconcile: Rewrite the sshd allow-list and report account drift
	- daemon: Run sync and reconcile on a schedule`
)

var (
	// Set from persistent flags.
	ConfigPath = domain.DefaultConfigPath
	LogLevel   = "info"
)

var errNotRoot = errors.New("this command must be run as root")

// SetupLogging points the global logger at stderr.
func SetupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}

	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	return nil
}

func requireRoot() error {
	if os.Geteuid() != 0 {
		return errNotRoot
	}
	return nil
}

func openStore(cfg *domain.Config) (domain.Store, error) {
	switch cfg.Store.Driver {
	case "bolt", "":
		return adapter.NewBoltStore(cfg.Store.Path, cfg.Store.AuditLimit)
	case "json":
		return adapter.NewJSONStore(cfg.Store.RegistryPath, cfg.Store.AuditPath, cfg.Store.AuditLimit), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildService wires the adapters for cfg. The returned func releases the
// store and the database pool. The pool connects lazily, so commands that
// never touch the database work while it is down.
func buildService(cfg *domain.Config) (*domain.Service, func(), error) {
	runner := adapter.NewExecRunner(cfg)

	db, err := adapter.NewMySQL(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("database: %w", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	svc := domain.NewService(
		cfg,
		adapter.NewSystemAccounts(cfg, runner),
		db,
		adapter.NewSSHD(cfg, runner),
		adapter.NewMariaDBConfig(cfg, runner),
		store,
	)

	closer := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("store close")
		}
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("db close")
		}
	}

	return svc, closer, nil
}

// readSecret returns flagValue, or the first line of r when the flag is empty.
func readSecret(flagValue string, r io.Reader) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}

	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimRight(line, "\r\n"), nil
}

// resultsErr reports whether any result is an error, for the exit status.
func resultsErr(results []domain.Result) error {
	failed := 0
	for _, res := range results {
		if res.Status == domain.StatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d step(s) failed", failed)
	}
	return nil
}
