package domain

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "/etc/acctsync.yaml"

// Config is base config in /etc/acctsync.yaml
type Config struct {
	AdminUser     string         `yaml:"admin_user"`
	MaxImportSize int64          `yaml:"max_import_size"`
	Accounts      AccountsConfig `yaml:"accounts"`
	Database      DatabaseConfig `yaml:"database"`
	SSH           SSHConfig      `yaml:"ssh"`
	Store         StoreConfig    `yaml:"store"`
	Daemon        DaemonConfig   `yaml:"daemon"`
}

type AccountsConfig struct {
	PasswdPath     string        `yaml:"passwd_path"`
	MinUID         uint          `yaml:"minuid"`
	Shell          string        `yaml:"shell"`
	NologinShells  []string      `yaml:"nologin_shells"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

type DatabaseConfig struct {
	DSN            string   `yaml:"dsn"`
	ConfigPaths    []string `yaml:"config_paths"`
	RestartCommand []string `yaml:"restart_command"`
}

type SSHConfig struct {
	ConfigPaths   []string `yaml:"config_paths"`
	ReloadCommand []string `yaml:"reload_command"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	Path         string `yaml:"path"`
	RegistryPath string `yaml:"registry_path"`
	AuditPath    string `yaml:"audit_path"`
	AuditLimit   int    `yaml:"audit_limit"`
	// LockDir holds the advisory locks for files edited outside the store.
	LockDir string `yaml:"lock_dir"`
}

type DaemonConfig struct {
	ReconcileSchedule string `yaml:"reconcile_schedule"`
}

func DefaultConfig() *Config {
	return &Config{
		AdminUser:     "root",
		MaxImportSize: 1 << 20,
		Accounts: AccountsConfig{
			PasswdPath:    "/etc/passwd",
			MinUID:        1000,
			Shell:         "/bin/bash",
			NologinShells: []string{"/sbin/nologin", "/usr/sbin/nologin", "/bin/false"},
		},
		Database: DatabaseConfig{
			DSN: "root@unix(/run/mysqld/mysqld.sock)/",
			ConfigPaths: []string{
				"/etc/my.cnf.d/server.cnf",
				"/etc/my.cnf.d/mariadb-server.cnf",
				"/etc/mysql/mariadb.conf.d/50-server.cnf",
				"/etc/my.cnf",
			},
			RestartCommand: []string{"systemctl", "restart", "mariadb"},
		},
		SSH: SSHConfig{
			ConfigPaths:   []string{"/etc/ssh/sshd_config"},
			ReloadCommand: []string{"systemctl", "reload", "sshd"},
		},
		Store: StoreConfig{
			Driver:       "bolt",
			Path:         "/var/lib/acctsync/acctsync.db",
			RegistryPath: "/var/lib/user_manager_data.json",
			AuditPath:    "/var/lib/user_manager_actions.log",
			AuditLimit:   50,
		},
		Daemon: DaemonConfig{
			ReconcileSchedule: "@every 10m",
		},
	}
}

// LoadConfig reads path over the defaults. A missing or broken file is not
// fatal: the defaults are used and a warning is logged.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()

	cfgfile, cfgErr := os.ReadFile(path)
	if cfgErr != nil {
		log.Warn().Msgf("open config file, using defaults: %s", cfgErr.Error())
		return cfg
	}

	if cfgErr = yaml.Unmarshal(cfgfile, cfg); cfgErr != nil {
		log.Warn().Msgf("parse config file, using defaults: %s", cfgErr.Error())
		return DefaultConfig()
	}

	return cfg
}
