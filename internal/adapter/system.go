package adapter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// shadow-utils exit codes
const (
	useraddExitNameInUse = 9
	userdelExitNoUser    = 6
	usermodExitNoUser    = 6
)

// SystemAccounts manages local login accounts with shadow-utils.
type SystemAccounts struct {
	runner        Runner
	admin         string
	passwdPath    string
	minUID        uint
	shell         string
	nologinShells []string
}

func NewSystemAccounts(cfg *domain.Config, runner Runner) *SystemAccounts {
	return &SystemAccounts{
		runner:        runner,
		admin:         cfg.AdminUser,
		passwdPath:    cfg.Accounts.PasswdPath,
		minUID:        cfg.Accounts.MinUID,
		shell:         cfg.Accounts.Shell,
		nologinShells: cfg.Accounts.NologinShells,
	}
}

// Create implements domain.SystemAccounts.
func (s *SystemAccounts) Create(ctx context.Context, username, password string) error {
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("username %q: %w", username, domain.ErrValidation)
	}

	_, err := s.runner.Run(ctx, "", "useradd", "-m", "-s", s.shell, username)
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) &&
			(cmdErr.ExitCode == useraddExitNameInUse || strings.Contains(cmdErr.Stderr, "already exists")) {
			return fmt.Errorf("system account %s: %w", username, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("useradd %s: %w", username, err)
	}

	if err := s.SetPassword(ctx, username, password); err != nil {
		return err
	}

	log.Info().Str("user", username).Msg("system account created")

	return nil
}

// Delete implements domain.SystemAccounts.
func (s *SystemAccounts) Delete(ctx context.Context, username string) error {
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("username %q: %w", username, domain.ErrValidation)
	}

	if _, err := s.runner.Run(ctx, "", "userdel", "-r", username); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == userdelExitNoUser {
			return fmt.Errorf("system account %s: %w", username, domain.ErrNotFound)
		}
		return fmt.Errorf("userdel %s: %w", username, err)
	}

	return nil
}

// SetPassword feeds chpasswd through stdin so the secret never reaches a
// shell or the process table.
func (s *SystemAccounts) SetPassword(ctx context.Context, username, password string) error {
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("username %q: %w", username, domain.ErrValidation)
	}
	if strings.ContainsAny(password, "\n\r") {
		return fmt.Errorf("password for %s contains a line break: %w", username, domain.ErrValidation)
	}

	if _, err := s.runner.Run(ctx, username+":"+password+"\n", "chpasswd"); err != nil {
		return fmt.Errorf("chpasswd %s: %w", username, err)
	}

	return nil
}

// SetLocked implements domain.SystemAccounts.
func (s *SystemAccounts) SetLocked(ctx context.Context, username string, locked bool) error {
	if !domain.ValidIdentifier(username) {
		return fmt.Errorf("username %q: %w", username, domain.ErrValidation)
	}

	flag := "-U"
	if locked {
		flag = "-L"
	}

	if _, err := s.runner.Run(ctx, "", "usermod", flag, username); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode == usermodExitNoUser {
			return fmt.Errorf("system account %s: %w", username, domain.ErrNotFound)
		}
		return fmt.Errorf("usermod %s %s: %w", flag, username, err)
	}

	return nil
}

// IsLocked implements domain.SystemAccounts.
func (s *SystemAccounts) IsLocked(ctx context.Context, username string) bool {
	if !domain.ValidIdentifier(username) {
		return false
	}

	out, err := s.runner.Run(ctx, "", "passwd", "-S", username)
	if err != nil {
		log.Debug().Err(err).Str("user", username).Msg("passwd status")
		return false
	}

	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return false
	}

	return strings.Contains(fields[1], "L")
}

// ListManaged returns the administrator plus every account at or above the
// first regular UID that can log in interactively.
func (s *SystemAccounts) ListManaged(ctx context.Context) ([]string, error) {
	entries, err := ReadPasswd(s.passwdPath)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var users []string
	for _, entry := range entries {
		if entry.Username == s.admin ||
			(entry.UID >= s.minUID && !lo.Contains(s.nologinShells, entry.Shell)) {
			users = append(users, entry.Username)
		}
	}

	users = lo.Uniq(users)
	sort.Strings(users)

	return users, nil
}
