package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
)

const allowUsersDirective = "AllowUsers"

// SSHD keeps the AllowUsers directive of sshd_config equal to the managed
// account set.
type SSHD struct {
	runner  Runner
	paths   []string
	reload  []string
	lockDir string
}

func NewSSHD(cfg *domain.Config, runner Runner) *SSHD {
	return &SSHD{
		runner:  runner,
		paths:   cfg.SSH.ConfigPaths,
		reload:  cfg.SSH.ReloadCommand,
		lockDir: cfg.Store.LockDir,
	}
}

// Sync implements domain.AllowList. A reload failure is returned wrapped in
// domain.ErrReload; the rewritten file stays in place.
func (s *SSHD) Sync(ctx context.Context, users []string) error {
	if len(users) == 0 {
		return fmt.Errorf("refusing to write an empty %s: %w", allowUsersDirective, domain.ErrValidation)
	}
	for _, u := range users {
		if !validAllowUser(u) {
			return fmt.Errorf("allow-list user %q: %w", u, domain.ErrValidation)
		}
	}

	path, err := firstExisting(s.paths)
	if err != nil {
		return fmt.Errorf("locate sshd config: %w: %w", domain.ErrSubsystem, err)
	}

	err = withFileLock(ctx, s.lockDir, path, func() error {
		current, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		updated := RenderAllowUsers(current, users)
		if bytes.Equal(current, updated) {
			log.Debug().Str("path", path).Msg("sshd allow-list unchanged")
			return nil
		}

		return writeFileAtomic(path, updated, 0o600)
	})
	if err != nil {
		return fmt.Errorf("sshd config: %w: %w", domain.ErrSubsystem, err)
	}

	if len(s.reload) == 0 {
		return nil
	}

	if _, err := s.runner.Run(ctx, "", s.reload[0], s.reload[1:]...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrReload, err)
	}

	return nil
}

// validAllowUser accepts any passwd(5) name that fits in one AllowUsers
// token.
func validAllowUser(u string) bool {
	if u == "" {
		return false
	}
	return strings.IndexFunc(u, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) < 0
}

// RenderAllowUsers replaces the first AllowUsers line with the directive for
// users and drops any later ones. Without an existing line the directive goes
// in front of the first Match block, or at the end of the file. The output is
// stable for the same input.
func RenderAllowUsers(content []byte, users []string) []byte {
	directive := allowUsersDirective + " " + strings.Join(users, " ") + "\n"

	lines := strings.SplitAfter(string(content), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var out bytes.Buffer
	found := false

	for _, line := range lines {
		if directiveIs(line, allowUsersDirective) {
			if !found {
				out.WriteString(directive)
				found = true
			}
			continue
		}
		if !found && directiveIs(line, "Match") {
			out.WriteString(directive)
			out.WriteString("\n")
			found = true
		}
		out.WriteString(line)
	}

	if !found {
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteString("\n")
		}
		out.WriteString("\n")
		out.WriteString(directive)
	}

	return out.Bytes()
}

func directiveIs(line, keyword string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && strings.EqualFold(fields[0], keyword)
}
