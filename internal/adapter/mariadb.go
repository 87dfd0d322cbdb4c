package adapter

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/rs/zerolog/log"
)

var serverSections = []string{"[mysqld]", "[mariadb]", "[server]"}

// MariaDBConfig edits the server option file to change bind-address.
type MariaDBConfig struct {
	runner  Runner
	paths   []string
	restart []string
	lockDir string
}

func NewMariaDBConfig(cfg *domain.Config, runner Runner) *MariaDBConfig {
	return &MariaDBConfig{
		runner:  runner,
		paths:   cfg.Database.ConfigPaths,
		restart: cfg.Database.RestartCommand,
		lockDir: cfg.Store.LockDir,
	}
}

// SetBindAddress implements domain.BindAddress.
func (m *MariaDBConfig) SetBindAddress(ctx context.Context, addr string) error {
	if addr == "" || !domain.ValidAddress(addr) {
		return fmt.Errorf("bind address %q: %w", addr, domain.ErrValidation)
	}

	path, err := firstExisting(m.paths)
	if err != nil {
		return fmt.Errorf("MariaDB configuration file not found: %w: %w", domain.ErrSubsystem, err)
	}

	err = withFileLock(ctx, m.lockDir, path, func() error {
		current, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		return writeFileAtomic(path, RenderBindAddress(current, addr), 0o644)
	})
	if err != nil {
		return fmt.Errorf("mariadb config: %w: %w", domain.ErrSubsystem, err)
	}

	log.Info().Str("path", path).Str("bind", addr).Msg("bind-address updated")

	if len(m.restart) == 0 {
		return nil
	}

	if _, err := m.runner.Run(ctx, "", m.restart[0], m.restart[1:]...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrReload, err)
	}

	return nil
}

// RenderBindAddress rewrites every bind-address line. If there is none, the
// option is added under the first server section, which is created when the
// file has no such section.
func RenderBindAddress(content []byte, addr string) []byte {
	option := "bind-address = " + addr + "\n"

	lines := strings.SplitAfter(string(content), "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}

	var out bytes.Buffer
	found := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "bind-address") {
			out.WriteString(option)
			found = true
			continue
		}
		out.WriteString(line)
	}

	if found {
		return out.Bytes()
	}

	out.Reset()
	for _, line := range lines {
		out.WriteString(line)
		if !found && isServerSection(line) {
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
			out.WriteString(option)
			found = true
		}
	}

	if !found {
		if out.Len() > 0 && !bytes.HasSuffix(out.Bytes(), []byte("\n")) {
			out.WriteString("\n")
		}
		out.WriteString("[mysqld]\n")
		out.WriteString(option)
	}

	return out.Bytes()
}

func isServerSection(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, section := range serverSections {
		if trimmed == section {
			return true
		}
	}
	return false
}
