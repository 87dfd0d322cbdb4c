package domain

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Reconcile compares managed OS accounts with database users and reports
// names present on only one side. Nothing is repaired automatically.
func (s *Service) Reconcile(ctx context.Context) (DriftReport, error) {
	users, err := s.system.ListManaged(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("list managed accounts: %w", err)
	}
	users = lo.Without(users, s.cfg.AdminUser)

	dbUsers, err := s.db.ListUsers(ctx)
	if err != nil {
		return DriftReport{}, fmt.Errorf("list database users: %w", err)
	}

	systemOnly, databaseOnly := lo.Difference(lo.Uniq(users), lo.Uniq(dbUsers))
	sort.Strings(systemOnly)
	sort.Strings(databaseOnly)

	report := DriftReport{SystemOnly: systemOnly, DatabaseOnly: databaseOnly}

	if !report.InSync() {
		log.Warn().
			Strs("system_only", report.SystemOnly).
			Strs("database_only", report.DatabaseOnly).
			Msg("account drift detected")
	}

	return report, nil
}
