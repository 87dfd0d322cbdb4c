package apps

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/samber/lo"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusColors = map[domain.Status]lipgloss.Color{
		domain.StatusSuccess: lipgloss.Color("2"),
		domain.StatusWarning: lipgloss.Color("3"),
		domain.StatusError:   lipgloss.Color("1"),
	}
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printTable(w io.Writer, t *table.Table) {
	_, _ = fmt.Fprintln(w, t.String())
}

func printResults(w io.Writer, results []domain.Result) {
	rows := lo.Map(results, func(res domain.Result, _ int) []string {
		status := lipgloss.NewStyle().Foreground(statusColors[res.Status]).Render(string(res.Status))
		return []string{status, res.Subject, res.Message}
	})

	printTable(w, newTable("Status", "Subject", "Message").Rows(rows...))
}

func printBatch(w io.Writer, batch domain.BatchResult) {
	printResults(w, batch.Results)
	if batch.Summary != "" {
		_, _ = fmt.Fprintln(w, batch.Summary)
	}
}

func printAccounts(w io.Writer, accounts []domain.Account) {
	rows := lo.Map(accounts, func(acc domain.Account, _ int) []string {
		return []string{acc.Username, acc.DBSize, strconv.FormatBool(acc.Locked)}
	})

	printTable(w, newTable("Username", "Database Size", "Locked").Rows(rows...))
}

func printSharedDatabases(w io.Writer, dbs []domain.SharedDatabase) {
	rows := lo.Map(dbs, func(db domain.SharedDatabase, _ int) []string {
		return []string{db.Name, fmt.Sprint(len(db.Grants)), joinOrDash(db.Grants)}
	})

	printTable(w, newTable("Database", "Grants", "Users").Rows(rows...))
}

func printQuery(w io.Writer, res domain.QueryResult) {
	if len(res.Columns) == 0 {
		_, _ = fmt.Fprintln(w, "Query OK")
		return
	}

	printTable(w, newTable(res.Columns...).Rows(res.Rows...))
	_, _ = fmt.Fprintf(w, "%d row(s)\n", len(res.Rows))
}

func printAudit(w io.Writer, records []domain.AuditRecord) {
	rows := lo.Map(records, func(rec domain.AuditRecord, _ int) []string {
		return []string{rec.Timestamp.Local().Format("2006-01-02 15:04:05"), rec.Action, rec.Subject, rec.Outcome}
	})

	printTable(w, newTable("Time", "Action", "Subject", "Outcome").Rows(rows...))
}

func printDrift(w io.Writer, report domain.DriftReport) {
	if report.InSync() {
		_, _ = fmt.Fprintln(w, "SSH and database accounts are in sync.")
		return
	}

	printTable(w, newTable("Only in", "Accounts").Rows(
		[]string{"system", joinOrDash(report.SystemOnly)},
		[]string{"database", joinOrDash(report.DatabaseOnly)},
	))
}

func joinOrDash(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
