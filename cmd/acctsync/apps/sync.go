package apps

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/spf13/cobra"
)

var SyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Rewrite the sshd AllowUsers directive from local accounts and reload sshd",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := SyncAllowList(cmd.Context(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var ReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report accounts that exist only as SSH login or only as database user",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := Reconcile(cmd.Context(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func SyncAllowList(ctx context.Context, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.SyncAllowList(ctx)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

// Reconcile exits non-zero when drift is found so it can gate scripts.
func Reconcile(ctx context.Context, out io.Writer) error {
	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	report, err := svc.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	printDrift(out, report)

	if !report.InSync() {
		return fmt.Errorf("drift: %d system-only, %d database-only account(s)",
			len(report.SystemOnly), len(report.DatabaseOnly))
	}

	return nil
}
