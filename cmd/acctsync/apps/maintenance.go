package apps

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/spf13/cobra"
)

var LogsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show the most recent administrative actions",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := ShowLogs(cmd.Context(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var BindAddressCmd = &cobra.Command{
	Use:   "bind-address [ip]",
	Short: "Set the MariaDB bind-address, no argument listens on all interfaces",
	Long:  AppDescription,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		addr := ""
		if len(args) == 1 {
			addr = args[0]
		}
		if err := SetBindAddress(cmd.Context(), addr, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func ShowLogs(ctx context.Context, out io.Writer) error {
	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	records, err := svc.AuditLog(ctx)
	if err != nil {
		return fmt.Errorf("audit log: %w", err)
	}

	printAudit(out, records)

	return nil
}

func SetBindAddress(ctx context.Context, addr string, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.SetBindAddress(ctx, addr)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}
