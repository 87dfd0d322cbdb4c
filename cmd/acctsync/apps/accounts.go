package apps

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/spf13/cobra"
)

var (
	passwordFlag string
	exportOutput string
)

var CreateCmd = &cobra.Command{
	Use:   "create [user]",
	Short: "Create SSH login and database for a user",
	Long:  AppDescription,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := CreateAccount(cmd.Context(), args[0], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var ImportCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Create accounts from a JSON object of user to password, - reads stdin",
	Long:  AppDescription,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := ImportAccounts(cmd.Context(), args[0], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var DeleteCmd = &cobra.Command{
	Use:   "delete [user...]",
	Short: "Delete SSH login, database and database user",
	Long:  AppDescription,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := DeleteAccounts(cmd.Context(), args, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var PasswdCmd = &cobra.Command{
	Use:   "passwd [user]",
	Short: "Set SSH and database password of a user",
	Long:  AppDescription,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := ResetPassword(cmd.Context(), args[0], os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var LockCmd = &cobra.Command{
	Use:   "lock [user]",
	Short: "Lock SSH login of a user",
	Long:  AppDescription,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := SetLocked(cmd.Context(), args[0], true, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var UnlockCmd = &cobra.Command{
	Use:   "unlock [user]",
	Short: "Unlock SSH login of a user",
	Long:  AppDescription,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := SetLocked(cmd.Context(), args[0], false, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed accounts",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := ListAccounts(cmd.Context(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var ExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export managed accounts as CSV",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := ExportAccounts(cmd.Context(), exportOutput, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{CreateCmd, PasswdCmd} {
		cmd.Flags().StringVarP(&passwordFlag, "password", "p", "", "password, read from stdin when empty")
	}
	ExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
}

func CreateAccount(ctx context.Context, username string, stdin io.Reader, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	password, err := readSecret(passwordFlag, stdin)
	if err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	batch := svc.CreateAccount(ctx, username, password)
	printResults(out, batch.Results)

	return resultsErr(batch.Results)
}

func ImportAccounts(ctx context.Context, path string, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	cfg := domain.LoadConfig(ConfigPath)

	data, err := readImport(path, cfg.MaxImportSize)
	if err != nil {
		return err
	}

	svc, closer, err := buildService(cfg)
	if err != nil {
		return err
	}
	defer closer()

	batch, err := svc.ImportAccounts(ctx, data)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	printBatch(out, batch)

	return nil
}

// readImport reads at most limit+1 bytes so an oversized document is
// rejected by the parser without loading all of it.
func readImport(path string, limit int64) ([]byte, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open import file: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		r = f
	}

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}

	return data, nil
}

func DeleteAccounts(ctx context.Context, usernames []string, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	batch := svc.DeleteAccounts(ctx, usernames)
	printBatch(out, batch)

	return resultsErr(batch.Results)
}

func ResetPassword(ctx context.Context, username string, stdin io.Reader, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	password, err := readSecret(passwordFlag, stdin)
	if err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.ResetPassword(ctx, username, password)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

func SetLocked(ctx context.Context, username string, locked bool, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.SetLocked(ctx, username, locked)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

func ListAccounts(ctx context.Context, out io.Writer) error {
	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	accounts, err := svc.Accounts(ctx)
	if err != nil {
		return err
	}

	printAccounts(out, accounts)

	return nil
}

func ExportAccounts(ctx context.Context, path string, out io.Writer) error {
	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	if path == "" {
		return svc.ExportCSV(ctx, out)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open export file: %w", err)
	}

	if err := svc.ExportCSV(ctx, f); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}
