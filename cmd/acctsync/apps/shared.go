package apps

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/spf13/cobra"
)

var dropDatabase bool

var SharedCmd = &cobra.Command{
	Use:   "shared",
	Short: "Manage shared databases",
	Long:  AppDescription,
}

var sharedCreateCmd = &cobra.Command{
	Use:   "create [db]",
	Short: "Create a database and register it as shared",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := CreateSharedDatabase(cmd.Context(), args[0], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var sharedRemoveCmd = &cobra.Command{
	Use:   "remove [db]",
	Short: "Unregister a shared database, --drop also drops it",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := RemoveSharedDatabase(cmd.Context(), args[0], dropDatabase, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var sharedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List shared databases and their grants",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := ListSharedDatabases(cmd.Context(), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var sharedGrantCmd = &cobra.Command{
	Use:   "grant [db] [user]",
	Short: "Grant table and object management on a shared database",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := GrantAccess(cmd.Context(), args[0], args[1], true, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var sharedRevokeCmd = &cobra.Command{
	Use:   "revoke [db] [user]",
	Short: "Revoke all privileges of a user on a shared database",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := GrantAccess(cmd.Context(), args[0], args[1], false, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

var sharedQueryCmd = &cobra.Command{
	Use:   "query [db] [statement...]",
	Short: "Run a SELECT, INSERT, UPDATE, DELETE, SHOW or DESCRIBE statement",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		if err := QuerySharedDatabase(cmd.Context(), args[0], strings.Join(args[1:], " "), os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func init() {
	sharedRemoveCmd.Flags().BoolVar(&dropDatabase, "drop", false, "drop the database as well")

	SharedCmd.AddCommand(
		sharedCreateCmd,
		sharedRemoveCmd,
		sharedListCmd,
		sharedGrantCmd,
		sharedRevokeCmd,
		sharedQueryCmd,
	)
}

func CreateSharedDatabase(ctx context.Context, name string, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.CreateSharedDatabase(ctx, name)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

func RemoveSharedDatabase(ctx context.Context, name string, drop bool, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res := svc.RemoveSharedDatabase(ctx, name, drop)
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

func ListSharedDatabases(ctx context.Context, out io.Writer) error {
	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	dbs, err := svc.SharedDatabases(ctx)
	if err != nil {
		return fmt.Errorf("shared databases: %w", err)
	}

	printSharedDatabases(out, dbs)

	return nil
}

// GrantAccess grants when grant is set and revokes otherwise.
func GrantAccess(ctx context.Context, dbName, username string, grant bool, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	var res domain.Result
	if grant {
		res = svc.GrantAccess(ctx, dbName, username)
	} else {
		res = svc.RevokeAccess(ctx, dbName, username)
	}
	printResults(out, []domain.Result{res})

	return resultsErr([]domain.Result{res})
}

func QuerySharedDatabase(ctx context.Context, dbName, statement string, out io.Writer) error {
	if err := requireRoot(); err != nil {
		return err
	}

	svc, closer, err := buildService(domain.LoadConfig(ConfigPath))
	if err != nil {
		return err
	}
	defer closer()

	res, err := svc.QuerySharedDatabase(ctx, dbName, statement)
	if err != nil {
		return err
	}

	printQuery(out, res)

	return nil
}
