package apps

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/h2hsecure/acctsync/internal/domain"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Keep the sshd allow-list in sync and report drift on a schedule",
	Long:  AppDescription,
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		// Listen for termination signal for gracefully shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(c)

		if err := NewDaemon(cmd.Context(), c); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err.Error())
			os.Exit(1)
		}
	},
}

func NewDaemon(ctx context.Context, c chan os.Signal) error {
	if err := requireRoot(); err != nil {
		return err
	}

	cfg := domain.LoadConfig(ConfigPath)

	grp, ctx := errgroup.WithContext(ctx)

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&log.Logger))))

	_, err := scheduler.AddFunc(cfg.Daemon.ReconcileSchedule, func() {
		_ = runPass(ctx, cfg)
	})
	if err != nil {
		return fmt.Errorf("reconcile schedule %q: %w", cfg.Daemon.ReconcileSchedule, err)
	}

	if err := runPass(ctx, cfg); err != nil {
		return err
	}

	scheduler.Start()
	log.Info().Str("schedule", cfg.Daemon.ReconcileSchedule).Msg("acctsync daemon started")

	grp.Go(func() error {
		<-ctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})

	grp.Go(func() error {
		select {
		case s := <-c:
			return fmt.Errorf("signal received: %v", s)
		case <-ctx.Done():
			return nil
		}
	})

	if err := grp.Wait(); err != nil {
		log.Info().Err(err).Msg("closing the app")
	}

	return nil
}

// runPass rewrites the allow-list and reports drift. The store is opened for
// the pass only, so other commands can use it between ticks. Failures are
// logged and retried on the next tick; only a store that cannot be opened is
// returned.
func runPass(ctx context.Context, cfg *domain.Config) error {
	svc, closer, err := buildService(cfg)
	if err != nil {
		log.Error().Err(err).Msg("reconcile pass")
		return err
	}
	defer closer()

	res := svc.SyncAllowList(ctx)
	if res.Status == domain.StatusError {
		log.Error().Str("subject", res.Subject).Msg(res.Message)
	}

	if _, err := svc.Reconcile(ctx); err != nil {
		log.Error().Err(err).Msg("reconcile")
	}

	return nil
}
