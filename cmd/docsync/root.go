package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/syntrixbase/docsync/internal/config"
	"github.com/syntrixbase/docsync/internal/logging"
	"github.com/syntrixbase/docsync/internal/services"
	"github.com/syntrixbase/docsync/pkg/model"
)

const shutdownTimeout = 10 * time.Second

type globalFlags struct {
	configDir string
	offline   bool
	userToken string
	partition string
}

// newManager is replaced in tests.
var newManager = func(cfg *config.Config, opts services.Options) *services.Manager {
	return services.NewManager(cfg, opts)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "docsync",
		Short: "Offline-first document sync",
		Long: `docsync keeps a device cache of remote documents, queues writes made
without network access and replays them once connectivity returns.

Documents live in the "readonly" partition shared by the application or in
the "user" partition of the signed-in account (see --token).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&flags.configDir, "config", "c", ".", "directory holding config.yml")
	pf.BoolVar(&flags.offline, "offline", false, "never contact the remote store")
	pf.StringVar(&flags.userToken, "token", os.Getenv("DOCSYNC_USER_TOKEN"), "user token for the user partition")
	pf.StringVarP(&flags.partition, "partition", "p", model.ReadonlyPartition, "partition: readonly or user")

	root.AddCommand(
		newRunCmd(flags),
		newGetCmd(flags),
		newPutCmd(flags),
		newDeleteCmd(flags),
		newListCmd(flags),
		newPendingCmd(flags),
		newDrainCmd(flags),
		newVersionCmd(),
	)
	return root
}

// session loads the configuration, starts the services and signs the user in
// when a token was given. The returned func shuts everything down.
func session(ctx context.Context, flags *globalFlags, serveMetrics bool) (*services.Manager, func() error, error) {
	cfg, err := config.LoadConfig(flags.configDir)
	if err != nil {
		return nil, nil, err
	}
	if err := logging.Initialize(cfg.Logging); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	m := newManager(cfg, services.Options{Offline: flags.offline, ServeMetrics: serveMetrics})
	stop := func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := m.Shutdown(shutdownCtx)
		return errors.Join(err, logging.Shutdown())
	}
	if err := m.Init(ctx); err != nil {
		return nil, nil, errors.Join(err, stop())
	}
	if err := m.Start(ctx); err != nil {
		return nil, nil, errors.Join(err, stop())
	}
	if flags.userToken != "" {
		if err := m.Identity().SignIn(flags.userToken); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("failed to sign in: %w", err), stop())
		}
	}
	return m, stop, nil
}

// withSession runs fn inside a session.
func withSession(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, m *services.Manager) error) error {
	ctx := cmd.Context()
	m, stop, err := session(ctx, flags, false)
	if err != nil {
		return err
	}
	return errors.Join(fn(ctx, m), stop())
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the sync service until interrupted",
		Long: `Run keeps the engine enabled, follows connectivity and replays pending
operations whenever the network comes back. Completion events are published
to the configured event provider.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			_, stop, err := session(ctx, flags, true)
			if err != nil {
				return err
			}
			<-ctx.Done()
			fmt.Fprintln(cmd.ErrOrStderr(), "Shutting down...")
			return stop()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "docsync version %s\n", Version)
		},
	}
}
