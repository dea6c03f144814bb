// Package cmd defines the CLI commands of the fedisync executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fedisync/internal/config"
	"github.com/JakeFAU/fedisync/internal/server"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// App is the part of the service the commands use. Tests replace it.
type App interface {
	Run(ctx context.Context) error
	Close() error
	Settings() server.SettingsStore
	Communities() server.CommunityStore
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fedisync",
		Short: "Mirrors Lemmy communities onto a destination instance.",
		Long: `fedisync periodically crawls communities on remote Lemmy-compatible
instances, stores what it finds and mirrors it onto a destination instance.
Operator events are kept locally and optionally forwarded to Gotify.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				_ = appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml); env vars use the FEDISYNC_ prefix")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSettingsCmd())
	cmd.AddCommand(newCommunitiesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
