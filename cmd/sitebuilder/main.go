package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/profile"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/version"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/server"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store"
	"github.com/dx-tooling/sitebuilder-webapp-sub000/store/db"
)

// shutdownTimeout bounds how long running edit sessions may take to finish on exit.
const shutdownTimeout = 30 * time.Second

var (
	rootCmd = &cobra.Command{
		Use:   "sitebuilder",
		Short: `Conversational website editing with resumable edit sessions.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the session workers and the reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")

	for _, name := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("sitebuilder")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd, reapCmd, watchCmd)
}

// loadProfile builds the profile from flags and SITEBUILDER_* variables.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:    viper.GetString("mode"),
		Addr:    viper.GetString("addr"),
		Port:    viper.GetInt("port"),
		Data:    viper.GetString("data"),
		Driver:  viper.GetString("driver"),
		DSN:     viper.GetString("dsn"),
		Version: version.GetCurrentVersion(viper.GetString("mode")),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func setupLogger(p *profile.Profile) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(p.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if p.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func openStore(ctx context.Context, p *profile.Profile) (*store.Store, error) {
	dbDriver, err := db.NewDBDriver(p)
	if err != nil {
		return nil, fmt.Errorf("failed to create db driver: %w", err)
	}
	storeInstance := store.New(dbDriver, p)
	if err := storeInstance.Migrate(ctx); err != nil {
		storeInstance.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return storeInstance, nil
}

func serve(ctx context.Context) error {
	instanceProfile, err := loadProfile()
	if err != nil {
		return err
	}
	setupLogger(instanceProfile)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	storeInstance, err := openStore(ctx, instanceProfile)
	if err != nil {
		return err
	}
	s, err := server.NewServer(ctx, instanceProfile, storeInstance)
	if err != nil {
		storeInstance.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	if err := s.Start(context.Background()); err != nil {
		storeInstance.Close()
		return fmt.Errorf("failed to start server: %w", err)
	}
	printGreetings(instanceProfile)

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.Wait() }()

	select {
	case <-ctx.Done():
	case err = <-waitErr:
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	s.Shutdown(shutdownCtx)
	return err
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("sitebuilder %s started successfully!\n", p.Version)
	fmt.Printf("Data directory: %s\n", p.Data)
	fmt.Printf("Database driver: %s\n", p.Driver)
	fmt.Printf("Mode: %s\n", p.Mode)
	fmt.Printf("Server running on port %d\n", p.Port)
	if !p.IsAgentConfigured() {
		fmt.Println("Warning: SITEBUILDER_LLM_API_KEY is not set, edit sessions will fail.")
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
