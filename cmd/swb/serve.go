package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/agent"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/confirm"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/llm"
	"github.com/zulandar/switchboard/internal/server"
	"github.com/zulandar/switchboard/internal/store"
	"github.com/zulandar/switchboard/internal/tasks"
	"github.com/zulandar/switchboard/internal/throttle"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Switchboard API server",
		Long:  "Connects to the database, migrates the schema, and serves the chat API until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "switchboard.yaml", "path to Switchboard config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	fmt.Fprintf(out, "Loaded config from %s\n", configPath)

	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	client, err := llm.NewOpenAI(llm.OpenAIOpts{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Model:   cfg.LLM.Model,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	st, err := store.New(gormDB)
	if err != nil {
		return err
	}
	svc, err := tasks.New(gormDB)
	if err != nil {
		return err
	}
	toolset, err := agent.NewToolset(svc)
	if err != nil {
		return err
	}
	confirms := confirm.NewStore(time.Duration(cfg.Limits.ConfirmTTLMinutes) * time.Minute)
	guard := throttle.New(cfg.Limits.RequestsPerWindow, time.Duration(cfg.Limits.WindowSeconds)*time.Second)

	runner, err := agent.NewRunner(agent.Opts{
		LLM:      client,
		Tools:    toolset,
		Tasks:    svc,
		Confirms: confirms,
		MaxSteps: cfg.Limits.MaxSteps,
		Timeout:  time.Duration(cfg.Limits.RunTimeoutSeconds) * time.Second,
		Out:      out,
	})
	if err != nil {
		return err
	}

	srv, err := server.New(server.Opts{
		DB:         gormDB,
		Store:      st,
		Tasks:      svc,
		Runner:     runner,
		Guard:      guard,
		JWTSecret:  cfg.Auth.JWTSecret,
		WindowSize: cfg.Limits.ContextMessages,
		Out:        out,
	})
	if err != nil {
		return err
	}

	// Periodic housekeeping: expired confirmation tokens and stale
	// throttle windows.
	maint := cron.New()
	maint.AddFunc("@every 1m", func() {
		confirms.Sweep()
		guard.Prune()
	})
	maint.Start()
	defer maint.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	if port <= 0 {
		port = cfg.Server.Port
	}
	return srv.Start(ctx, port)
}

// connectFromConfig opens the configured database.
func connectFromConfig(cfg *config.Config) (*gorm.DB, error) {
	switch cfg.Database.Driver {
	case "mysql":
		return db.ConnectMySQL(cfg.Database.User, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port, cfg.Database.Name)
	default:
		return db.ConnectSQLite(cfg.Database.Path)
	}
}
