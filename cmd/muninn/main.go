// Package main provides the Muninn CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/muninn/pkg/config"
	"github.com/orneryd/muninn/pkg/muninn"
	"github.com/orneryd/muninn/pkg/server"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "muninn",
		Short: "Muninn - self-evolving personal knowledge base",
		Long: `Muninn is a personal knowledge base engine that keeps itself organized.

Features:
  • Hybrid search: semantic embeddings blended with keyword matching
  • Automatic link discovery between related notes
  • Link decay and pruning, so stale connections fade away
  • Tag propagation and context refinement across strong links
  • Importance scoring that rewards retrieval and connectivity`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (env vars still take precedence)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Muninn v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Muninn server",
		Long:  "Start the HTTP API with background embedding backfill and evolution sweeps",
		RunE:  runServe,
	}
	serveCmd.Flags().String("data-dir", "", "override storage directory")
	serveCmd.Flags().Int("port", 0, "override HTTP port")
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep and exit",
		Long:  "Decay and prune links, rediscover connections, propagate tags, and age importance, then print the report",
		RunE:  runSweep,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.LoadFromEnv(), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Database.DataDir = dir
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Server.Port = port
	}

	db, err := muninn.Open(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	srv := server.New(db, cfg.Server, nil)
	if err := srv.Start(); err != nil {
		return err
	}
	fmt.Printf("Muninn v%s listening on http://%s\n", version, srv.Addr())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	// One-shot maintenance run: no server, no background loops.
	cfg.Evolution.SweepEnabled = false
	cfg.Embedding.Provider = "none"

	db, err := muninn.Open(cfg, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := db.RunSweep(cmd.Context())
	if report != nil {
		fmt.Printf("Sweep finished in %s\n", report.Duration.Round(time.Millisecond))
		fmt.Printf("  links created:    %d\n", report.LinksCreated)
		fmt.Printf("  links pruned:     %d\n", report.LinksPruned)
		fmt.Printf("  tags propagated:  %d\n", report.TagsPropagated)
		fmt.Printf("  contexts filled:  %d\n", report.ContextsFilled)
		fmt.Printf("  notes processed:  %d\n", report.NotesProcessed)
		if report.NotesFailed > 0 {
			fmt.Printf("  notes failed:     %d\n", report.NotesFailed)
		}
	}
	return err
}
