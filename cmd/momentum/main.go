package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mkrall/momentum/internal/config"
	"github.com/mkrall/momentum/internal/daemon"
	"github.com/mkrall/momentum/internal/ipc"
	"github.com/mkrall/momentum/internal/report"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "momentum",
		Short: "Keep projects, tasks, and markdown notes in sync",
		Long:  "momentum is a daemon that reconciles a SQLite project store with a vault of markdown files and scores each project's momentum.",
	}

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(stopCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(pingCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(orphansCmd())
	rootCmd.AddCommand(resolveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func startCmd() *cobra.Command {
	var foreground bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the momentum daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if len(cfg.VaultPaths) == 0 {
				return fmt.Errorf("no vault_paths configured (edit %s)", config.ConfigPath())
			}

			// Check if daemon is already running.
			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Ping(); err == nil {
				fmt.Println("daemon is already running")
				return nil
			}

			// Remove stale socket file (from a prior crash).
			if _, err := os.Stat(cfg.SocketPath); err == nil {
				log.Println("removing stale socket file")
				_ = os.Remove(cfg.SocketPath)
			}

			if !foreground {
				// For now, only foreground mode is supported.
				fmt.Println("hint: use --foreground to run in the current terminal")
				fmt.Println("background daemonization not yet implemented, running in foreground")
			}

			// Create IPC server first (with nil store -- daemon will set it),
			// then wire the daemon back into it.
			ipcServer := ipc.NewServer(nil, nil, cfg.VaultPaths)
			d := daemon.New(cfg, ipcServer)
			ipcServer.SetDaemon(d)

			// Start blocks until signal or error.
			return d.Start()
		},
	}

	cmd.Flags().BoolVar(&foreground, "foreground", false, "Run in the foreground (don't daemonize)")

	return cmd
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the momentum daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.RequestStop(); err != nil {
				return fmt.Errorf("stop daemon: %w", err)
			}

			fmt.Println("daemon stopping")
			return nil
		},
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check if daemon is alive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Ping(); err != nil {
				fmt.Println("daemon is not running")
				return err
			}

			fmt.Println("daemon is alive")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("daemon not running or unreachable: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(status))
			} else {
				fmt.Print(report.FormatStatus(status))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func syncCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a reconciliation pass now",
		Long: `Ask the daemon to reconcile the vault against the store immediately.

Blocks until the pass finishes and prints its report. Conflicts awaiting
manual resolution are listed on every pass until resolved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			rep, err := client.Sync()
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(rep))
			} else {
				fmt.Print(report.FormatSyncReport(rep))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func scoreCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "score [entity-id]",
		Short: "Show momentum scores",
		Long: `Show the momentum score, stalled flag, and urgency zone per project.

With an entity id argument, scores just that entity.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			var entityID int64
			if len(args) == 1 {
				entityID, err = strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid entity id %q", args[0])
				}
			}

			client := ipc.NewClient(cfg.SocketPath)
			snaps, err := client.Score(entityID)
			if err != nil {
				return fmt.Errorf("score: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(snaps))
			} else {
				fmt.Print(report.FormatScores(snaps))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func orphansCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "orphans",
		Short: "List flagged conflicts and orphaned sync units",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			client := ipc.NewClient(cfg.SocketPath)
			flagged, err := client.Orphans()
			if err != nil {
				return fmt.Errorf("orphans: %w", err)
			}

			if jsonOutput {
				fmt.Println(report.FormatJSON(flagged))
			} else {
				fmt.Print(report.FormatFlagged(flagged))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func resolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path> <db|file>",
		Short: "Resolve a flagged conflict by picking a winning side",
		Long: `Pick a winner for a conflict flagged under manual conflict mode.

"db" keeps the store's structured fields and rewrites the file header;
"file" applies the file's header to the store. The body of the file is
preserved either way.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path, winner := args[0], args[1]
			if winner != "db" && winner != "file" {
				return fmt.Errorf("winner must be \"db\" or \"file\", got %q", winner)
			}

			client := ipc.NewClient(cfg.SocketPath)
			if err := client.Resolve(path, winner); err != nil {
				return fmt.Errorf("resolve: %w", err)
			}

			fmt.Printf("resolved %s in favor of %s\n", path, winner)
			return nil
		},
	}
}
