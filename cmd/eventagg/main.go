package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/duneflow/eventagg/internal/config"
	"github.com/duneflow/eventagg/internal/lifecycle"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "eventagg",
		Short: "eventagg runtime CLI",
		Long:  "eventagg is a single-binary publish-subscribe log aggregator. This CLI manages the server and basic client operations.",
	}

	serverCmd := &cobra.Command{Use: "server", Short: "Server commands"}
	serverStartCmd := &cobra.Command{
		Use:     "start",
		Short:   "Start the eventagg HTTP server",
		Aliases: []string{"run"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dataDir, _ := cmd.Flags().GetString("data-dir")
			addr, _ := cmd.Flags().GetString("addr")
			queueCapacity, _ := cmd.Flags().GetInt("queue-capacity")
			batchMax, _ := cmd.Flags().GetInt("batch-max")
			durability, _ := cmd.Flags().GetString("durability")
			logLevel, _ := cmd.Flags().GetString("log-level")
			logFormat, _ := cmd.Flags().GetString("log-format")
			shutdownGraceMs, _ := cmd.Flags().GetInt("shutdown-grace-ms")

			cfg := cfgpkg.Default()
			cfgpkg.FromEnv(&cfg)
			if dataDir != "" {
				cfg.DataDir = dataDir
			}
			if addr != "" {
				cfg.BindAddr = addr
			}
			if queueCapacity > 0 {
				cfg.QueueCapacity = queueCapacity
			}
			if batchMax > 0 {
				cfg.BatchMax = batchMax
			}
			if durability != "" {
				cfg.Durability = cfgpkg.Durability(durability)
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			if logFormat != "" {
				cfg.LogFormat = logFormat
			}
			if shutdownGraceMs > 0 {
				cfg.ShutdownGraceMs = shutdownGraceMs
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := lifecycle.Run(context.Background(), cfg); err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	serverStartCmd.Flags().String("data-dir", os.Getenv("EVENTAGG_DATA_DIR"), "Data directory (if not specified, uses OS-specific application data directory)")
	serverStartCmd.Flags().String("addr", os.Getenv("EVENTAGG_BIND_ADDR"), "HTTP bind address (default 0.0.0.0:8080)")
	serverStartCmd.Flags().Int("queue-capacity", 0, "Ingestion queue capacity (default 10000)")
	serverStartCmd.Flags().Int("batch-max", 0, "Maximum events per publish request (default 1000)")
	serverStartCmd.Flags().String("durability", os.Getenv("EVENTAGG_DURABILITY"), "Durability mode: strict|checkpoint (default checkpoint)")
	serverStartCmd.Flags().String("log-level", os.Getenv("EVENTAGG_LOG_LEVEL"), "Log level: debug|info|warn|error")
	serverStartCmd.Flags().String("log-format", os.Getenv("EVENTAGG_LOG_FORMAT"), "Log format: text|json (default text)")
	serverStartCmd.Flags().Int("shutdown-grace-ms", 0, "Milliseconds allowed to drain the queue on shutdown (default 5000)")
	serverCmd.AddCommand(serverStartCmd)
	rootCmd.AddCommand(serverCmd)

	rootCmd.AddCommand(newPublishCommand())
	rootCmd.AddCommand(newHealthCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPublishCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish a single event to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, _ := cmd.Flags().GetString("topic")
			eventID, _ := cmd.Flags().GetString("event-id")
			source, _ := cmd.Flags().GetString("source")
			payload, _ := cmd.Flags().GetString("payload")

			body := map[string]any{
				"events": []map[string]any{
					{
						"topic":     topic,
						"event_id":  eventID,
						"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
						"source":    source,
						"payload":   json.RawMessage(payload),
					},
				},
			}
			b, err := json.Marshal(body)
			if err != nil {
				return err
			}
			resp, err := http.Post(apiURL()+"/publish", "application/json", bytes.NewReader(b))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(os.Stdout, resp.Body)
			fmt.Println()
			fmt.Fprintln(os.Stderr, "status:", resp.Status)
			return nil
		},
	}
	cmd.Flags().String("topic", "", "Event topic")
	cmd.Flags().String("event-id", "", "Event ID")
	cmd.Flags().String("source", "cli", "Event source")
	cmd.Flags().String("payload", "{}", "JSON payload")
	return cmd
}

func newHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check a running server's health endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(apiURL() + "/health")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			io.Copy(os.Stdout, resp.Body)
			fmt.Println()
			return nil
		},
	}
}

func apiURL() string {
	if v := os.Getenv("EVENTAGG_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:8080"
}
