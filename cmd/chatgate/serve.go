package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/artpar/chatgate/bootstrap"
	"github.com/artpar/chatgate/config"
)

var (
	hotReload bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat server",
	Long: `Start the chatgate HTTP server.

The server will:
  - Load configuration from chatgate.yaml (or --config)
  - Or load configuration from CHATGATE_* environment variables
  - Open the usage ledger
  - Serve POST /chat through the quota gate

Environment variables (for container deployments):
  CHATGATE_OPENAI_API_KEY       - OpenAI API key
  CHATGATE_OPENAI_ASSISTANT_ID  - Assistant to run
  CHATGATE_PROVIDER             - openai or gemini (default: openai)
  CHATGATE_LEDGER_DRIVER        - memory, sqlite, redis or postgres
  CHATGATE_LEDGER_DSN           - Ledger connection string
  CHATGATE_SERVER_PORT          - Server port (default: 8080)
  CHATGATE_LOG_LEVEL            - Log level: debug, info, warn, error

Examples:
  chatgate serve
  chatgate serve --config /etc/chatgate/chatgate.yaml
  chatgate serve --hot-reload=false

  # Env vars only:
  CHATGATE_OPENAI_API_KEY=sk-... CHATGATE_OPENAI_ASSISTANT_ID=asst_... chatgate serve`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
}

func runServe(cmd *cobra.Command, args []string) error {
	hasConfigFile := false
	if _, err := os.Stat(cfgFile); err == nil {
		hasConfigFile = true
	}

	if !hasConfigFile && !config.HasEnvConfig() {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "No configuration found.")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Option 1: Create %s (see chatgate.example.yaml)\n", cfgFile)
		fmt.Fprintln(out, "Option 2: Set CHATGATE_OPENAI_API_KEY and CHATGATE_OPENAI_ASSISTANT_ID")
		return nil
	}

	var holder *config.Holder
	if hasConfigFile {
		h, err := config.NewHolder(cfgFile, zerolog.Nop())
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		holder = h
	} else {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return fmt.Errorf("error loading config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Running with environment variables (no config file)")
		holder = config.NewHolderFrom(cfg, "", zerolog.Nop())
	}

	app, err := bootstrap.New(context.Background(), holder, bootstrap.Options{
		WatchConfig: hasConfigFile && hotReload,
	})
	if err != nil {
		return fmt.Errorf("error initializing: %w", err)
	}

	// Run (blocks until shutdown)
	return app.Run()
}
