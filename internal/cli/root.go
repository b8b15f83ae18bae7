package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/hippocampus/internal/client"
	"github.com/lazypower/hippocampus/internal/config"
)

var (
	configPath string
	serverURL  string
)

var rootCmd = &cobra.Command{
	Use:   "hippocampus",
	Short: "Experiential context assembly for conversational agents",
	Long: "Hippocampus keeps what an agent has learned about itself, its users and their world, " +
		"and assembles the relevant part of it into a token-bounded context block before each model call.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.hippocampus/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "url", "", "server URL (default $HIPPO_URL or http://127.0.0.1:37778)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(observeCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(consolidateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(protectCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads --config, or the default path when unset.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	return config.Load(path)
}

// apiClient returns a client for --url, falling back to the configured
// listen address.
func apiClient() *client.Client {
	if serverURL == "" {
		if cfg, err := loadConfig(); err == nil {
			return client.New(envOr("HIPPO_URL", "http://"+cfg.ListenAddr()))
		}
	}
	return client.New(serverURL)
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Minute)
}
