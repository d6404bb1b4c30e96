package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/codecanvas-io/collab/internal/telemetry"
)

//	@title						Collab Server API
//	@version					1.0
//	@description				Real-time collaboration relay for the browser code editor.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				User JWT: "Bearer <token>"
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "collab-server",
	Short: "Real-time collaboration relay for the code editor",
	Long: `collab-server relays presence, cursor, code and file events between
editors connected to the same project and persists file content after a quiet
period.

Configuration is read from config.yaml (or CONFIG_FILE) and environment
variables such as DATABASE_DSN or COLLAB_BROKER.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tailActivityCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "collab-server version %s\n", telemetry.Version)
	},
}
