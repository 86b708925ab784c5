package main

import (
	"fmt"
	"os"
	"time"

	"github.com/maloquacious/goobtool/internal/config"
	"github.com/maloquacious/goobtool/internal/logger"
	"github.com/maloquacious/semver"
	"github.com/spf13/cobra"
)

var (
	version   = semver.Version{Minor: 1, PreRelease: "alpha", Build: semver.Commit()}
	buildDate = ""
)

var (
	port       int
	adminPort  int
	shutdownTO time.Duration
	exitAfter  time.Duration
	publicDir  string
	force      bool
)

// exitCode is set by commands that report a pipeline outcome.
var exitCode int

func main() {
	rootCmd := &cobra.Command{
		Use:           "app",
		Short:         "Goobergine application server and admin CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().DurationVar(&shutdownTO, "shutdown-timeout", 15*time.Second, "graceful shutdown timeout")
	rootCmd.PersistentFlags().StringVar(&publicDir, "public", "public", "directory for static public assets")
	config.RegisterFlags(rootCmd.PersistentFlags())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the application version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	}

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Goobergine server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&port, "port", 8080, "public HTTP port (HTML/HTMX)")
	serveCmd.Flags().IntVar(&adminPort, "admin-port", 8383, "admin HTTP port (JSON, loopback only)")
	serveCmd.Flags().DurationVar(&exitAfter, "exit-after", 0, "optional runtime; if set, server exits after this duration (testing)")

	// db command group
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	dbCreateCmd := &cobra.Command{
		Use:   "create",
		Short: "Create and initialize the embedded datastore (client mode)",
		RunE:  runDBCreate,
	}
	dbCreateCmd.Flags().BoolVar(&force, "force", false, "bring an existing datastore up to date instead of failing")
	dbUpgradeCmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending migrations (build pipeline entry point)",
		Long: `Apply pending schema migrations to the server-mode database.

In client mode nothing is migrated and the outcome is "skipped".
The exit status is 0 for success or skipped and 1 for any fatal outcome.`,
		RunE: runDBUpgrade,
	}
	dbVerifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify schema integrity and version",
		RunE:  runDBVerify,
	}
	dbQueryCmd := &cobra.Command{
		Use:   "query STATEMENT [ARGS...]",
		Short: "Run a read statement through the datastore and print JSON rows",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDBQuery,
	}

	dbCmd.AddCommand(dbCreateCmd, dbUpgradeCmd, dbVerifyCmd, dbQueryCmd)
	rootCmd.AddCommand(versionCmd, serveCmd, dbCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// loadConfig builds the configuration from --config, the environment and flags.
func loadConfig(cmd *cobra.Command) (config.Config, logger.Logger, error) {
	cfg, err := config.FromFlags(cmd.Flags(), os.LookupEnv)
	if err != nil {
		return cfg, logger.Default, err
	}
	return cfg, cfg.Logger(os.Stderr), nil
}
