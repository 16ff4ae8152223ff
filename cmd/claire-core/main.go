// Command claire-core runs the CLAIRE data-capture service: the HTTP
// surface over the SOP, draft, file, and submission subsystems.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pathwaybio/claire-core/internal/apierr"
	"github.com/pathwaybio/claire-core/internal/log"
)

var (
	// Version information (set via -ldflags at build time).
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

var rootCmd = &cobra.Command{
	Use:   "claire-core",
	Short: "CLAIRE data-capture core service",
	Long: `claire-core serves the CLAIRE Electronic Lab Notebook data-capture
API: SOP-driven form validation, draft autosave, binary file intake, and
immutable ELN submissions backed by object storage.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"claire-core version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(sopCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// exitCodeFor maps a startup failure onto spec's exit-code contract.
// Commands that fail after startup (serve's RunE returning a server
// error) exit 1 through the default path below.
func exitCodeFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindConfigInvalid:
		return 2
	case apierr.KindConfigProviderMismatch:
		return 3
	case apierr.KindStorageUnavailable:
		return 4
	default:
		return 1
	}
}
