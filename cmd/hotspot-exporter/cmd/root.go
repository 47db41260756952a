package cmd

import (
	"fmt"
	"os"

	"emperror.dev/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srodi/hotspot-exporter/pkg/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	procRoot   string
	testData   string

	// cfg is the effective configuration once PersistentPreRunE has run.
	cfg config.Config
)

var rootCmd = &cobra.Command{
	Use:   "hotspot-exporter",
	Short: "Per-process memory and CPU exporter grouped by workload",
	Long: `hotspot-exporter scans the process table, classifies processes into
groups and subgroups, and serves aggregated RSS/PSS/USS, CPU and I/O metrics
with top-N rankings per subgroup.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			loaded.LogLevel = logLevel
		}
		if flags.Changed("proc-root") {
			loaded.ProcRoot = procRoot
		}
		if flags.Changed("test-data") {
			loaded.TestDataFile = testData
		}

		lvl, err := log.ParseLevel(loaded.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		log.SetLevel(lvl)

		switch logFormat {
		case "json":
			log.SetFormatter(&log.JSONFormatter{})
		case "text":
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		default:
			return errors.Errorf("invalid log format %q: want json or text", logFormat)
		}

		cfg = loaded
		return cfg.Validate()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "Path to the YAML config file (default "+config.DefaultPath+" when present)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level. One of trace, debug, info, warn, error.")
	flags.StringVar(&logFormat, "log-format", "text", "Log format. One of text, json.")
	flags.StringVar(&procRoot, "proc-root", "", "Process table root (overrides proc_root)")
	flags.StringVar(&testData, "test-data", "", "Replay a synthetic JSON process list instead of the process table")

	rootCmd.AddCommand(serveCmd, topCmd, checkCmd, subgroupsCmd, testCmd, generateCmd)
}

// Execute runs the CLI and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
