package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/elfradio/elfradio/internal/auth"
	"github.com/elfradio/elfradio/internal/config"
	"github.com/elfradio/elfradio/internal/tui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultAPIAddr = "http://127.0.0.1:5900"

var rootCmd = &cobra.Command{
	Use:   "elfradio",
	Short: "ElfRadio - AI-assisted amateur radio station",
	Long: `ElfRadio coordinates radio hardware and AI services for one task at a time:
voice QSOs, airband listening, satellite passes, emergency nets and practice sessions.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogger(logrus.StandardLogger(), logLevel)
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr   string
	apiToken  string
	configDir string
	logLevel  string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "API server address (default "+defaultAPIAddr+")")
	rootCmd.PersistentFlags().StringVar(&apiToken, "token", "", "API bearer token (default: saved by 'elfradio login')")
	rootCmd.PersistentFlags().StringVar(&configDir, "config", config.DefaultDir(), "Configuration directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

// setupLogger applies level to logger, keeping the current level when
// level is empty or unknown.
func setupLogger(logger *logrus.Logger, level string) {
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level == "" {
		return
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logger.WithField("level", level).Warn("Unknown log level, keeping current")
		return
	}
	logger.SetLevel(lvl)
}

// resolveAPI returns the daemon address and token, preferring flags over
// saved credentials.
func resolveAPI() (string, string) {
	addr, token := apiAddr, apiToken
	if addr == "" || token == "" {
		if m, err := auth.NewManager(configDir); err == nil {
			if addr == "" {
				addr = m.APIURL()
			}
			if token == "" {
				token = m.Token()
			}
		}
	}
	if addr == "" {
		addr = defaultAPIAddr
	}
	return addr, token
}

func newAPIClient() *tui.Client {
	addr, token := resolveAPI()
	return tui.NewClient(addr, token)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
