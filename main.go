// Package main provides the entry point for the recite CLI application.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tilawa/recite/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	verbose    bool
	logLevel   string

	// cfg is loaded before any subcommand runs.
	cfg      config.Config
	environ  config.Environment
	logClose = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "recite",
		Short: "Listen to Quran recitation verse by verse, with repeats",
		Long: paragraph(
			fmt.Sprintf("\nStream recitation %s, repeating a verse, a range or a whole surah.", keyword("verse by verse")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}
)

// loadConfig decodes the merged settings and starts logging.
func loadConfig(cmd *cobra.Command) error {
	if configFile != "" && configFile != viper.ConfigFileUsed() {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil && cmd.Flags().Changed("config") {
			return fmt.Errorf("unable to read config file: %w", err)
		}
	}

	c, err := config.Load(viper.GetViper(), ".env")
	if err != nil {
		return err
	}
	cfg = c

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if environ.Debug {
		cfg.Log.Level = "debug"
	}

	closer, err := setupLog(cfg.Log, verbose)
	if err != nil {
		return err
	}
	logClose = closer

	log.Debug("configuration loaded", "file", viper.ConfigFileUsed(), "reciter", cfg.Reciter)
	return nil
}

func main() {
	err := rootCmd.Execute()
	_ = logClose()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	e, err := config.ReadEnvironment()
	if err != nil {
		fmt.Println("Could not parse environment:", err)
		os.Exit(1)
	}
	environ = e

	tryLoadConfigFromDefaultPlaces()
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "mirror the log to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	config.SetDefaults(viper.GetViper())

	rootCmd.AddCommand(playCmd, cacheCmd, recitersCmd, configCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "recite")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not load find configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "recite")}, dirs...)
	}

	if environ.ConfigHome != "" {
		dirs = append([]string{environ.ConfigHome}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("recite")
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", viper.ConfigFileUsed())
		return
	}

	if viper.ConfigFileUsed() == "" {
		configFile = filepath.Join(dirs[0], "recite.yml")
	}
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
