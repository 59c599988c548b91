package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/git-pkgs/publisher/internal/config"
	"github.com/git-pkgs/publisher/internal/core"
)

// cli holds state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	cfgFile string
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}

	root := &cobra.Command{
		Use:   "publisher",
		Short: "Publish npm archives from an inbox directory into Verdaccio",
		Long: `publisher watches an inbox directory for npm archives named
[@scope-]name-version[-latest].(tgz|tar), checks each one against
Verdaccio's storage and publishes the missing ones to the registry.

Processed batches are moved to the backup directory; archives that
failed to publish are moved to the error directory.

Every flag can also be set through the environment variable named
in its help text.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "YAML file with publisher settings")
	flags.String("registry", "", "registry base URL (REGISTRY)")
	flags.String("inbox", "", "directory archives are dropped into (LISTEN_PACKAGES_DIRECTORY)")
	flags.String("backup", "", "directory processed batches move to (BACKUP_DIRECTORY)")
	flags.String("error-dir", "", "directory failed archives move to (ERROR_DIRECTORY)")
	flags.String("verdaccio-config", "", "Verdaccio config file (VERDACCIO_CONF_FILEPATH)")
	flags.String("storage", "", "Verdaccio storage directory, overrides the config file (STORAGE_DIRECTORY)")
	flags.Int("interval", 0, "poll interval in milliseconds (INTERVAL)")
	flags.String("backend", "", "publish backend: npm or npm-cli (PUBLISH_BACKEND)")
	flags.String("dist-tag", "", "dist-tag applied to published versions (DIST_TAG)")
	flags.Int("check-concurrency", 0, "concurrent storage checks (CHECK_CONCURRENCY)")
	flags.Int("publish-concurrency", 0, "concurrent publish calls (PUBLISH_CONCURRENCY)")
	flags.Int("move-concurrency", 0, "concurrent inbox moves (MOVE_CONCURRENCY)")
	flags.Float64("publish-rate", 0, "max publish calls per second, 0 for unlimited (PUBLISH_RATE)")
	flags.String("metrics-addr", "", "address to serve /metrics on (METRICS_ADDR)")
	flags.Bool("watch", false, "also start a cycle when files land in the inbox (WATCH)")
	flags.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")

	bindFlags(c.v, flags, map[string]string{
		"registry":            config.KeyRegistry,
		"inbox":               config.KeyInboxDir,
		"backup":              config.KeyBackupDir,
		"error-dir":           config.KeyErrorDir,
		"verdaccio-config":    config.KeyVerdaccioConfig,
		"storage":             config.KeyStorageDir,
		"interval":            config.KeyInterval,
		"backend":             config.KeyBackend,
		"dist-tag":            config.KeyDistTag,
		"check-concurrency":   config.KeyCheckConcurrency,
		"publish-concurrency": config.KeyPublishConcurrency,
		"move-concurrency":    config.KeyMoveConcurrency,
		"publish-rate":        config.KeyPublishRate,
		"metrics-addr":        config.KeyMetricsAddr,
		"watch":               config.KeyWatch,
		"log-level":           config.KeyLogLevel,
	})

	root.AddCommand(
		newRunCmd(c),
		newOnceCmd(c),
		newParseCmd(),
		newCheckCmd(c),
		newBackendsCmd(),
	)
	return root
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

// load decodes the configuration without validating it.
func (c *cli) load() (config.Config, error) {
	return config.Load(c.v, c.cfgFile)
}

// newLogger builds the process logger at the configured level.
func newLogger(level string) (*log.Logger, error) {
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Prefix:          "publisher",
		ReportTimestamp: true,
	})
	if level == "" {
		return logger, nil
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the available publish backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range core.SupportedBackends() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}
