package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/headline-goat/verdict/internal/config"
)

var (
	cfgFile string

	// vp and cfg are loaded before every command runs.
	vp  *viper.Viper
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "verdict",
	Short: "verdict - statistical decision engine for A/B tests",
	Long: `verdict analyzes running A/B tests, decides when a test has a winner
and schedules periodic evaluation of every eligible test.
Single Go binary, embedded SQLite.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		vp, err = config.New(cfgFile)
		if err != nil {
			return err
		}
		for key, flag := range map[string]string{
			"db":         "db",
			"log.level":  "log-level",
			"log.format": "log-format",
		} {
			if err := vp.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
				return fmt.Errorf("failed to bind flag %s: %w", flag, err)
			}
		}
		if bind, ok := localBindings[cmd]; ok {
			for key, flag := range bind {
				if err := vp.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("failed to bind flag %s: %w", flag, err)
				}
			}
		}

		cfg, err = config.Load(vp)
		if err != nil {
			return err
		}
		slog.SetDefault(cfg.Logger(cmd.ErrOrStderr()))
		return nil
	},
}

// localBindings maps command-local flags onto config keys.
var localBindings = map[*cobra.Command]map[string]string{}

func bindFlags(cmd *cobra.Command, keys map[string]string) {
	localBindings[cmd] = keys
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("db", "./verdict.db", "database path")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
}
