package cli

import (
	"context"
	"fmt"
	"os"

	"fieldsync/internal/app"
	"fieldsync/pkg/config"
	"fieldsync/pkg/state"
	"fieldsync/pkg/state/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fieldsync",
	Short: "Offline-first data collection client",
	Long: `fieldsync keeps versioned, encrypted records on this device and
synchronizes them with a collection server. It also publishes the form code
bundle of the instance.`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the local store")
}

// loadConfig resolves the effective configuration the way the daemon does:
// .env, config file, FIELDSYNC_* variables, then flags.
func loadConfig(cmd *cobra.Command) (config.EffectiveConfigResult, error) {
	_ = godotenv.Load(".env")

	flags := config.Flags{Set: map[string]bool{}}
	fs := cmd.Flags()
	flags.Config, _ = fs.GetString("config")
	flags.DataDir, _ = fs.GetString("data-dir")
	flags.Verbose, _ = fs.GetBool("verbose")
	for _, name := range []string{"config", "data-dir", "verbose"} {
		flags.Set[name] = fs.Changed(name)
	}

	fileCfg, fileExists, err := config.ParseConfigFile(flags)
	if err != nil {
		return config.EffectiveConfigResult{}, fmt.Errorf("failed to load config file: %w", err)
	}
	envCfg, envRes := config.ParseConfigEnvs()

	eff, err := config.LoadEffectiveConfig(flags, fileCfg, fileExists, envCfg, envRes)
	if err != nil {
		return eff, fmt.Errorf("failed to build effective config: %w", err)
	}
	if err := config.ValidateConfig(eff); err != nil {
		return eff, fmt.Errorf("invalid configuration: %w", err)
	}

	logsDir := ""
	if eff.Config.Logging.Audit {
		logsDir = state.LogsPath(eff.DataDir)
	}
	logger.Init(eff.Config.Logging.Level, logsDir)
	logger.Debug("effective_config_loaded", "sources", eff.Sources, "data_dir", eff.DataDir, "env_keys", envRes.Keys)
	return eff, nil
}

// openApp loads the configuration and opens the local store. The caller
// closes the app.
func openApp(cmd *cobra.Command) (*app.App, error) {
	eff, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a, err := app.New(cmd.Context(), eff.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}
	return a, nil
}

func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer logger.Sync()
		defer a.Close()
		return fn(cmd.Context(), cmd, a, args)
	}
}
