package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/DrSkyle/todoslash/pkg/config"
	"github.com/DrSkyle/todoslash/pkg/engine"
	"github.com/DrSkyle/todoslash/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "todoslash",
	Short: "Find TODOs, blame them, and chase their authors",
	Long: `todoslash scans a source tree for marker comments, attributes each one
to the commit that introduced it, and reminds the authors or records them in a table.`,
	Version:       version.Current,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default ./.todoslash.yaml, then ~/.todoslash.yaml)")
	pf.String("marker", config.Default().Marker, "Marker substring to search for")
	pf.String("backend", config.Default().Backend, "Attribution backend: git, or go-git (committed lines only; uncommitted edits fail)")
	pf.String("repo", "", "Repository root used for attribution")
	pf.Int("concurrency", 0, "Maximum concurrent attribution lookups (0 = unlimited)")
	pf.Bool("isolate-failures", false, "Keep going when individual lookups fail")
	pf.String("log-format", config.Default().LogFormat, "Log format: json or text")
	pf.String("otel-endpoint", "", "OTLP HTTP endpoint for traces")

	bindFlags(rootCmd, map[string]string{
		"marker":           "marker",
		"backend":          "backend",
		"repo":             "repo_root",
		"concurrency":      "max_concurrency",
		"isolate-failures": "isolate_failures",
		"log-format":       "log_format",
		"otel-endpoint":    "otel_endpoint",
	}, true)

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})

	rootCmd.AddCommand(scanCmd, remindCmd, syncCmd, versionCmd)
}

// bindFlags ties each flag to its config key so flags override file and env values.
func bindFlags(cmd *cobra.Command, keys map[string]string, persistent bool) {
	flags := cmd.Flags()
	if persistent {
		flags = cmd.PersistentFlags()
	}
	for flag, key := range keys {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".todoslash")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}
	viper.SetEnvPrefix("TODOSLASH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, warnStyle.Render(fmt.Sprintf("[WARN] Could not read config: %v", err)))
		}
	}
}

// newEngine loads the effective config and builds an engine logging to stderr.
func newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return engine.New(cmd.Context(),
		engine.WithConfig(*cfg),
		engine.WithLogger(engine.NewLogger(os.Stderr, cfg.LogFormat)),
	)
}
