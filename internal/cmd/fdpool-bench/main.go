package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fdpool/internal/filemap"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	config   Config
	validate = validator.New()
	logger   zerolog.Logger
)

func setupLogger() {
	zerolog.TimeFieldFormat = time.RFC3339

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
		NoColor:    false,
	}

	logger = zerolog.New(output).
		With().
		Timestamp().
		Str("app", "fdpool-bench").
		Logger()

	// Set as global logger
	log.Logger = logger

	level, err := zerolog.ParseLevel(viper.GetString("log_level"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

var rootCmd = &cobra.Command{
	Use:          "fdpool-bench",
	Short:        "Descriptor pool benchmark",
	Long:         `Generates a corpus of line files and reads random lines back through capped descriptor pools, verifying every line.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		return nil
	},
}

var genCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a corpus and its checksum manifest",
	RunE: func(cmd *cobra.Command, args []string) error {
		// UnmarshalKey misses nested keys that only come from bound flags.
		var all struct {
			Gen GenConfig `mapstructure:"gen"`
		}
		if err := viper.Unmarshal(&all); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if err := validate.Struct(all.Gen); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}

		_, err := generateCorpus(&all.Gen)
		return err
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [corpus-dir]",
	Short: "Check every corpus line against the manifest through the default pool",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := viper.GetString("corpus_dir")
		if len(args) > 0 {
			dir = args[0]
		}
		if dir == "" {
			return fmt.Errorf("corpus dir is required")
		}

		res, err := verifyCorpus(dir)
		if err != nil {
			return err
		}
		if res.Mismatches > 0 {
			return fmt.Errorf("%d of %d lines do not match the manifest", res.Mismatches, res.Lines)
		}
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Read random corpus lines through descriptor pools",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info().
			Str("config_file", viper.ConfigFileUsed()).
			Msg("Starting bench")

		if err := viper.Unmarshal(&config); err != nil {
			return fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if err := validate.Struct(config); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}

		logger.Info().
			Str("corpus_dir", config.CorpusDir).
			Int("workers", config.Workers).
			Int("reads", config.Reads).
			Int("pool_capacity", config.Pool.Capacity).
			Bool("strict_capacity", config.Pool.StrictCapacity).
			Bool("read_lock", config.ReadLock).
			Str("db_dsn", maskDSN(config.Report.DB.DSN)).
			Msg("Configuration loaded successfully")

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return performBench(ctx, &config)
	},
}

// maskDSN hides credentials in log output.
func maskDSN(dsn string) string {
	if len(dsn) > 0 {
		return "****@****"
	}
	return ""
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))

	genFlags := genCmd.Flags()
	genFlags.String("dir", "", "Directory to write the corpus to")
	genFlags.Int("files", 256, "Number of corpus files")
	genFlags.Int("lines-per-file", 1000, "Lines written to each file")
	genFlags.Int("max-line-length", 200, "Maximum line length in bytes")
	genFlags.Int("concurrency", 8, "Files written in parallel")

	viper.BindPFlag("gen.dir", genFlags.Lookup("dir"))
	viper.BindPFlag("gen.files", genFlags.Lookup("files"))
	viper.BindPFlag("gen.lines_per_file", genFlags.Lookup("lines-per-file"))
	viper.BindPFlag("gen.max_line_length", genFlags.Lookup("max-line-length"))
	viper.BindPFlag("gen.concurrency", genFlags.Lookup("concurrency"))

	runFlags := runCmd.Flags()
	runFlags.String("corpus-dir", "", "Directory holding a generated corpus")
	runFlags.Int("workers", 4, "Number of workers, each owning its own pool")
	runFlags.Int("reads", 10000, "Random line reads per worker")
	runFlags.Bool("read-lock", false, "Take a shared fcntl lock on every open")
	runFlags.Int("index-cache-size", 64, "Line indexes each worker keeps cached")
	runFlags.Int("pool-capacity", filemap.DefaultCapacity(), "Descriptors each pool keeps open at most")
	runFlags.Bool("pool-strict-capacity", false, "Bound open descriptors over the whole registry")
	runFlags.Int("pool-eviction-history", 64, "Recent evictions each pool remembers")
	runFlags.String("report-format", "human", "Report format: json or human")
	runFlags.String("report-out-file", "", "Write the report to this file instead of stdout")
	runFlags.String("report-encoding", "plain", "Report file encoding: plain or zstd")
	runFlags.String("report-db-dsn", "", "Also store the report in this MySQL database")
	runFlags.Bool("report-db-truncate", false, "Truncate stored reports before inserting")
	runFlags.Bool("metrics-enabled", false, "Enable Prometheus metrics server")
	runFlags.String("metrics-addr", ":2112", "Address to listen on for metrics server")

	viper.BindPFlag("corpus_dir", runFlags.Lookup("corpus-dir"))
	viper.BindPFlag("workers", runFlags.Lookup("workers"))
	viper.BindPFlag("reads", runFlags.Lookup("reads"))
	viper.BindPFlag("read_lock", runFlags.Lookup("read-lock"))
	viper.BindPFlag("index_cache_size", runFlags.Lookup("index-cache-size"))
	viper.BindPFlag("pool.capacity", runFlags.Lookup("pool-capacity"))
	viper.BindPFlag("pool.strict_capacity", runFlags.Lookup("pool-strict-capacity"))
	viper.BindPFlag("pool.eviction_history", runFlags.Lookup("pool-eviction-history"))
	viper.BindPFlag("report.format", runFlags.Lookup("report-format"))
	viper.BindPFlag("report.out_file", runFlags.Lookup("report-out-file"))
	viper.BindPFlag("report.encoding", runFlags.Lookup("report-encoding"))
	viper.BindPFlag("report.db.dsn", runFlags.Lookup("report-db-dsn"))
	viper.BindPFlag("report.db.truncate", runFlags.Lookup("report-db-truncate"))
	viper.BindPFlag("metrics.enabled", runFlags.Lookup("metrics-enabled"))
	viper.BindPFlag("metrics.addr", runFlags.Lookup("metrics-addr"))

	rootCmd.AddCommand(genCmd, runCmd, verifyCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	viper.SetEnvPrefix("fdpool")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Printf("Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}
}

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	if shutdownErr := filemap.Shutdown(); shutdownErr != nil {
		logger.Warn().Err(shutdownErr).Msg("Failed to shut down default pool")
	}
	if err != nil {
		os.Exit(1)
	}
}
