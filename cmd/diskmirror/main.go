package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/openmined/diskmirror/internal/config"
	"github.com/openmined/diskmirror/internal/daemon"
	"github.com/openmined/diskmirror/internal/remote/backend"
	"github.com/openmined/diskmirror/internal/utils"
	"github.com/openmined/diskmirror/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	home, _        = os.UserHomeDir()
	configFileName = "config"
	// dotenvFiles are loaded into the environment before it is read. Missing files are fine.
	dotenvFiles = []string{".env"}
)

// legacyEnv maps config keys to the environment names older deployments used.
var legacyEnv = map[string]string{
	"token":      "YANDEX_DISK_TOKEN",
	"local_dir":  "LOCAL_FOLDER",
	"remote_dir": "YANDEX_FOLDER",
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "diskmirror",
		Short:   "Mirror a local directory to a remote folder",
		Version: version.Detailed(),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closer, err := setup(cmd)
			if err != nil {
				return err
			}
			defer closer.Close()
			defer logger.Info("Bye!")

			d, err := newDaemon(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}

			if err := d.Start(cmd.Context()); err != nil {
				logger.Error("startup failed", "error", err)
				return err
			}
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.SortFlags = false
	flags.StringP("config", "c", config.DefaultConfigPath, "config file")
	flags.StringP("local", "l", "", "local directory to mirror")
	flags.StringP("remote", "r", "", "remote folder to mirror into")
	flags.StringP("backend", "b", config.BackendYandexDisk, "remote backend: yadisk, s3 or dir")
	flags.IntP("interval", "i", int(config.DefaultInterval/time.Second), "seconds between sync passes")
	flags.String("match", config.MatchPath, "match files by relative \"path\" or bare \"name\"")
	flags.IntP("workers", "w", config.DefaultWorkers, "parallel uploads and deletes per pass")
	flags.StringSlice("exclude", nil, "glob of local paths to leave out (repeatable)")
	flags.String("log-file", config.DefaultLogFile, "log file")
	flags.String("lock-file", config.DefaultLockFile, "instance lock file")
	flags.String("api-url", "", "override the Yandex.Disk API base URL")
	flags.Int("retries", 0, "retries per remote request")
	flags.Int("request-timeout", int(config.DefaultRequestTimeout/time.Second), "seconds before a remote request is abandoned")
	flags.String("s3-bucket", "", "S3 bucket")
	flags.String("s3-region", "", "S3 region")
	flags.String("s3-endpoint", "", "S3 endpoint for MinIO and other compatible stores")
	flags.Bool("debug", false, "verbose logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newOnceCmd())
	return rootCmd
}

func main() {
	// Setup root context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	v := viper.New()

	// config path
	if cmd.Flag("config").Changed {
		v.SetConfigFile(cmd.Flag("config").Value.String())
	} else {
		v.AddConfigPath(filepath.Join(home, ".diskmirror"))
		v.AddConfigPath(filepath.Join(home, ".config", "diskmirror"))
		v.SetConfigName(configFileName)
		v.SetConfigType("json")
	}

	if err := v.ReadInConfig(); err != nil {
		enoent := errors.Is(err, os.ErrNotExist)
		_, ok := err.(viper.ConfigFileNotFoundError)
		if !enoent && !ok {
			return nil, fmt.Errorf("%w: read '%s': %w", config.ErrConfig, v.ConfigFileUsed(), err)
		}
	}

	// Bind flags to viper
	flagKeys := map[string]string{
		"local_dir":       "local",
		"remote_dir":      "remote",
		"backend":         "backend",
		"interval":        "interval",
		"match":           "match",
		"workers":         "workers",
		"exclude":         "exclude",
		"log_file":        "log-file",
		"lock_file":       "lock-file",
		"api_url":         "api-url",
		"retries":         "retries",
		"request_timeout": "request-timeout",
		"s3_bucket":       "s3-bucket",
		"s3_region":       "s3-region",
		"s3_endpoint":     "s3-endpoint",
		"debug":           "debug",
	}
	for key, flag := range flagKeys {
		if err := v.BindPFlag(key, cmd.Flag(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	// Set up environment variables
	v.SetEnvPrefix("DISKMIRROR")
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = v.BindEnv(key, "DISKMIRROR_"+strings.ToUpper(key), legacy)
	}
	for _, key := range []string{"s3_access_key", "s3_secret_key"} {
		_ = v.BindEnv(key, "DISKMIRROR_"+strings.ToUpper(key), awsEnv[key])
	}

	cfg := &config.Config{
		Path:           v.ConfigFileUsed(),
		Backend:        v.GetString("backend"),
		Token:          v.GetString("token"),
		LocalDir:       v.GetString("local_dir"),
		RemoteDir:      v.GetString("remote_dir"),
		Interval:       time.Duration(v.GetInt("interval")) * time.Second,
		Match:          v.GetString("match"),
		Workers:        v.GetInt("workers"),
		Exclude:        v.GetStringSlice("exclude"),
		APIURL:         v.GetString("api_url"),
		Retries:        v.GetInt("retries"),
		RequestTimeout: time.Duration(v.GetInt("request_timeout")) * time.Second,
		LogFile:        v.GetString("log_file"),
		LockFile:       v.GetString("lock_file"),
		Debug:          v.GetBool("debug"),
		S3: config.S3Config{
			Bucket:    v.GetString("s3_bucket"),
			Region:    v.GetString("s3_region"),
			Endpoint:  v.GetString("s3_endpoint"),
			AccessKey: v.GetString("s3_access_key"),
			SecretKey: v.GetString("s3_secret_key"),
		},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var awsEnv = map[string]string{
	"s3_access_key": "AWS_ACCESS_KEY_ID",
	"s3_secret_key": "AWS_SECRET_ACCESS_KEY",
}

// setup loads the config and builds the logger. Arguments were already parsed,
// so failures from here on do not print usage.
func setup(cmd *cobra.Command) (*config.Config, *slog.Logger, io.Closer, error) {
	cmd.SilenceUsage = true

	cfg, err := loadConfig(cmd)
	if err != nil {
		logConfigError(cmd, err)
		return nil, nil, nil, err
	}

	logger, closer, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, logger, closer, nil
}

// logConfigError records a configuration failure in the log file the config would have used.
// Cobra already prints the error to stderr.
func logConfigError(cmd *cobra.Command, cfgErr error) {
	logFile := cmd.Flag("log-file").Value.String()
	if env := os.Getenv("DISKMIRROR_LOG_FILE"); env != "" && !cmd.Flag("log-file").Changed {
		logFile = env
	}

	logger, closer, err := utils.NewLogger(utils.LoggerOptions{LogFile: logFile, Level: slog.LevelError})
	if err != nil {
		return
	}
	defer closer.Close()
	logger.Error("configuration error", "error", cfgErr)
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, io.Closer, error) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var console *os.File
	if out, ok := cmd.OutOrStdout().(*os.File); ok {
		console = out
	}

	logger, closer, err := utils.NewLogger(utils.LoggerOptions{
		Console: console,
		LogFile: cfg.LogFile,
		Level:   level,
	})
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(logger)

	logger.Info("config loaded",
		"path", cfg.Path,
		"backend", cfg.Backend,
		"token", utils.MaskSecret(cfg.Token),
		"version", version.Short(),
	)
	return logger, closer, nil
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := backend.New(ctx, cfg, nil, logger)
	if err != nil {
		return nil, err
	}
	return daemon.New(cfg, store, nil, logger)
}
