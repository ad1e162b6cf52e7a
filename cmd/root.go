package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/autoapply/internal/boards"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/external"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/run"
)

const (
	app = "autoapply"
)

type Config struct {
	ProfileFile  string                    `mapstructure:"profile-file" validate:"required"`
	GlobalLimit  int                       `mapstructure:"global-limit" validate:"gte=0"`
	Boards       map[string]run.BoardQuota `mapstructure:"boards" validate:"dive"`
	Filters      boards.Filters            `mapstructure:"filters"`
	TailorResume bool                      `mapstructure:"tailor-resume"`
	AI           *AIConfig                 `mapstructure:"ai"`
	Browser      browser.Options           `mapstructure:"browser"`
	Automation   AutomationConfig          `mapstructure:"automation"`
	History      history.Config            `mapstructure:"history"`
	Exclude      filtering.Config          `mapstructure:"exclude"`
	LogFile      logger.FileOptions        `mapstructure:"log-file"`
}

type AIConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Provider string        `mapstructure:"provider" validate:"omitempty,oneof=gemini"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey            string        `mapstructure:"api-key"`
	APIKeyFile        string        `mapstructure:"api-key-file"`
	Model             string        `mapstructure:"model"`
	MaxRetries        int           `mapstructure:"max-retries" validate:"gte=0"`
	MaxLogLength      int           `mapstructure:"max-log-length" validate:"gte=0"`
	RequestsPerMinute int           `mapstructure:"requests-per-minute" validate:"gte=0"`
	CacheTTL          time.Duration `mapstructure:"cache-ttl"`
}

// AutomationConfig tunes the browser automation. Zero values keep the defaults.
type AutomationConfig struct {
	DryRun       bool            `mapstructure:"dry-run"`
	MaxPages     int             `mapstructure:"max-pages" validate:"gte=0"`
	MaxJobs      int             `mapstructure:"max-jobs" validate:"gte=0"`
	Settle       time.Duration   `mapstructure:"settle"`
	ApplyWait    time.Duration   `mapstructure:"apply-wait"`
	BoardTimeout time.Duration   `mapstructure:"board-timeout"`
	Dispatch     dispatch.Config `mapstructure:",squash"`
	External     external.Config `mapstructure:"external"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "autoapply walks job boards in a browser and fills application forms for you",
	}

	validate = validator.New()
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is autoapply.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetDefault("global-limit", run.DefaultGlobalLimit)
	viper.SetDefault("history.backend", history.BackendSQLite)
	viper.SetDefault("history.path", app+".db")
	viper.SetDefault("history.prefix", app)
	viper.SetDefault("ai.provider", "gemini")
	viper.SetDefault("ai.gemini.cache-ttl", time.Hour)
}

func initConfig() {
	// .env only feeds the environment; a missing file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %v", err)
	}

	viper.SetEnvPrefix(strings.ToUpper(app))
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	// Only these commands need the configuration file.
	if runCmd.CalledAs() == "" && urlCmd.CalledAs() == "" && historyCmd.CalledAs() == "" {
		return
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app)
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

func getConfig() (*Config, error) {
	var config *Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config == nil {
		return nil, errors.New("config is empty")
	}

	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// runConfig lays the configured automation settings over the defaults.
func runConfig(a AutomationConfig) run.Config {
	cfg := run.DefaultConfig()

	cfg.Form.DryRun = a.DryRun
	if a.MaxPages > 0 {
		cfg.Form.MaxPages = a.MaxPages
	}
	if a.MaxJobs > 0 {
		cfg.MaxJobs = a.MaxJobs
	}
	if a.Settle > 0 {
		cfg.Settle = a.Settle
		cfg.Form.Settle = a.Settle
	}
	if a.ApplyWait > 0 {
		cfg.ApplyWait = a.ApplyWait
	}
	cfg.BoardTimeout = a.BoardTimeout

	d := a.Dispatch
	if d.DeliveryDelay == 0 {
		d.DeliveryDelay = cfg.Dispatch.DeliveryDelay
	}
	cfg.Dispatch = d.WithDefaults()

	ext := a.External
	if ext.Settle <= 0 {
		ext.Settle = cfg.External.Settle
	}
	cfg.External = ext

	return cfg
}
