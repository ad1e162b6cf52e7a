package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/ai/gemini"
	"github.com/spigell/autoapply/internal/boards"
	"github.com/spigell/autoapply/internal/browser"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/run"
	"github.com/spigell/autoapply/internal/secrets"
)

const (
	PromptYes       = "Yes"
	PromptNo        = "No"
	PromptShowPlan  = "Show listing URLs"
	providerGemini  = "gemini"
	geminiAPIKeyEnv = "GEMINI_API_KEY"
)

var errExit = errors.New("exit requested")

var prompt = promptui.Select{
	Label: "Start applying?",
	Items: []string{PromptYes, PromptNo, PromptShowPlan},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the automation on every enabled board",
	Run: func(cmd *cobra.Command, _ []string) {
		runAutomation(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("do-not-exclude-applied", "f", false, "do not skip jobs already applied in previous runs")
	runCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation before starting")
	runCmd.Flags().Bool("dry-run", false, "fill forms but never click the final submit control")
	runCmd.Flags().StringP("exclude-file", "e", "", "special file with jobs to exclude. Default is unset.")

	viper.BindPFlag("exclude.file", runCmd.Flags().Lookup("exclude-file"))
	viper.BindPFlag("automation.dry-run", runCmd.Flags().Lookup("dry-run"))
}

// runAutomation is the main command for the cli.
func runAutomation(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	config, err := getConfig()
	if err != nil {
		log.Fatalf("getting a config: %s", err)
	}

	logger, err := logger.New(logger.Options{
		JSON:  viper.GetBool("json"),
		Debug: viper.GetBool("debug"),
		File:  config.LogFile,
	})
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	logger.Info("starting the autoapply", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(redacted(config), "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	applicant, err := profile.Load(config.ProfileFile)
	if err != nil {
		logger.Fatal("loading the applicant profile", zap.Error(err))
	}

	command := run.Command{
		Profile:      applicant,
		Boards:       config.Boards,
		GlobalLimit:  config.GlobalLimit,
		Filters:      config.Filters,
		TailorResume: config.TailorResume,
	}

	limits, err := run.Validate(command)
	if err != nil {
		logger.Fatal("the run configuration is rejected", zap.Error(err))
	}

	action := PromptYes
	for {
		if cmd.Flag("yes").Value.String() == "false" {
			_, action, err = prompt.Run()
			if err != nil {
				logger.Fatal("exiting", zap.Error(err))
			}
		}

		if err := handleAction(action, limits, command, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}

		if action == PromptYes {
			break
		}
	}

	store, err := history.Open(ctx, config.History)
	if err != nil {
		logger.Fatal("opening the application history", zap.Error(err))
	}
	defer store.Close()

	oracle, err := newOracle(ctx, config.AI, applicant, logger)
	if err != nil {
		logger.Warn("running without the field oracle", zap.Error(err))
	}

	b, err := browser.Launch(ctx, config.Browser, logger)
	if err != nil {
		logger.Fatal("starting the browser", zap.Error(err))
	}
	defer b.Close()

	ignoreApplied := cmd.Flag("do-not-exclude-applied").Value.String() == "true"
	ctrl := run.New(run.Deps{
		Opener:  b,
		Oracle:  oracle,
		History: store,
		Filters: config.Exclude,
		Steps: func() []filtering.Filter {
			steps := filtering.Default()
			if ignoreApplied {
				filtering.DisableByName(steps, "applied_history", "disabled by --do-not-exclude-applied")
			}
			return steps
		},
		Logger: logger,
	}, runConfig(config.Automation))

	ack, events, err := ctrl.Start(ctx, command)
	if err != nil {
		logger.Fatal("starting the run", zap.Error(err))
	}

	logger.Info("run accepted", zap.String("run_id", ack.RunID), zap.Any("boards", ack.Boards))

	for e := range events {
		fields := []zap.Field{
			zap.String("state", string(e.State)),
			zap.Int("count", e.Count),
			zap.Int("tokens", e.Tokens),
		}
		if e.Board != "" {
			fields = append(fields, zap.String("board", e.Board))
		}
		if e.Reason != "" {
			fields = append(fields, zap.String("reason", e.Reason))
		}

		switch e.State {
		case run.Failed:
			logger.Error("board status", fields...)
		case run.Finished:
			logger.Info("run finished", fields...)
		default:
			logger.Info("board status", fields...)
		}
	}
}

func handleAction(action string, limits map[string]int, command run.Command, logger *zap.Logger) error {
	switch action {
	case PromptYes:
		return nil
	case PromptNo:
		logger.Info("exiting", zap.String("reason", "got no from prompt"))
		return errExit
	case PromptShowPlan:
		for _, line := range planLines(limits, command) {
			fmt.Println(line)
		}
		return nil
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// planLines describe the boards a command would run, in name order.
func planLines(limits map[string]int, command run.Command) []string {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		adapter, err := boards.Lookup(name)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s (limit %d): %v", name, limits[name], err))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (limit %d): %s", name, limits[name], adapter.ListingURL(command.Profile, command.Filters)))
	}
	return lines
}

// newOracle builds the field oracle. It returns nil when the oracle is disabled.
func newOracle(ctx context.Context, cfg *AIConfig, applicant *profile.Profile, base *zap.Logger) (ai.Oracle, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != providerGemini {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when the oracle is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: cfg.Gemini.APIKey,
		File:  cfg.Gemini.APIKeyFile,
		Env:   geminiAPIKeyEnv,
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set ai.gemini.api-key-file, GEMINI_API_KEY_FILE or GEMINI_API_KEY)", err)
	}

	aiLogger := logger.WithCommonFields(base, providerGemini, cfg.Gemini.Model)

	generator, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, aiLogger)
	if err != nil {
		return nil, err
	}

	client := ai.NewClient(generator, aiLogger, ai.Options{
		Provider:          providerGemini,
		Profile:           applicant.Summary(),
		ResumeText:        applicant.ResumeText,
		RequestsPerMinute: cfg.Gemini.RequestsPerMinute,
		MaxLogLength:      cfg.Gemini.MaxLogLength,
	})

	if cfg.Gemini.CacheTTL <= 0 {
		return client, nil
	}
	return ai.NewCached(client, cfg.Gemini.CacheTTL), nil
}

// redacted is config without inline secrets.
func redacted(config *Config) Config {
	c := *config
	if c.AI != nil && c.AI.Gemini != nil && c.AI.Gemini.APIKey != "" {
		aiCfg := *c.AI
		g := *aiCfg.Gemini
		g.APIKey = "***"
		aiCfg.Gemini = &g
		c.AI = &aiCfg
	}
	return c
}
