package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/kirana/internal/config"
	"github.com/harun/kirana/internal/logger"
	"github.com/harun/kirana/internal/runtime"
	"github.com/harun/kirana/pkg/agent"
	"github.com/harun/kirana/pkg/model"
	"github.com/harun/kirana/pkg/turn"
)

var (
	runPrompt string
	runSystem string
	runMode   string
	runTier   string
	runToolsFlag  []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent turn",
	Long: `Run a single governed agent turn with the configured tool registry
and model tiers, printing the final response.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runPrompt, "prompt", "p", "", "user prompt for the turn (required)")
	runCmd.Flags().StringVar(&runSystem, "system", "", "system instruction text")
	runCmd.Flags().StringVar(&runMode, "mode", "", "tool visibility mode (static, discovery)")
	runCmd.Flags().StringVar(&runTier, "tier", "", "starting model tier (low, medium, high)")
	runCmd.Flags().StringSliceVar(&runToolsFlag, "tools", nil, "recommended tools for the first step")
	_ = runCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	tier, err := parseTierFlag(runTier)
	if err != nil {
		return err
	}

	rt, cfg, cleanup, err := setupRuntime()
	if err != nil {
		return err
	}
	defer cleanup()

	mode := runMode
	if mode == "" {
		mode = cfg.Turn.Mode
	}

	result, err := rt.Runner().RunWithContext(cmd.Context(), agent.RunParams{
		Prompt:           runPrompt,
		System:           runSystem,
		Mode:             turn.Mode(mode),
		RecommendedTools: runToolsFlag,
		Tier:             tier,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), result.Response)
	fmt.Fprintf(cmd.ErrOrStderr(), "steps=%d tier=%s escalated=%t tokens=%d/%d\n",
		len(result.Steps), result.Tier, result.Escalated,
		result.Usage.InputTokens, result.Usage.OutputTokens)

	return nil
}

// setupRuntime loads config, builds the logger, and starts the runtime.
// The returned cleanup stops everything.
func setupRuntime() (*runtime.Runtime, *config.Config, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rt, err := runtime.New(cfg, log)
	if err != nil {
		log.Close()
		return nil, nil, nil, err
	}
	if err := rt.Start(); err != nil {
		log.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		if err := rt.Stop(); err != nil {
			log.Error().Err(err).Msg("Failed to stop runtime")
		}
		log.Close()
	}
	return rt, cfg, cleanup, nil
}

func parseTierFlag(value string) (model.Tier, error) {
	if value == "" {
		return model.TierLow, nil
	}
	tier := model.Tier(strings.ToLower(value))
	if !tier.Valid() {
		return "", fmt.Errorf("invalid tier: %s", value)
	}
	return tier, nil
}
