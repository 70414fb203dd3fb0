// File: cmd/signup.go
package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/autosign-cli/api/schemas"
	"github.com/xkilldash9x/autosign-cli/internal/browser"
	"github.com/xkilldash9x/autosign-cli/internal/captcha"
	"github.com/xkilldash9x/autosign-cli/internal/config"
	"github.com/xkilldash9x/autosign-cli/internal/interpreter"
	"github.com/xkilldash9x/autosign-cli/internal/llmclient"
	"github.com/xkilldash9x/autosign-cli/internal/mailbox"
	"github.com/xkilldash9x/autosign-cli/internal/observability"
	"github.com/xkilldash9x/autosign-cli/internal/orchestrator"
	"github.com/xkilldash9x/autosign-cli/internal/platform"
	"github.com/xkilldash9x/autosign-cli/internal/smslog"
	"github.com/xkilldash9x/autosign-cli/internal/store"
	"github.com/xkilldash9x/autosign-cli/internal/verification"
)

// newSignupCmd creates and configures the `signup` command.
func newSignupCmd() *cobra.Command {
	signupCmd := &cobra.Command{
		Use:   "signup \"sign up for github\" [\"sign up for reddit\" ...]",
		Short: "Creates an account from a natural-language command",
		Args:  cobra.MinimumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their Viper keys so CLI flags override the config
			// file and environment with the right precedence.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			if err := viper.BindPFlag("signup.verification_timeout", cmd.Flags().Lookup("verification-timeout")); err != nil {
				return err
			}
			if err := viper.BindPFlag("captcha.solve_timeout", cmd.Flags().Lookup("captcha-timeout")); err != nil {
				return err
			}
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			output := viper.GetString("output")
			concurrency := viper.GetInt("concurrency")
			if concurrency < 1 {
				concurrency = 1
			}

			runStore, cleanup, err := initializeRunStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, runErr := executeRuns(ctx, cfg, args, concurrency, runStore, logger)

			for _, run := range runs {
				reportRun(cmd, run, output)
			}
			return runErr
		},
	}

	signupCmd.Flags().Bool("headless", true, "run the browser headless")
	signupCmd.Flags().Duration("verification-timeout", 0, "how long to wait for a verification code (default from config)")
	signupCmd.Flags().Duration("captcha-timeout", 0, "how long to wait for a captcha solution (default from config)")
	signupCmd.Flags().Int("concurrency", 1, "how many signups to run in parallel")
	signupCmd.Flags().StringP("output", "o", "text", "output format: text or json")

	return signupCmd
}

// executeRuns fans the commands out over a bounded worker group. Each worker
// gets its own browser driver and profile slot; the verification channels and
// captcha resolver are shared, they are safe for concurrent use.
func executeRuns(ctx context.Context, cfg *config.Config, commands []string, concurrency int, runStore schemas.RunStore, logger *zap.Logger) ([]*schemas.SignupRun, error) {
	registry := platform.NewRegistry()
	interp := interpreter.New(registry, logger)

	// Reject channels the config cannot serve before any browser or LLM
	// spend. Commands that do not resolve still run, so they end up as
	// recorded failures instead of aborting the batch.
	for _, command := range commands {
		req, err := interp.Resolve(command)
		if err != nil {
			continue
		}
		if err := cfg.ValidateChannel(req.Profile.Channel); err != nil {
			return nil, fmt.Errorf("%q: %w", command, err)
		}
	}

	emailChannel := verification.NewChannel(mailbox.NewClient(cfg.Mail, cfg.Signup.EmailDomain, logger), logger)

	var smsChannel *verification.Channel
	if cfg.SMS.AccountSID != "" && cfg.SMS.AuthToken != "" && cfg.SMS.PhoneNumber != "" {
		smsChannel = verification.NewChannel(smslog.NewClient(cfg.SMS, logger), logger)
	}

	resolver := captcha.NewResolver(captcha.NewBackend(cfg.Captcha, logger), cfg.Captcha.PollInterval, logger)

	timings := orchestrator.Timings{
		VerificationTimeout: cfg.Signup.VerificationTimeout,
		VerificationPoll:    cfg.Signup.PollInterval,
		CaptchaTimeout:      cfg.Captcha.SolveTimeout,
	}

	runs := make([]*schemas.SignupRun, len(commands))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, command := range commands {
		g.Go(func() error {
			llm, err := llmclient.NewGeminiClient(cfg.LLM, logger)
			if err != nil {
				return err
			}

			browserCfg := cfg.Browser
			if len(commands) > 1 {
				// Profile locks are exclusive; parallel runs need their own slot.
				browserCfg.ProfileDir = fmt.Sprintf("%s-slot%d", cfg.Browser.ProfileDir, i)
			}
			driver := browser.NewAgentDriver(browserCfg, llm, logger)
			defer driver.Close()

			runner := orchestrator.NewRunner(interp, driver, emailChannel, smsChannel, resolver, runStore, timings, logger)

			run, runErr := runner.Run(gctx, command)
			mu.Lock()
			runs[i] = run
			mu.Unlock()
			return runErr
		})
	}

	err := g.Wait()
	return runs, err
}

// initializeRunStore connects the account vault when one is configured; runs
// are otherwise reported to the operator only.
func initializeRunStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (schemas.RunStore, func(), error) {
	if cfg.Database.URL == "" {
		logger.Debug("No database configured, run records will not be persisted.")
		return store.NoopStore{}, func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to account vault: %w", err)
	}
	s, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// reportRun prints one terminal run to stdout. Text mode is for operators;
// json mode emits the full run record for scripting.
func reportRun(cmd *cobra.Command, run *schemas.SignupRun, format string) {
	if run == nil {
		return
	}
	if format == "json" {
		enc := jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(run)
		return
	}

	if run.State == schemas.StateSucceeded {
		cmd.Printf("SUCCEEDED  %-14s username=%s  recipient=%s  password=%s\n",
			run.Request.Profile.ID, run.Credentials.Username,
			run.Credentials.Recipient, run.Credentials.Password)
		return
	}
	reason := ""
	if run.Failure != nil {
		reason = fmt.Sprintf("  [%s in %s] %s", run.Failure.Kind, run.Failure.State, run.Failure.Message)
	}
	cmd.Printf("FAILED     %-14s%s\n", run.Request.Profile.ID, reason)
}
