package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ggonzalez94/bsc-trader/internal/config"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/model"
	"github.com/ggonzalez94/bsc-trader/internal/out"
	"github.com/ggonzalez94/bsc-trader/internal/policy"
	"github.com/ggonzalez94/bsc-trader/internal/schema"
	"github.com/ggonzalez94/bsc-trader/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	logger       *logrus.Logger
	root         *cobra.Command
	lastCommand  string
	lastWarnings []string

	services *services
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, logger: logrus.New()}
	state.logger.SetOutput(r.stderr)
	root := state.newRootCommand()
	state.root = root
	state.resetCommandDiagnostics()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	err = normalizeRunError(err)
	defer state.close()
	if err == nil {
		return 0
	}
	state.renderError("", err, state.lastWarnings)
	return clierr.ExitCode(err)
}

func (s *runtimeState) close() {
	if s.services != nil {
		s.services.close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "BNB Smart Chain trading engine: quotes, swaps, limit orders",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.configureLogger(cmd)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			if err := policy.CheckCommandAllowed(settings.EnableCommands, path); err != nil {
				return err
			}
			s.services = newServices(settings, s.logger)
			if settings.CacheEnabled && shouldOpenCache(path) {
				if err := s.services.openCache(); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	pf := cmd.PersistentFlags()
	pf.BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	pf.StringVar(&s.flags.Select, "select", "", "Select fields from data (comma-separated)")
	pf.BoolVar(&s.flags.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	pf.StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	pf.Int64Var(&s.flags.ChainID, "chain-id", 0, "EVM chain id (default 56)")
	pf.StringVar(&s.flags.RPCURLs, "rpc-url", "", "RPC endpoints (comma-separated)")
	pf.StringVar(&s.flags.GasPreset, "gas-preset", "", "Gas price preset (slow|normal|fast|turbo)")
	pf.BoolVar(&s.flags.Turbo, "turbo", false, "Fast path: fixed gas limit, no estimation, no approval wait")
	pf.Int64Var(&s.flags.SlippageBps, "slippage-bps", 0, "Slippage tolerance in basis points")
	pf.StringVar(&s.flags.LogLevel, "log-level", "", "Log level (debug|info|warn|error)")
	pf.StringVar(&s.flags.Timeout, "timeout", "", "Per-call RPC timeout")
	pf.BoolVar(&s.flags.NoCache, "no-cache", false, "Disable cache reads and writes")
	pf.BoolVar(&s.flags.NoStale, "no-stale", false, "Reject stale cached prices")
	pf.StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum stale fallback window after TTL expiry")
	pf.StringVar(&s.flags.KeySource, "key-source", "", "Signing key source (auto|env|file|keystore)")

	cmd.AddCommand(s.newBuyCommand())
	cmd.AddCommand(s.newSellCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newTokenCommand())
	cmd.AddCommand(s.newPriceCommand())
	cmd.AddCommand(s.newNonceCommand())
	cmd.AddCommand(s.newOrdersCommand())
	cmd.AddCommand(s.newHistoryCommand())
	cmd.AddCommand(s.newConfigCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func (s *runtimeState) configureLogger(cmd *cobra.Command) {
	level := s.settings.LogLevel
	if s.flags.LogLevel == "" && trimRootPath(cmd.CommandPath()) == "orders watch" && level == "warn" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.WarnLevel
	}
	s.logger.SetLevel(parsed)
	s.logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), doc, nil, nil)
		},
	}
}

// commandContext bounds one-shot commands; watchers use their own signal context.
func (s *runtimeState) commandContext() (context.Context, context.CancelFunc) {
	budget := s.settings.ReceiptTimeout + 4*s.settings.RPCCallTimeout
	if budget <= 0 {
		budget = 3 * time.Minute
	}
	return context.WithTimeout(context.Background(), budget)
}

type fetchFn func(ctx context.Context) (data any, err error)

// runCachedCommand serves fresh cache hits, otherwise fetches and stores. A
// failed fetch falls back to a stale entry within the max-stale budget.
func (s *runtimeState) runCachedCommand(commandPath, key string, ttl time.Duration, fetch fetchFn) error {
	s.resetCommandDiagnostics()
	cacheStatus := cacheMetaMiss()
	warnings := []string{}
	var staleData any
	staleAvailable := false
	staleObservedAge := time.Duration(0)
	staleObservedAt := time.Time{}
	staleCacheStatus := cacheMetaMiss()

	store := s.services.cacheStore()
	if s.settings.CacheEnabled && store != nil {
		cached, err := store.Get(key, s.settings.MaxStale)
		if err == nil && cached.Hit {
			entryStatus := model.CacheStatus{Status: "hit", AgeMS: cached.Age.Milliseconds(), Stale: cached.Stale}
			var data any
			if err := json.Unmarshal(cached.Value, &data); err == nil {
				if !cached.Stale {
					return s.emitSuccess(commandPath, data, warnings, &entryStatus)
				}
				staleData = data
				staleAvailable = true
				staleObservedAge = cached.Age
				staleObservedAt = time.Now()
				staleCacheStatus = entryStatus
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 4*s.settings.RPCCallTimeout)
	defer cancel()
	data, err := fetch(ctx)
	if err != nil {
		if staleAvailable {
			if !staleFallbackAllowed(err) {
				return err
			}
			currentStaleAge := staleObservedAge
			if !staleObservedAt.IsZero() {
				currentStaleAge += time.Since(staleObservedAt)
			}
			staleCacheStatus.AgeMS = currentStaleAge.Milliseconds()
			if s.settings.NoStale {
				return clierr.Wrap(clierr.CodeStale, "fresh fetch failed and stale fallback is disabled (--no-stale)", err)
			}
			if staleExceedsBudget(currentStaleAge, ttl, s.settings.MaxStale) {
				return clierr.Wrap(clierr.CodeStale, "fresh fetch failed and cached data exceeded stale budget", err)
			}
			warnings = append(warnings, "fetch failed; serving stale data within max-stale budget")
			s.captureCommandDiagnostics(warnings)
			return s.emitSuccess(commandPath, staleData, warnings, &staleCacheStatus)
		}
		return err
	}

	if s.settings.CacheEnabled && store != nil {
		if payload, err := json.Marshal(data); err == nil {
			_ = store.Set(key, payload, ttl)
			cacheStatus = model.CacheStatus{Status: "write"}
		}
	}
	return s.emitSuccess(commandPath, data, warnings, &cacheStatus)
}

func (s *runtimeState) emitSuccess(commandPath string, data any, warnings []string, cacheStatus *model.CacheStatus) error {
	env := model.Envelope{
		Version:  model.EnvelopeVersion,
		Success:  true,
		Data:     data,
		Error:    nil,
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
			Cache:     cacheStatus,
		},
	}
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(commandPath string, err error, warnings []string) {
	if strings.TrimSpace(commandPath) == "" {
		commandPath = s.lastCommand
		if commandPath == "" {
			commandPath = version.CLIName
		}
	}
	code := clierr.ExitCode(err)
	typ := "internal_error"
	message := err.Error()
	raw := ""
	if cErr, ok := clierr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			raw = cErr.Cause.Error()
			if !reasonCode(cErr.Code) {
				message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
			}
		}
		typ = errorType(cErr.Code)
	}

	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	env := model.Envelope{
		Version: model.EnvelopeVersion,
		Success: false,
		Data:    []any{},
		Error: &model.ErrorBody{
			Code:    code,
			Type:    typ,
			Message: message,
			Raw:     raw,
		},
		Warnings: warnings,
		Meta: model.EnvelopeMeta{
			RequestID: newRequestID(),
			Timestamp: s.runner.now().UTC(),
			Command:   commandPath,
			ChainID:   s.settings.ChainID,
		},
	}
	_ = out.Render(s.runner.stderr, env, settings)
}

// reasonCode marks codes whose Message is already the diagnosed reason.
func reasonCode(code clierr.Code) bool {
	switch code {
	case clierr.CodeReverted, clierr.CodeInsufficient, clierr.CodeLiquidity, clierr.CodeBroadcast, clierr.CodeNonceConflict:
		return true
	default:
		return false
	}
}

func errorType(code clierr.Code) string {
	switch code {
	case clierr.CodeUsage:
		return "usage_error"
	case clierr.CodeAuth:
		return "auth_error"
	case clierr.CodeRateLimited:
		return "rate_limited"
	case clierr.CodeUnavailable:
		return "provider_unavailable"
	case clierr.CodeUnsupported:
		return "unsupported"
	case clierr.CodeStale:
		return "stale_data"
	case clierr.CodeBlocked:
		return "command_blocked"
	case clierr.CodeSigner:
		return "signer_error"
	case clierr.CodeActionTimeout:
		return "timeout"
	case clierr.CodeConfig:
		return "config_error"
	case clierr.CodeLiquidity:
		return "no_liquidity"
	case clierr.CodeNonceConflict:
		return "nonce_conflict"
	case clierr.CodeBroadcast:
		return "broadcast_failed"
	case clierr.CodeReverted:
		return "reverted"
	case clierr.CodeInsufficient:
		return "insufficient_funds"
	default:
		return "internal_error"
	}
}

func newRequestID() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func splitCSV(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		norm := strings.ToLower(strings.TrimSpace(part))
		if norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}

func cacheMetaMiss() model.CacheStatus {
	return model.CacheStatus{Status: "miss"}
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command input", err)
	}
	return clierr.Wrap(clierr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func staleExceedsBudget(age, ttl, maxStale time.Duration) bool {
	if age <= ttl {
		return false
	}
	if maxStale < 0 {
		return false
	}
	return age > ttl+maxStale
}

func staleFallbackAllowed(err error) bool {
	cErr, ok := clierr.As(err)
	if !ok {
		return false
	}
	return cErr.Code == clierr.CodeUnavailable || cErr.Code == clierr.CodeRateLimited
}

// shouldOpenCache lists commands that never touch token metadata or prices.
func shouldOpenCache(commandPath string) bool {
	switch normalizeCommandPath(commandPath) {
	case "", "version", "schema", "config", "config set", "config show", "history", "orders list", "orders cancel":
		return false
	default:
		return true
	}
}

func normalizeCommandPath(commandPath string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(commandPath))), " ")
}

func (s *runtimeState) resetCommandDiagnostics() {
	s.lastWarnings = nil
}

func (s *runtimeState) captureCommandDiagnostics(warnings []string) {
	if len(warnings) == 0 {
		s.lastWarnings = nil
		return
	}
	s.lastWarnings = append([]string(nil), warnings...)
}
