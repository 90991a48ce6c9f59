package app

import (
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ggonzalez94/bsc-trader/internal/config"
	clierr "github.com/ggonzalez94/bsc-trader/internal/errors"
	"github.com/ggonzalez94/bsc-trader/internal/execution"
)

func (s *runtimeState) newHistoryCommand() *cobra.Command {
	var tokenArg, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "history [trade-id]",
		Short: "Show journaled trades, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := s.services.tradeJournal()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				trade, err := journal.Get(strings.TrimSpace(args[0]))
				if err != nil {
					return err
				}
				return s.emitSuccess(trimRootPath(cmd.CommandPath()), trade, nil, nil)
			}
			filter := execution.JournalFilter{Status: strings.ToLower(strings.TrimSpace(status)), Limit: limit}
			if tokenArg != "" {
				addr, err := parseTokenAddress(tokenArg)
				if err != nil {
					return err
				}
				filter.Token = addr.Hex()
			}
			trades, err := journal.List(filter)
			if err != nil {
				return err
			}
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), trades, nil, nil)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Only trades of this token")
	cmd.Flags().StringVar(&status, "status", "", "Only trades in this status (planned|running|completed|failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum trades to return")
	return cmd
}

type settingsView struct {
	ConfigPath    string   `json:"config_path"`
	ChainID       int64    `json:"chain_id"`
	RPCEndpoints  []string `json:"rpc_endpoints"`
	RelayEnabled  bool     `json:"private_relay_enabled"`
	SlippageBps   int64    `json:"slippage_bps"`
	GasPreset     string   `json:"gas_preset"`
	ExecutionMode string   `json:"execution_mode"`
	PriceSource   string   `json:"price_source"`
	ScanInterval  string   `json:"scan_interval"`
	AutoSell      bool     `json:"auto_sell_enabled"`
	KeySource     string   `json:"key_source"`
}

func viewSettings(settings config.Settings) settingsView {
	return settingsView{
		ConfigPath:    settings.ConfigPath,
		ChainID:       settings.ChainID,
		RPCEndpoints:  settings.RPCEndpoints,
		RelayEnabled:  settings.RelayEnabled,
		SlippageBps:   settings.SlippageBps,
		GasPreset:     settings.GasPreset,
		ExecutionMode: settings.ExecutionMode,
		PriceSource:   settings.PriceSource,
		ScanInterval:  settings.ScanInterval.String(),
		AutoSell:      settings.AutoSell.Enabled,
		KeySource:     settings.KeySource,
	}
}

func (s *runtimeState) newConfigCommand() *cobra.Command {
	root := &cobra.Command{Use: "config", Short: "Inspect and update the config file"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), viewSettings(s.settings), nil, nil)
		},
	}
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config key (dotted for nested keys, e.g. orders.scan_interval) and persist it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := configPatch(args[0], args[1])
			if err != nil {
				return err
			}
			updated, err := config.Update(s.settings, patch)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "update configuration", err)
			}
			s.settings = updated
			return s.emitSuccess(trimRootPath(cmd.CommandPath()), viewSettings(updated), nil, nil)
		},
	}
	root.AddCommand(show)
	root.AddCommand(set)
	return root
}

// configPatch turns a dotted key and a yaml scalar into a yaml document.
func configPatch(key, value string) ([]byte, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return nil, clierr.New(clierr.CodeUsage, "config key must not contain empty segments")
		}
	}
	var parsed any
	if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse config value", err)
	}
	var doc any = parsed
	for i := len(parts) - 1; i >= 0; i-- {
		doc = map[string]any{parts[i]: doc}
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "encode config patch", err)
	}
	return out, nil
}
