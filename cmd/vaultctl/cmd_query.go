package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
)

func newInfoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show vault configuration, supply and strategy settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			info, err := o.client().VaultInfo(ctx)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), info, func(w io.Writer) {
				fmt.Fprintf(w, "vault:          %s\n", info.Address)
				fmt.Fprintf(w, "base asset:     %s\n", info.BaseAsset)
				fmt.Fprintf(w, "total supply:   %s\n", o.format(info.TotalSupply))
				fmt.Fprintf(w, "total assets:   %s\n", o.format(info.TotalAssets))
				fmt.Fprintf(w, "timeout mode:   %s (%ds)\n", info.TimeoutMode, info.Strategy.SignalTimeoutSeconds)
				fmt.Fprintf(w, "redeem policy:  %s\n", info.RedeemPolicy)
				fmt.Fprintf(w, "strategy:       %s\n", enabledText(info.Strategy.Enabled))
				if info.Strategy.LastSignalTimestamp > 0 {
					fmt.Fprintf(w, "last signal:    %s\n", time.Unix(info.Strategy.LastSignalTimestamp, 0).Format(time.RFC3339))
				}
				if info.SignalsHalted {
					fmt.Fprintln(w, "⚠️  signals halted (circuit breaker open)")
				}
				roles := make([]string, 0, len(info.Roles))
				for r := range info.Roles {
					roles = append(roles, r)
				}
				sort.Strings(roles)
				for _, r := range roles {
					fmt.Fprintf(w, "role %-17s %s\n", r+":", strings.Join(info.Roles[r], ", "))
				}
			})
		},
	}
}

func newPortfolioCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show vault holdings per asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			p, err := o.client().Portfolio(ctx)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), p, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ASSET\tAMOUNT")
				fmt.Fprintf(tw, "%s (base)\t%s\n", p.BaseAsset, o.format(p.BaseAmount))
				for _, t := range p.Tokens {
					fmt.Fprintf(tw, "%s\t%s\n", t.Token, o.format(t.Amount))
				}
				_ = tw.Flush()
			})
		},
	}
}

func newAccountCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "account [address]",
		Short: "Show shares and roles of an account (default: --caller)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := o.caller
			if len(args) == 1 {
				addr = args[0]
			}
			if addr == "" {
				return fmt.Errorf("需要账户地址或 --caller")
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			acct, err := o.client().Account(ctx, addr)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), acct, func(w io.Writer) {
				fmt.Fprintf(w, "account: %s\n", acct.Address)
				fmt.Fprintf(w, "shares:  %s\n", o.format(acct.Shares))
				if len(acct.Roles) > 0 {
					fmt.Fprintf(w, "roles:   %s\n", strings.Join(acct.Roles, ", "))
				}
			})
		},
	}
}

func newEventsCmd(o *options) *cobra.Command {
	var (
		limit     int
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List journaled vault events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			evs, err := o.client().Events(ctx, limit, eventType)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), evs, func(w io.Writer) {
				for _, ev := range evs {
					writeEvent(w, ev)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "最多返回多少条")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "只看某类事件，如 Deposited、TradeExecuted")
	return cmd
}

// writeEvent 单行输出事件，字段按 key 排序。
func writeEvent(w io.Writer, ev apitypes.Event) {
	keys := make([]string, 0, len(ev.Data))
	for k := range ev.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+ev.Data[k])
	}
	seq := ""
	if ev.Seq > 0 {
		seq = fmt.Sprintf("#%d ", ev.Seq)
	}
	fmt.Fprintf(w, "%s%s %-22s %s\n", seq, ev.Timestamp.Format("06-01-02 15:04:05"), ev.Type, strings.Join(parts, " "))
}

func enabledText(b bool) string {
	if b {
		return "enabled"
	}
	return "disabled"
}
