package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
	"github.com/betbot/ogvault/pkg/client"
)

func newBuyCmd(o *options) *cobra.Command {
	var (
		minOut   string
		override uint32
	)
	cmd := &cobra.Command{
		Use:   "buy <token> <amount-in>",
		Short: "Send a buy signal: swap base asset into token (oracle role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amountIn, err := o.amount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			r, err := o.client().Buy(ctx, apitypes.BuySignalRequest{
				Token:                    args[0],
				AmountIn:                 amountIn,
				MinAmountOut:             minOut,
				MaxAllocationBpsOverride: override,
			})
			return o.printReceipt(cmd.OutOrStdout(), r, err)
		},
	}
	cmd.Flags().StringVar(&minOut, "min-out", "", "最少得到的代币数量（最小单位）")
	cmd.Flags().Uint32Var(&override, "max-allocation-bps", 0, "本次信号的仓位上限，只能收紧交易对上限")
	return cmd
}

func newSellCmd(o *options) *cobra.Command {
	var minOut string
	cmd := &cobra.Command{
		Use:   "sell <token> [amount]",
		Short: "Send a sell signal; omit amount to exit the whole position (oracle role)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			// 卖出数量是代币的最小单位，不按 --decimals 换算
			amount := ""
			if len(args) == 2 {
				amount = args[1]
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			r, err := o.client().Sell(ctx, apitypes.SellSignalRequest{
				Token:        args[0],
				Amount:       amount,
				MinAmountOut: minOut,
			})
			return o.printReceipt(cmd.OutOrStdout(), r, err)
		},
	}
	cmd.Flags().StringVar(&minOut, "min-out", "", "最少得到的基础资产数量（最小单位）")
	return cmd
}

// printReceipt 信号被拒绝时先打印回执再返回错误。
func (o *options) printReceipt(w io.Writer, r *apitypes.Receipt, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Receipt != nil {
		r = apiErr.Receipt
	}
	if r != nil {
		if perr := o.print(w, r, func(w io.Writer) { writeReceipt(w, r) }); perr != nil {
			return perr
		}
	}
	return err
}

func writeReceipt(w io.Writer, r *apitypes.Receipt) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "receipt\t%s\n", r.ID)
	fmt.Fprintf(tw, "signal\t%s %s\n", r.Type, r.Token)
	fmt.Fprintf(tw, "phase\t%s\n", r.Phase)
	if r.AmountIn != "" {
		fmt.Fprintf(tw, "amount in\t%s\n", r.AmountIn)
	}
	if r.AmountOut != "" {
		fmt.Fprintf(tw, "amount out\t%s\n", r.AmountOut)
	}
	if r.Code != "" {
		fmt.Fprintf(tw, "rejected\t%s: %s\n", r.Code, r.Error)
	}
	_ = tw.Flush()
}

func newStrategyCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategy",
		Short: "Manage strategy settings (strategy-manager role)",
	}

	var (
		enabled bool
		timeout uint64
	)
	update := &cobra.Command{
		Use:   "update",
		Short: "Enable or disable signals and set the signal timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			s, err := o.client().UpdateStrategy(ctx, apitypes.StrategyRequest{Enabled: enabled, SignalTimeoutSeconds: timeout})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), s, func(w io.Writer) {
				fmt.Fprintf(w, "✅ strategy %s, signal timeout %ds\n", enabledText(s.Enabled), s.SignalTimeoutSeconds)
			})
		},
	}
	update.Flags().BoolVar(&enabled, "enabled", true, "是否接受信号")
	update.Flags().Uint64Var(&timeout, "timeout", 900, "信号超时（秒）")

	resume := &cobra.Command{
		Use:   "resume",
		Short: "Close the swap-failure circuit breaker and accept signals again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().ResumeSignals(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ signals resumed")
			return nil
		},
	}

	cmd.AddCommand(update, resume)
	return cmd
}
