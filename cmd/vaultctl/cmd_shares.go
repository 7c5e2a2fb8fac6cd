package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
)

func newDepositCmd(o *options) *cobra.Command {
	var receiver string
	cmd := &cobra.Command{
		Use:   "deposit <amount>",
		Short: "Deposit base asset and mint shares",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := o.amount(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			resp, err := o.client().Deposit(ctx, apitypes.DepositRequest{Amount: amount, Receiver: orCaller(receiver, o)})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), resp, func(w io.Writer) {
				fmt.Fprintf(w, "✅ minted %s shares\n", o.format(resp.Shares))
			})
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "份额接收地址（默认 --caller）")
	return cmd
}

func newWithdrawCmd(o *options) *cobra.Command {
	var (
		receiver string
		owner    string
		bps      uint32
	)
	cmd := &cobra.Command{
		Use:   "withdraw [assets]",
		Short: "Withdraw base-asset value, or a percentage of shares with --bps",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			c := o.client()

			var (
				resp *apitypes.WithdrawResponse
				err  error
			)
			switch {
			case bps > 0 && len(args) == 0:
				resp, err = c.PercentageWithdraw(ctx, apitypes.PercentageWithdrawRequest{Bps: bps, Receiver: orCaller(receiver, o)})
			case bps == 0 && len(args) == 1:
				var assets string
				assets, err = o.amount(args[0])
				if err != nil {
					return err
				}
				resp, err = c.Withdraw(ctx, apitypes.WithdrawRequest{
					Assets:   assets,
					Receiver: orCaller(receiver, o),
					Owner:    orCaller(owner, o),
				})
			default:
				return fmt.Errorf("需要 <assets> 或 --bps 之一")
			}
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), resp, func(w io.Writer) { writeWithdraw(w, o, resp) })
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "资产接收地址（默认 --caller）")
	cmd.Flags().StringVar(&owner, "owner", "", "份额持有人（默认 --caller）")
	cmd.Flags().Uint32Var(&bps, "bps", 0, "按份额比例提取，10000 = 全部")
	return cmd
}

func newRedeemCmd(o *options) *cobra.Command {
	var (
		receiver string
		owner    string
	)
	cmd := &cobra.Command{
		Use:   "redeem <shares>",
		Short: "Burn shares for a proportional slice of every holding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			shares, err := o.amount(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			resp, err := o.client().Redeem(ctx, apitypes.RedeemRequest{
				Shares:   shares,
				Receiver: orCaller(receiver, o),
				Owner:    orCaller(owner, o),
			})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), resp, func(w io.Writer) { writeWithdraw(w, o, resp) })
		},
	}
	cmd.Flags().StringVar(&receiver, "receiver", "", "资产接收地址（默认 --caller）")
	cmd.Flags().StringVar(&owner, "owner", "", "份额持有人（默认 --caller）")
	return cmd
}

func writeWithdraw(w io.Writer, o *options, resp *apitypes.WithdrawResponse) {
	fmt.Fprintf(w, "✅ burned %s shares\n", o.format(resp.SharesBurned))
	for _, a := range resp.Assets {
		fmt.Fprintf(w, "   %s  %s\n", a.Token, o.format(a.Amount))
	}
}

func orCaller(addr string, o *options) string {
	if addr != "" {
		return addr
	}
	return o.caller
}
