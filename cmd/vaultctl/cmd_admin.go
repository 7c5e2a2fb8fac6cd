package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
)

func newPairCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pair",
		Short: "List and manage trading pairs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List trading pairs with holdings and allocation headroom",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			pairs, err := o.client().Pairs(ctx)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), pairs, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TOKEN\tCAP(bps)\tMIN EXIT\tACTIVE\tHOLDING\tHEADROOM")
				for _, p := range pairs {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%v\t%s\t%s\n",
						p.Token, p.MaxAllocationBps, p.MinExitAmount, p.IsActive, p.Holding, orDash(p.Headroom))
				}
				_ = tw.Flush()
			})
		},
	}

	var minExit string
	set := &cobra.Command{
		Use:   "set <token> <max-allocation-bps>",
		Short: "Register or update a trading pair (strategy-manager role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bps uint32
			if _, err := fmt.Sscanf(args[1], "%d", &bps); err != nil {
				return fmt.Errorf("max-allocation-bps 无效: %s", args[1])
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			p, err := o.client().SetPair(ctx, apitypes.SetPairRequest{Token: args[0], MaxAllocationBps: bps, MinExitAmount: minExit})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), p, func(w io.Writer) {
				fmt.Fprintf(w, "✅ pair %s cap=%dbps min_exit=%s\n", p.Token, p.MaxAllocationBps, p.MinExitAmount)
			})
		},
	}
	set.Flags().StringVar(&minExit, "min-exit", "0", "部分卖出后剩余持仓的最小值（最小单位）")

	disable := &cobra.Command{
		Use:   "disable <token>",
		Short: "Stop accepting signals for a pair; holdings stay in the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().DisablePair(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ pair %s disabled\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, set, disable)
	return cmd
}

func newRoleCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Grant, revoke or renounce roles (admin, strategy_manager, oracle)",
	}
	grant := &cobra.Command{
		Use:   "grant <role> <account>",
		Short: "Grant a role (admin role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().GrantRole(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ granted %s to %s\n", args[0], args[1])
			return nil
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <role> <account>",
		Short: "Revoke a role (admin role)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().RevokeRole(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ revoked %s from %s\n", args[0], args[1])
			return nil
		},
	}
	renounce := &cobra.Command{
		Use:   "renounce <role>",
		Short: "Give up a role held by --caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().RenounceRole(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ renounced %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(grant, revoke, renounce)
	return cmd
}

func newDevCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Simulated ledger and oracle helpers (vaultd with dev_endpoints)",
	}

	mint := &cobra.Command{
		Use:   "mint <token> <to> <amount>",
		Short: "Mint simulated tokens",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := o.amount(args[2])
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			b, err := o.client().DevMint(ctx, apitypes.MintRequest{Token: args[0], To: args[1], Amount: amount})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), b, func(w io.Writer) { writeBalance(w, o, b) })
		},
	}

	var spender string
	approve := &cobra.Command{
		Use:   "approve <token> <amount>",
		Short: "Approve the vault (or --spender) to pull tokens from --caller",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := o.amount(args[1])
			if err != nil {
				return err
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			b, err := o.client().DevApprove(ctx, apitypes.ApproveRequest{Token: args[0], Owner: o.caller, Spender: spender, Amount: amount})
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), b, func(w io.Writer) { writeBalance(w, o, b) })
		},
	}
	approve.Flags().StringVar(&spender, "spender", "", "被授权地址（默认金库）")

	price := &cobra.Command{
		Use:   "price <token> <price-1e18>",
		Short: "Set the simulated oracle price (fixed point, 1e18 scale)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := o.context(cmd)
			defer cancel()
			if err := o.client().DevSetPrice(ctx, apitypes.PriceRequest{Token: args[0], Price: args[1]}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ price %s = %s\n", args[0], args[1])
			return nil
		},
	}

	balance := &cobra.Command{
		Use:   "balance <token> [account]",
		Short: "Show simulated balance and allowance to the vault",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := o.caller
			if len(args) == 2 {
				account = args[1]
			}
			ctx, cancel := o.context(cmd)
			defer cancel()
			b, err := o.client().DevBalance(ctx, args[0], account)
			if err != nil {
				return err
			}
			return o.print(cmd.OutOrStdout(), b, func(w io.Writer) { writeBalance(w, o, b) })
		},
	}

	cmd.AddCommand(mint, approve, price, balance)
	return cmd
}

func writeBalance(w io.Writer, o *options, b *apitypes.Balance) {
	fmt.Fprintf(w, "%s @ %s: balance=%s allowance=%s\n", b.Account, b.Token, o.format(b.Balance), o.format(b.Allowance))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
