// vaultctl vaultd 的命令行客户端：查询持仓、存取份额、发送信号、管理角色与交易对。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/client"
	"github.com/betbot/ogvault/pkg/units"
)

// options 全局参数，子命令共享。
type options struct {
	server   string
	caller   string
	decimals int32
	jsonOut  bool
	timeout  time.Duration

	// newClient 测试中可替换
	newClient func(server, caller string) *client.Client
}

func (o *options) client() *client.Client {
	return o.newClient(o.server, o.caller)
}

func (o *options) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.timeout)
}

// amount 解析命令行数量：decimals>0 时按人类可读数量换算成最小单位。
func (o *options) amount(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	v, err := units.ParseUnits(raw, o.decimals)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// format 把接口返回的最小单位金额按 decimals 展示。
func (o *options) format(raw string) string {
	if o.decimals == 0 || raw == "" {
		return raw
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return raw
	}
	return units.FormatUnits(v, o.decimals)
}

// print --json 时输出原始结构，否则调用 text 输出可读文本。
func (o *options) print(w io.Writer, v any, text func(w io.Writer)) error {
	if o.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

func newRootCmd(o *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "vaultctl",
		Short:         "Command line client for vaultd",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.server == "" {
				return fmt.Errorf("--server 不能为空")
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&o.server, "server", "s", getEnv("OGV_SERVER", "http://127.0.0.1:8080"), "vaultd 地址 (env OGV_SERVER)")
	root.PersistentFlags().StringVarP(&o.caller, "caller", "c", os.Getenv("OGV_CALLER"), "调用方地址 (env OGV_CALLER)")
	root.PersistentFlags().Int32Var(&o.decimals, "decimals", 0, "按该精度解析与展示数量，0 表示最小单位")
	root.PersistentFlags().BoolVar(&o.jsonOut, "json", false, "输出 JSON")
	root.PersistentFlags().DurationVar(&o.timeout, "timeout", 30*time.Second, "单次请求超时")

	root.AddCommand(
		newInfoCmd(o),
		newPortfolioCmd(o),
		newAccountCmd(o),
		newDepositCmd(o),
		newWithdrawCmd(o),
		newRedeemCmd(o),
		newBuyCmd(o),
		newSellCmd(o),
		newPairCmd(o),
		newStrategyCmd(o),
		newRoleCmd(o),
		newEventsCmd(o),
		newListenCmd(o),
		newWatchCmd(o),
		newDevCmd(o),
	)
	return root
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load()

	o := &options{newClient: client.New}
	if err := newRootCmd(o).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}
