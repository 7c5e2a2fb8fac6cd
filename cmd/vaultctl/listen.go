package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
)

// wsURL 把 http(s) 地址换成 ws(s)://host/ws/events。
func wsURL(server string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("不支持的地址协议: %s", u.Scheme)
	}
	u.Path += "/ws/events"
	return u.String(), nil
}

func newListenCmd(o *options) *cobra.Command {
	var (
		count     int
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stream vault events over websocket until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := wsURL(o.server)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
			conn, _, err := dialer.DialContext(ctx, target, nil)
			if err != nil {
				return fmt.Errorf("连接 %s 失败: %w", target, err)
			}
			defer conn.Close()

			// ctx 结束时关闭连接让 ReadMessage 返回
			go func() {
				<-ctx.Done()
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
				_ = conn.Close()
			}()

			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "📡 listening on %s\n", target)
			seen := 0
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
						return nil
					}
					return err
				}
				var ev apitypes.Event
				if err := json.Unmarshal(data, &ev); err != nil {
					continue
				}
				if eventType != "" && ev.Type != eventType {
					continue
				}
				if o.jsonOut {
					fmt.Fprintln(out, string(data))
				} else {
					writeEvent(out, ev)
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 0, "收到 n 条后退出，0 表示一直监听")
	cmd.Flags().StringVarP(&eventType, "type", "t", "", "只输出某类事件")
	return cmd
}
