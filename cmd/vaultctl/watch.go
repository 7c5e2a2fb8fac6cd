package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/betbot/ogvault/pkg/apitypes"
	"github.com/betbot/ogvault/pkg/client"
)

var (
	// 样式定义
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	okStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("2")) // 绿色

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")) // 红色

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(0, 1)
)

// watchModel 定时拉取金库状态并渲染。
type watchModel struct {
	c        *client.Client
	o        *options
	interval time.Duration

	info      *apitypes.VaultInfo
	portfolio *apitypes.Portfolio
	pairs     []apitypes.Pair
	events    []apitypes.Event

	updatedAt time.Time
	err       error
}

// tickMsg 定时器消息
type tickMsg time.Time

// snapshotMsg 一次完整拉取的结果
type snapshotMsg struct {
	info      *apitypes.VaultInfo
	portfolio *apitypes.Portfolio
	pairs     []apitypes.Pair
	events    []apitypes.Event
	at        time.Time
	err       error
}

func (m watchModel) Init() tea.Cmd {
	return fetchCmd(m.c, m.o.timeout)
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "r":
			return m, fetchCmd(m.c, m.o.timeout)
		}

	case tickMsg:
		return m, fetchCmd(m.c, m.o.timeout)

	case snapshotMsg:
		// 拉取失败时保留上一次的数据
		m.err = msg.err
		if msg.err == nil {
			m.info = msg.info
			m.portfolio = msg.portfolio
			m.pairs = msg.pairs
			m.events = msg.events
			m.updatedAt = msg.at
		}
		return m, tickCmd(m.interval)
	}
	return m, nil
}

func (m watchModel) View() string {
	if m.info == nil {
		if m.err != nil {
			return fmt.Sprintf("错误: %v\n\n按 r 重试，q 退出", m.err)
		}
		return "正在连接...\n\n按 q 退出"
	}

	var s strings.Builder

	status := okStyle.Render("strategy " + enabledText(m.info.Strategy.Enabled))
	if m.info.SignalsHalted {
		status = warnStyle.Render("signals halted")
	}
	header := fmt.Sprintf("vault %s | supply %s | assets %s | %s",
		short(m.info.Address), m.o.format(m.info.TotalSupply), m.o.format(m.info.TotalAssets), m.info.TimeoutMode)
	s.WriteString(headerStyle.Render(header))
	s.WriteString("  ")
	s.WriteString(status)
	s.WriteString("\n\n")

	holdings := renderHoldings(m.o, m.portfolio)
	pairs := renderPairs(m.pairs)
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, holdings, "  ", pairs))
	s.WriteString("\n\n")

	s.WriteString(titleStyle.Render("最近事件"))
	s.WriteString("\n")
	if len(m.events) == 0 {
		s.WriteString(dimStyle.Render("  (无)"))
		s.WriteString("\n")
	}
	for _, ev := range m.events {
		line := fmt.Sprintf("  %s %-20s %s", ev.Timestamp.Format("15:04:05"), ev.Type, eventSummary(ev))
		s.WriteString(line)
		s.WriteString("\n")
	}

	s.WriteString("\n")
	footer := fmt.Sprintf("更新于 %s", m.updatedAt.Format("15:04:05"))
	if m.err != nil {
		footer += " | " + warnStyle.Render("刷新失败: "+m.err.Error())
	}
	s.WriteString(dimStyle.Render(footer + " | r 刷新 q 退出"))
	return s.String()
}

func renderHoldings(o *options, p *apitypes.Portfolio) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("持仓"))
	b.WriteString("\n")
	if p == nil {
		return boxStyle.Render(b.String())
	}
	fmt.Fprintf(&b, "%-14s %s\n", short(p.BaseAsset)+"*", o.format(p.BaseAmount))
	for _, t := range p.Tokens {
		fmt.Fprintf(&b, "%-14s %s\n", short(t.Token), t.Amount)
	}
	return boxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

func renderPairs(pairs []apitypes.Pair) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("交易对"))
	b.WriteString("\n")
	for _, p := range pairs {
		state := okStyle.Render("on ")
		if !p.IsActive {
			state = dimStyle.Render("off")
		}
		fmt.Fprintf(&b, "%s %-14s cap %5d bps  headroom %s\n", state, short(p.Token), p.MaxAllocationBps, orDash(p.Headroom))
	}
	return boxStyle.Render(strings.TrimSuffix(b.String(), "\n"))
}

func eventSummary(ev apitypes.Event) string {
	for _, k := range []string{"amount_in", "assets", "shares", "account", "token"} {
		if v, ok := ev.Data[k]; ok {
			return k + "=" + v
		}
	}
	return ""
}

// short 缩写地址：0x1234…abcd
func short(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}

func tickCmd(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchCmd(c *client.Client, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		msg := snapshotMsg{at: time.Now()}
		if msg.info, msg.err = c.VaultInfo(ctx); msg.err != nil {
			return msg
		}
		if msg.portfolio, msg.err = c.Portfolio(ctx); msg.err != nil {
			return msg
		}
		if msg.pairs, msg.err = c.Pairs(ctx); msg.err != nil {
			return msg
		}
		msg.events, msg.err = c.Events(ctx, 8, "")
		return msg
	}
}

func newWatchCmd(o *options) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live terminal dashboard of holdings, pairs and recent events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := watchModel{c: o.client(), o: o, interval: interval}
			_, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
			return err
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", 2*time.Second, "刷新间隔")
	return cmd
}
