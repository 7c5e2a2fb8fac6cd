package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/betbot/ogvault/internal/api"
	"github.com/betbot/ogvault/internal/chain"
	"github.com/betbot/ogvault/internal/events"
	"github.com/betbot/ogvault/internal/journal"
	"github.com/betbot/ogvault/internal/metrics"
	"github.com/betbot/ogvault/internal/sim"
	"github.com/betbot/ogvault/internal/vault"
	"github.com/betbot/ogvault/pkg/config"
	"github.com/betbot/ogvault/pkg/logger"
	"github.com/betbot/ogvault/pkg/ratelimit"
	"github.com/betbot/ogvault/pkg/sigchan"
	"github.com/betbot/ogvault/pkg/statestore"
	"github.com/betbot/ogvault/pkg/units"
)

const snapshotKey = "snapshot"

// snapshot 金库状态与模拟账本一起保存。
type snapshot struct {
	SavedAt time.Time       `json:"saved_at"`
	Vault   vault.State     `json:"vault"`
	Ledger  sim.LedgerState `json:"ledger"`
}

type app struct {
	cfg   *config.Config
	clock func() time.Time

	ledger      *sim.Ledger
	simOracle   *sim.Oracle
	chainOracle *chain.Oracle
	router      *sim.Router
	vault       *vault.Vault

	bus     *events.Bus
	journal *journal.Journal
	store   statestore.Store
	api     *api.Server

	// dirty 有事件提交后通知快照协程，连续的事件合并成一次保存
	dirty     *sigchan.Chan
	stopSaver context.CancelFunc
	saverDone chan struct{}
}

func newApp(ctx context.Context, cfg *config.Config, clock func() time.Time) (*app, error) {
	if clock == nil {
		clock = time.Now
	}
	a := &app{cfg: cfg, clock: clock}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	var err error
	a.ledger = sim.NewLedger()
	a.simOracle = sim.NewOracle(clock)
	var oracle vault.PriceOracle = a.simOracle
	switch cfg.Oracle.Source {
	case "chain":
		a.chainOracle, err = chain.Dial(ctx, cfg.Oracle.RPCURL, common.HexToAddress(cfg.Oracle.Contract),
			time.Duration(cfg.Oracle.Timeout)*time.Second)
		if err != nil {
			return nil, err
		}
		a.chainOracle.WithCache(time.Duration(cfg.Oracle.CacheTTLMillis)*time.Millisecond, clock)
		oracle = a.chainOracle
	default:
		for _, t := range cfg.Tokens {
			price, err := units.PriceFromDecimal(t.Price, t.Decimals, cfg.Vault.BaseDecimals)
			if err != nil {
				return nil, fmt.Errorf("代币 %s 价格: %w", t.Symbol, err)
			}
			a.simOracle.SetPrice(common.HexToAddress(t.Address), price)
		}
	}

	a.router = sim.NewRouter(sim.RouterConfig{
		Address:   common.HexToAddress(cfg.Router.Address),
		BaseAsset: common.HexToAddress(cfg.Vault.BaseAsset),
		FeeBps:    cfg.Router.FeeBps,
		Clock:     clock,
	}, a.ledger, oracle)

	a.bus = events.NewBus(1024)
	a.vault, err = vault.New(cfg.VaultConfig(clock), vault.Deps{
		Tokens: a.ledger,
		Router: a.router,
		Oracle: oracle,
		Events: a.bus,
	})
	if err != nil {
		return nil, err
	}

	a.store, err = statestore.Open(statestore.Options{
		Backend:       cfg.Storage.Backend,
		Path:          cfg.Storage.Path,
		EncryptionKey: cfg.Storage.EncryptionKey,
	})
	if err != nil {
		return nil, fmt.Errorf("打开状态存储失败: %w", err)
	}
	a.journal, err = journal.Open(cfg.Storage.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("打开事件日志失败: %w", err)
	}

	// 初始化产生的事件留在总线队列里，Start 后同样写入日志
	if err := a.restoreOrBootstrap(ctx); err != nil {
		return nil, err
	}
	a.bus.Handle("journal", func(ctx context.Context, ev vault.Event) {
		if err := a.journal.Append(ctx, ev); err != nil {
			logger.Errorf("写入事件日志失败: id=%s err=%v", ev.ID, err)
		}
	})
	a.dirty = sigchan.New(1)
	a.bus.Handle("snapshot", func(ctx context.Context, ev vault.Event) {
		a.dirty.Emit()
	})

	apiCfg := api.Config{Vault: a.vault, History: a.journal, Feed: a.bus}
	if n := cfg.Server.SignalRateLimit; n > 0 {
		apiCfg.SignalLimiter = ratelimit.NewKeyed(n, time.Minute, clock)
	}
	if cfg.Server.DevEndpoints && cfg.Oracle.Source == "static" {
		apiCfg.Dev = &api.DevHost{Ledger: a.ledger, Oracle: a.simOracle}
	}
	a.api, err = api.New(apiCfg)
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *app) restoreOrBootstrap(ctx context.Context) error {
	var snap snapshot
	err := a.store.Load(snapshotKey, &snap)
	switch {
	case err == nil:
		if err := a.ledger.Restore(snap.Ledger); err != nil {
			return fmt.Errorf("恢复账本失败: %w", err)
		}
		if err := a.vault.Restore(snap.Vault); err != nil {
			return fmt.Errorf("恢复金库状态失败: %w", err)
		}
		metrics.SnapshotLoads.Inc()
		logger.Infof("📂 已从快照恢复 (saved_at=%s)", snap.SavedAt.Format(time.RFC3339))
		return nil
	case errors.Is(err, statestore.ErrNotExists):
		if err := a.bootstrap(ctx); err != nil {
			return err
		}
		return a.saveSnapshot()
	default:
		return fmt.Errorf("读取快照失败: %w", err)
	}
}

// bootstrap 首次启动：给 Router 注入流动性，由 admin 授予角色、登记交易对、写入策略设置。
func (a *app) bootstrap(ctx context.Context) error {
	cfg := a.cfg
	routerAddr := common.HexToAddress(cfg.Router.Address)
	base := common.HexToAddress(cfg.Vault.BaseAsset)
	admin := common.HexToAddress(cfg.Vault.Admin)

	if cfg.Router.BaseLiquidity != "" {
		amount, err := units.ParseUnits(cfg.Router.BaseLiquidity, cfg.Vault.BaseDecimals)
		if err != nil {
			return err
		}
		a.ledger.Mint(base, routerAddr, amount)
	}
	for _, t := range cfg.Tokens {
		if t.Liquidity == "" {
			continue
		}
		amount, err := units.ParseUnits(t.Liquidity, t.Decimals)
		if err != nil {
			return err
		}
		a.ledger.Mint(common.HexToAddress(t.Address), routerAddr, amount)
	}

	grants := []struct {
		role    vault.Role
		members []string
	}{
		{vault.RoleStrategyManager, cfg.Roles.StrategyManagers},
		{vault.RoleOracle, cfg.Roles.Oracles},
	}
	for _, g := range grants {
		for _, m := range g.members {
			if err := a.vault.GrantRole(ctx, admin, g.role, common.HexToAddress(m)); err != nil {
				return fmt.Errorf("授予 %s 给 %s 失败: %w", g.role, m, err)
			}
		}
	}

	for _, p := range cfg.Pairs {
		tok, _ := cfg.ResolveToken(p.Token)
		minExit, err := units.ParseUnits(orZero(p.MinExitAmount), tok.Decimals)
		if err != nil {
			return err
		}
		if _, err := a.vault.SetTradingPair(ctx, admin, common.HexToAddress(tok.Address), p.MaxAllocationBps, minExit); err != nil {
			return fmt.Errorf("登记交易对 %s 失败: %w", p.Token, err)
		}
	}

	if cfg.Vault.StrategyEnabled {
		if _, err := a.vault.UpdateStrategySettings(ctx, admin, true, cfg.Vault.SignalTimeoutSeconds); err != nil {
			return fmt.Errorf("打开策略失败（admin 需要策略管理员角色）: %w", err)
		}
	}
	logger.Infof("🆕 金库已初始化: pairs=%d managers=%d oracles=%d",
		len(cfg.Pairs), len(cfg.Roles.StrategyManagers), len(cfg.Roles.Oracles))
	return nil
}

// start 启动事件总线与快照协程。
func (a *app) start(ctx context.Context) {
	a.bus.Start(ctx)
	saverCtx, cancel := context.WithCancel(ctx)
	a.stopSaver = cancel
	a.saverDone = make(chan struct{})
	go a.runSnapshotter(saverCtx)
}

func (a *app) runSnapshotter(ctx context.Context) {
	defer close(a.saverDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.dirty.C():
			if err := a.saveSnapshot(); err != nil {
				logger.Errorf("保存快照失败: %v", err)
			}
		}
	}
}

// stopSnapshotter 停止快照协程并等待当前的保存完成。
func (a *app) stopSnapshotter() {
	if a.stopSaver == nil {
		return
	}
	a.stopSaver()
	<-a.saverDone
	a.stopSaver = nil
}

func (a *app) saveSnapshot() error {
	var ledger sim.LedgerState
	st := a.vault.ExportWith(func() { ledger = a.ledger.Export() })
	if err := a.store.Save(snapshotKey, snapshot{SavedAt: a.clock(), Vault: st, Ledger: ledger}); err != nil {
		return err
	}
	metrics.SnapshotSaves.Inc()
	return nil
}

// close 释放存储类资源，可重复调用。
func (a *app) close() {
	if a.api != nil {
		a.api.Close()
	}
	if a.journal != nil {
		_ = a.journal.Close()
		a.journal = nil
	}
	if a.store != nil {
		_ = a.store.Close()
		a.store = nil
	}
	if a.chainOracle != nil {
		a.chainOracle.Close()
		a.chainOracle = nil
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
