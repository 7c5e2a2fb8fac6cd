// vaultd 运行组合金库：HTTP 接口、事件日志、状态快照与 metrics。
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/betbot/ogvault/internal/metrics"
	"github.com/betbot/ogvault/pkg/config"
	"github.com/betbot/ogvault/pkg/logger"
	"github.com/betbot/ogvault/pkg/shutdown"
)

func main() {
	configPath := flag.String("config", "configs/vaultd.yaml", "配置文件路径")
	envFile := flag.String("env", ".env", "环境变量文件（不存在则忽略）")
	flag.Parse()

	// .env 尽力加载，不存在时使用真实环境变量
	_ = godotenv.Load(*envFile)
	// 配置加载前先输出到控制台
	_ = logger.Init(logger.Config{Level: "info"})

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("配置验证失败: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Errorf("初始化日志失败: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, time.Now)
	if err != nil {
		logger.Errorf("启动失败: %v", err)
		os.Exit(1)
	}

	sm := shutdown.NewManager()
	// 回调逆序执行：http → bus → 最终快照 → journal/store
	sm.OnShutdown("storage", func(ctx context.Context) error {
		a.close()
		return nil
	})
	sm.OnShutdown("snapshot", func(ctx context.Context) error {
		a.stopSnapshotter()
		return a.saveSnapshot()
	})
	sm.OnShutdown("event_bus", a.bus.Stop)

	a.start(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           a.api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	sm.OnShutdown("http", func(ctx context.Context) error {
		a.api.Close()
		return httpSrv.Shutdown(ctx)
	})

	go func() {
		logger.Infof("🚀 vaultd 监听 %s (vault=%s oracle=%s)", cfg.Server.Listen, cfg.Vault.Address, cfg.Oracle.Source)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server error: %v", err)
			cancel()
		}
	}()

	if cfg.Server.MetricsListen != "" {
		if _, err := metrics.StartAsync(ctx, cfg.Server.MetricsListen, func(err error) {
			logger.Warnf("metrics server error: %v", err)
		}); err != nil {
			logger.Warnf("启动 metrics 服务失败: %v", err)
		} else {
			logger.Infof("📈 metrics 监听 %s", cfg.Server.MetricsListen)
		}
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	select {
	case sig := <-stopCh:
		logger.Infof("收到信号 %s，开始关闭", sig)
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	sm.Shutdown(shutdownCtx)
	cancel()
	logger.Info("vaultd stopped")
}
