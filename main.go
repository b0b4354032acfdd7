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

	"go.uber.org/multierr"

	"farmworld/server"
	"farmworld/sim"
)

// farmworld 入口：启动权威模拟 Tick 循环与 HTTP + WebSocket 服务
func main() {
	cfg := sim.DefaultConfig()
	var (
		addr     string
		logCfg   server.LogConfig
		interval time.Duration
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:9001", "server listen address")
	flag.StringVar(&logCfg.File, "log", "farmworld.log", "log file path (empty: stderr only)")
	flag.StringVar(&logCfg.Level, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&logCfg.Console, "log-console", false, "also log to stderr")
	flag.IntVar(&cfg.TickRate, "tps", cfg.TickRate, "simulation ticks per second")
	flag.Float64Var(&cfg.Speed, "speed", cfg.Speed, "velocity to world units per second")
	flag.DurationVar(&interval, "broadcast-interval", cfg.BroadcastInterval, "minimum simulated time between snapshots")
	flag.IntVar(&cfg.InboundCapacity, "inbound-capacity", cfg.InboundCapacity, "command queue capacity")
	flag.IntVar(&cfg.OutboundCapacity, "outbound-capacity", cfg.OutboundCapacity, "event queue capacity")
	flag.Parse()
	cfg.BroadcastInterval = interval

	// 使用第三方 zap 日志库写入日志文件（带滚动）
	if err := server.InitLogger(logCfg); err != nil {
		panic(err)
	}
	defer func() { _ = server.SyncLogger() }()

	commands := sim.NewCommandQueue(cfg.InboundCapacity)
	events := sim.NewEventQueue(cfg.OutboundCapacity)
	engine := sim.NewEngine(cfg, commands, events, server.Log.Named("sim"))
	gateway := server.NewGateway(commands, events, server.Log.Named("gateway"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engineDone := make(chan error, 1)
	go func() { engineDone <- engine.Run(ctx) }()
	go func() { _ = gateway.Run(ctx) }()

	srv := &http.Server{Addr: addr, Handler: server.NewMux(engine, gateway)}
	go func() {
		server.Log.Infof("farmworld listening on %s; websocket endpoint ws://%s/ws", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			server.Log.Errorf("listen: %v", err)
			stop()
		}
	}()

	// 优雅退出（Ctrl+C）
	<-ctx.Done()
	server.Log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	// 先关闭入站队列，连接退出时的离开命令不再等待投递
	commands.Close()
	err = multierr.Append(err, gateway.Close())
	if runErr := <-engineDone; runErr != nil && !errors.Is(runErr, context.Canceled) {
		err = multierr.Append(err, runErr)
	}
	if err != nil {
		server.Log.Errorw("shutdown finished with errors", "err", err)
		_ = server.SyncLogger()
		os.Exit(1)
	}
	server.Log.Info("bye")
}
