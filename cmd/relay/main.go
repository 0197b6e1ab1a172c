package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"skillrelay/internal/config"
	"skillrelay/internal/logger"
	"skillrelay/internal/recorder"
	"skillrelay/internal/relay"
)

// 中继入口：加载配置，启动 hub 与 HTTP 服务，收到 SIGINT/SIGTERM 后优雅退出
func main() {
	var (
		cfgPath  string
		addr     string
		logFile  string
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "", "optional YAML config file")
	flag.StringVar(&addr, "addr", "", "listen address, e.g. :8081 (overrides config and PORT)")
	flag.StringVar(&logFile, "log", "", "log file (rotated); empty logs to stderr")
	flag.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	flag.Parse()

	dotenv, dotenvErr := config.LoadDotEnv()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(err)
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	if err := logger.Init(cfg.LogFile, cfg.LogLevel); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Named("main")
	switch {
	case dotenvErr != nil:
		log.Warnf("error loading .env file: %v", dotenvErr)
	case dotenv:
		log.Info("loaded environment variables from .env file")
	}

	var rec recorder.Recorder = recorder.Nop{}
	if cfg.RecordDir != "" {
		if err := os.MkdirAll(cfg.RecordDir, 0o755); err != nil {
			log.Fatalf("record dir: %v", err)
		}
		rec = recorder.NewJSONLZstd(cfg.RecordDir, "relay")
		log.Infof("recording lifecycle events to %s", cfg.RecordDir)
	}
	defer rec.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := relay.NewHub(rec)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(hubDone)
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           relay.NewServer(hub, cfg).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infof("relay listening on %s; clients connect to ws://localhost%s/ws", cfg.Addr, cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）：先停止 HTTP，再等待 hub 关闭全部连接
	<-ctx.Done()
	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}
	<-hubDone
}
