package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pixbridge/internal/app"
	"pixbridge/pkg/config"
	"pixbridge/pkg/logger"
)

var (
	configPath = flag.String("config", "./config/config.yaml", "配置文件路径")
)

func main() {
	flag.Parse()

	log.Println("========================================")
	log.Println("  PIXBRIDGE Starting...")
	log.Println("========================================")

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Config validation failed: %v", err)
	}

	log.Printf("Config loaded: %s, env: %s, log_level: %s\n", cfg.App.Name, cfg.App.Env, cfg.App.LogLevel)

	// 2. 初始化 Logger
	zapLogger, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// 3. 组装应用
	application, err := app.New(cfg, zapLogger)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	// 4. 启动（goroutine）
	errCh := make(chan error, 1)
	go func() {
		errCh <- application.Start()
	}()

	log.Println("Pixbridge started. Press Ctrl+C to shutdown.")

	// 5. 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received signal: %v, shutting down...\n", sig)
	case err := <-errCh:
		if err != nil {
			log.Printf("App start failed: %v, shutting down...\n", err)
		}
	}

	// 6. 优雅关闭
	application.Shutdown()

	log.Println("========================================")
	log.Println("  Pixbridge exited gracefully")
	log.Println("========================================")
}
