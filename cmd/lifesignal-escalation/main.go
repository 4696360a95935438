package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lifesignal-escalation/internal/config"
	httpapi "lifesignal-escalation/internal/http"
	"lifesignal-escalation/internal/logger"
	"lifesignal-escalation/internal/service"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format, "lifesignal-escalation")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建服务
	escalationService, err := service.NewEscalationService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create escalation service",
			zap.Error(err),
		)
	}
	defer escalationService.Stop()

	// 4. 注册 HTTP 路由
	router := httpapi.NewRouter(log)
	router.RegisterEscalationRoutes(
		httpapi.NewEscalationHandler(escalationService, escalationService.ContactSync(), log),
		httpapi.NewWebhookHandler(escalationService, log),
	)
	server := service.NewServer(cfg.HTTP.Addr, router, log)

	// 5. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 6. 启动扫描循环和 HTTP 服务（各自 goroutine）
	errChan := make(chan error, 2)
	go func() {
		if err := escalationService.Start(ctx); err != nil {
			errChan <- err
		}
	}()
	go func() {
		if err := server.Start(); err != nil {
			errChan <- err
		}
	}()

	// 7. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			log.Error("Failed to stop HTTP server",
				zap.Error(err),
			)
		}
	case err := <-errChan:
		log.Fatal("Service error",
			zap.Error(err),
		)
	}

	log.Info("Escalation service stopped")
}
