package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"digishop/internal/bot"
	"digishop/internal/config"
	"digishop/internal/handler"
	"digishop/internal/identity"
	"digishop/internal/infrastructure/cache"
	"digishop/internal/infrastructure/database"
	"digishop/internal/infrastructure/lock"
	"digishop/internal/infrastructure/mq"
	"digishop/internal/job"
	"digishop/internal/notify"
	"digishop/internal/repository"
	"digishop/internal/service"
	"digishop/internal/storage"
	"digishop/internal/vault"
	"digishop/pkg/idgen"

	tgbot "github.com/go-telegram/bot"
)

func main() {
	// 加载配置
	cfg := config.LoadConfig("config/config.yaml")

	// 初始化 ID 生成器
	idgen.Init(1)

	// 初始化 MySQL / Redis / Kafka
	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)
	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	// 凭据保险库：启动时派生一次密钥
	v, err := vault.New(cfg.Vault.Secret)
	if err != nil {
		log.Fatalf("初始化凭据保险库失败: %v", err)
	}

	// 凭证文件存储
	blobs, err := storage.NewLocalBlobStore(cfg.Upload.Dir)
	if err != nil {
		log.Fatalf("初始化凭证存储失败: %v", err)
	}

	locker := lock.NewRedisLocker(redisClient, 30*time.Second)

	// Telegram 可选：未配置时用空通知器，审核走管理后台
	var notifier notify.Notifier = notify.NopNotifier{}
	var tb *tgbot.Bot
	if cfg.Telegram.Token != "" {
		tb, err = tgbot.New(cfg.Telegram.Token)
		if err != nil {
			log.Fatalf("初始化 Telegram 机器人失败: %v", err)
		}
		notifier = notify.NewTelegramNotifier(tb, cfg.Telegram.AdminChatID)
	}

	// 服务层
	productService := service.NewProductService(db)
	orderService := service.NewOrderService(db)
	proofService := service.NewProofService(db, blobs, notifier, cfg.Upload.MaxSizeKB)
	stockService := service.NewStockService(db, v)
	approvalService := service.NewApprovalService(db, cfg, locker, notifier)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	if mq.KafkaProducer != nil {
		outboxSender := job.NewOutboxSender(db)
		go outboxSender.Start(ctx)
	}

	// Telegram 审核适配器：按钮回调 -> 同一个审核入口（actor=bot）
	if tb != nil {
		approver := bot.NewApprover(tb, &cfg.Telegram, approvalService)
		go approver.Start(ctx)
	}

	// 设置路由
	provider := identity.NewStaticProvider(&cfg.Auth)
	h := handler.NewHandler(productService, orderService, proofService, stockService, approvalService,
		repository.NewAuditRepository(db))
	router := handler.SetupRouter(h, provider)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("服务启动，监听端口: %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("正在关闭服务...")

	// 取消上下文，停止后台任务和机器人
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	log.Println("服务已关闭")
}
