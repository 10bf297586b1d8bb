package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"treasury/internal/config"
	"treasury/internal/handler"
	"treasury/internal/infrastructure/cache"
	"treasury/internal/infrastructure/database"
	"treasury/internal/infrastructure/metrics"
	"treasury/internal/infrastructure/mq"
	"treasury/internal/job"
	"treasury/internal/repository"
	"treasury/internal/service"
	"treasury/pkg/idgen"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	configPath := os.Getenv("TREASURY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	ids, err := idgen.New(cfg.Server.WorkerID)
	if err != nil {
		log.Fatalf("初始化 ID 生成器失败: %v", err)
	}

	db, err := database.InitMySQL(&cfg.MySQL)
	if err != nil {
		log.Fatalf("初始化 MySQL 失败: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := cache.InitRedis(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("初始化 Redis 失败: %v", err)
	}
	defer redisClient.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	svc := service.New(service.Deps{
		DB:      db,
		Redis:   redisClient,
		Config:  cfg,
		IDs:     ids,
		Metrics: m,
	})

	syncProducer, err := mq.NewSyncProducer(&cfg.Kafka)
	if err != nil {
		log.Fatalf("初始化 Kafka 失败: %v", err)
	}
	producer := mq.NewProducer(syncProducer)
	defer producer.Close()

	consumerGroup, err := mq.NewConsumerGroup(&cfg.Kafka)
	if err != nil {
		log.Fatalf("初始化 Kafka 消费组失败: %v", err)
	}
	defer consumerGroup.Close()

	// 启动后台任务；同名任务在多个实例间通过 Redis 锁互斥
	lockTTL := func(interval time.Duration) job.Option {
		ttl := interval
		if ttl < time.Minute {
			ttl = time.Minute
		}
		return job.WithDistributedLock(redisClient, ttl)
	}

	var stakeReleaser job.StakeReleaser
	if cfg.Treasury.AutoReleaseStakes {
		stakeReleaser = svc.Stakes
	}

	outboxSender := job.NewOutboxSender(repository.NewOutboxRepository(db), producer, m, cfg.Jobs.BatchSize, cfg.Jobs.MaxRetryCount)
	runners := []*job.Runner{
		job.NewEarningsJob(svc.Earnings, &cfg.Jobs, job.WithRunOnStart(), job.WithMetrics(m), lockTTL(cfg.Jobs.EarningsInterval)),
		job.NewLockReleaseJob(svc.Payments, stakeReleaser, &cfg.Jobs, job.WithRunOnStart(), job.WithMetrics(m), lockTTL(cfg.Jobs.LockReleaseInterval)),
		job.NewApprovalExpiryJob(svc.Approvals, &cfg.Jobs, job.WithMetrics(m), lockTTL(cfg.Jobs.ApprovalExpiryInterval)),
		outboxSender.Runner(cfg.Jobs.OutboxInterval, job.WithMetrics(m), lockTTL(cfg.Jobs.OutboxInterval)),
	}

	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *job.Runner) {
			defer wg.Done()
			r.Start(ctx)
		}(r)
	}

	consumer := mq.NewProcessorConsumer(svc.Processor, cfg.Jobs.ItemTimeout)
	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Run(ctx, consumerGroup, cfg.Kafka.Topic.ProcessorEvents)
	}()

	router := handler.SetupRouter(svc, prometheus.DefaultGatherer)

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

	// 先停止接收请求，再停止后台任务，等进行中的一轮处理完
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("服务关闭异常: %v", err)
	}

	cancel()
	wg.Wait()

	log.Println("服务已关闭")
}
