package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/zlzcms/fx-agent-sub000/internal/access"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/database/kafka"
	"github.com/zlzcms/fx-agent-sub000/internal/database/minio"
	"github.com/zlzcms/fx-agent-sub000/internal/database/mysql"
	"github.com/zlzcms/fx-agent-sub000/internal/database/redis"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/internal/models"
	"github.com/zlzcms/fx-agent-sub000/internal/orchestrator"
	"github.com/zlzcms/fx-agent-sub000/internal/query"
	"github.com/zlzcms/fx-agent-sub000/internal/scheduler"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// 2. 初始化 Logger
	logger.Init(cfg.Logger.Level)
	appLogger := logger.New("scheduler_service", "", "")
	appLogger.Info("Logger initialized")

	// 3. 数据仓库、缓存与报告记录表
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect warehouse: %v", err))
	}
	if err := db.AutoMigrate(&models.ReportRecord{}); err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to migrate report table: %v", err))
	}
	rdb, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect redis: %v", err))
	}

	// 4. 查询层与产物写入器
	resolver := access.NewResolver(db, rdb, cfg.Agent.UserCacheTTL, appLogger)
	querySvc := query.NewService(db, resolver, cfg.Agent.DefaultLimit, appLogger)
	renderer := markdown.NewRenderer(cfg.Agent.SplitMaxToken, query.FriendlyTableNames(), nil)
	writer := artifact.NewWriter(cfg.Agent.DataSource, cfg.Agent.ArtifactDir, cfg.Agent.ArtifactBaseURL, appLogger)
	if cfg.Databases.MinIO.Endpoint != "" {
		minioClient, err := minio.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			appLogger.Error(fmt.Sprintf("MinIO unavailable, artifacts stay local: %v", err))
		} else {
			writer.EnableUpload(minioClient, cfg.Databases.MinIO.Bucket)
		}
	}

	// 5. LLM 客户端
	chatLLM, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.Chat, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create chat LLM client: %v", err))
	}
	analyzeLLM, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.Analyze, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create analyze LLM client: %v", err))
	}

	// 6. 编排器，定时任务只走报告链路
	orch := orchestrator.New(orchestrator.Deps{
		ChatLLM:          chatLLM,
		AnalyzeLLM:       analyzeLLM,
		Query:            querySvc,
		Renderer:         renderer,
		Writer:           writer,
		DataSourcesDoc:   query.DataSourcesDoc(),
		MaxDataCount:     cfg.Agent.MaxDataCount,
		ReduceMaxRetries: cfg.Agent.ReduceMaxRetries,
		MaxParallelTasks: cfg.Agent.MaxParallelTasks,
		Log:              appLogger,
	})

	// 7. Kafka：任务描述符消费 + 完成通知发布
	kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create kafka client: %v", err))
	}
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			appLogger.Error(fmt.Sprintf("Failed to close kafka client cleanly: %v", err))
		}
	}()
	reader := scheduler.NewKafkaReader(kafkaClient.NewReader(cfg.Databases.Kafka.TaskTopic))
	defer func() {
		if err := reader.Close(); err != nil {
			appLogger.Error(fmt.Sprintf("Failed to close kafka reader cleanly: %v", err))
		}
	}()

	sched := scheduler.New(scheduler.Options{
		Runner:       orch,
		DB:           db,
		Publisher:    kafkaClient,
		NotifyTopic:  cfg.Databases.Kafka.NotifyTopic,
		SystemUserID: cfg.Agent.SystemDefaultUserID,
		Log:          appLogger,
	})

	// 8. 运行到收到退出信号为止
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLogger.Info("Scheduler consuming topic " + cfg.Databases.Kafka.TaskTopic)
	if err := sched.Run(ctx, reader); err != nil && ctx.Err() == nil {
		appLogger.Fatal(fmt.Sprintf("Scheduler stopped unexpectedly: %v", err))
	}
	appLogger.Info("Scheduler shut down")
}
