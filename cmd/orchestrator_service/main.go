package main

import (
	"fmt"
	"log"
	"time"

	"github.com/zlzcms/fx-agent-sub000/internal/access"
	"github.com/zlzcms/fx-agent-sub000/internal/api"
	"github.com/zlzcms/fx-agent-sub000/internal/artifact"
	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/database/kafka"
	"github.com/zlzcms/fx-agent-sub000/internal/database/minio"
	"github.com/zlzcms/fx-agent-sub000/internal/database/mongo"
	"github.com/zlzcms/fx-agent-sub000/internal/database/mysql"
	"github.com/zlzcms/fx-agent-sub000/internal/database/redis"
	"github.com/zlzcms/fx-agent-sub000/internal/engine"
	"github.com/zlzcms/fx-agent-sub000/internal/llm"
	"github.com/zlzcms/fx-agent-sub000/internal/markdown"
	"github.com/zlzcms/fx-agent-sub000/internal/orchestrator"
	"github.com/zlzcms/fx-agent-sub000/internal/query"
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
	appLogger := logger.New("orchestrator_service", "", "")
	appLogger.Info("Logger initialized")

	// 3. 初始化数据仓库与缓存
	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect warehouse: %v", err))
	}
	rdb, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect redis: %v", err))
	}
	appLogger.Info("Warehouse and cache connections established")

	// 4. 查询层：访问范围 -> 查询服务 -> Markdown 渲染
	resolver := access.NewResolver(db, rdb, cfg.Agent.UserCacheTTL, appLogger)
	querySvc := query.NewService(db, resolver, cfg.Agent.DefaultLimit, appLogger)
	renderer := markdown.NewRenderer(cfg.Agent.SplitMaxToken, query.FriendlyTableNames(), nil)

	// 5. 产物写入器，MinIO 可用时开启上传
	writer := artifact.NewWriter(cfg.Agent.DataSource, cfg.Agent.ArtifactDir, cfg.Agent.ArtifactBaseURL, appLogger)
	if cfg.Databases.MinIO.Endpoint != "" {
		minioClient, err := minio.GetClient(&cfg.Databases.MinIO)
		if err != nil {
			appLogger.Error(fmt.Sprintf("MinIO unavailable, artifacts stay local: %v", err))
		} else {
			writer.EnableUpload(minioClient, cfg.Databases.MinIO.Bucket)
			appLogger.Info("MinIO upload enabled for artifacts")
		}
	}

	// 6. 执行日志归档：MongoDB 为主，Kafka 配置了就旁路一份
	var archives engine.MultiArchive
	if cfg.Databases.MongoDB.Address != "" {
		mongoClient, err := mongo.GetClient(&cfg.Databases.MongoDB)
		if err != nil {
			appLogger.Error(fmt.Sprintf("MongoDB unavailable, execution logs disabled: %v", err))
		} else {
			archives = append(archives, engine.NewMongoArchive(mongoClient.Database(cfg.Databases.MongoDB.Database)))
			appLogger.Info("Execution log archive initialized")
		}
	}
	if len(cfg.Databases.Kafka.Brokers) > 0 {
		kafkaClient, err := kafka.GetClient(&cfg.Databases.Kafka)
		if err != nil {
			appLogger.Error(fmt.Sprintf("Kafka unavailable, execution log stream disabled: %v", err))
		} else {
			archives = append(archives, kafka.NewExecutionLogPublisher(kafkaClient))
			appLogger.Info("Execution log kafka stream enabled")
		}
	}
	var archive engine.Archiver
	if len(archives) > 0 {
		archive = archives
	}

	// 7. LLM 客户端：对话与分析可以用不同模型，按配置加熔断
	chatLLM, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.Chat, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create chat LLM client: %v", err))
	}
	analyzeLLM, err := llm.NewClient(cfg.LLM.Provider, cfg.LLM.Analyze, appLogger)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to create analyze LLM client: %v", err))
	}
	chatLLM = llm.WithBreaker(chatLLM, cfg.Middleware.LLMBreaker)
	analyzeLLM = llm.WithBreaker(analyzeLLM, cfg.Middleware.LLMBreaker)
	appLogger.Info("LLM clients initialized")

	// 8. 编排器
	orch := orchestrator.New(orchestrator.Deps{
		ChatLLM:          chatLLM,
		AnalyzeLLM:       analyzeLLM,
		Query:            querySvc,
		Renderer:         renderer,
		Writer:           writer,
		Archive:          archive,
		DataSourcesDoc:   query.DataSourcesDoc(),
		Services:         []string{"用户数据查询", "数据分析报告生成"},
		MaxDataCount:     cfg.Agent.MaxDataCount,
		ReduceMaxRetries: cfg.Agent.ReduceMaxRetries,
		MaxParallelTasks: cfg.Agent.MaxParallelTasks,
		Log:              appLogger,
	})
	appLogger.Info("Orchestrator initialized")

	// 9. HTTP 入口：SSE 事件流 + 取消标记
	cancels := api.NewCancelStore(rdb, time.Duration(cfg.Auth.TokenTTL)*time.Second)
	handler := api.NewHandler(orch, cancels, appLogger)
	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:    cfg.Auth.JwtSecret,
		StaticPrefix: "/artifacts",
		StaticDir:    cfg.Agent.ArtifactDir,
		RateLimit:    cfg.Middleware.RateLimiter,
	})

	addr := fmt.Sprintf(":%d", cfg.App.Port)
	appLogger.Info("Starting orchestrator service on " + addr)
	if err := router.Run(addr); err != nil {
		appLogger.Fatal(err.Error())
	}
}
