package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/server"

	"github.com/zlzcms/fx-agent-sub000/internal/access"
	"github.com/zlzcms/fx-agent-sub000/internal/config"
	"github.com/zlzcms/fx-agent-sub000/internal/database/mysql"
	"github.com/zlzcms/fx-agent-sub000/internal/database/redis"
	"github.com/zlzcms/fx-agent-sub000/internal/mcp"
	"github.com/zlzcms/fx-agent-sub000/internal/query"
	"github.com/zlzcms/fx-agent-sub000/pkg/logger"
)

func main() {
	transport := flag.String("transport", "stdio", "Transport method: stdio, sse, or httpstream")
	port := flag.String("port", "8082", "Port for HTTP-based transports (sse, httpstream)")
	flag.Parse()

	cfg, err := config.LoadConfig("config.yaml")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logger.Level)
	appLogger := logger.New("mcp_service", "", "")

	db, err := mysql.GetDB(&cfg.Databases.MySQL)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect warehouse: %v", err))
	}
	rdb, err := redis.GetClient(&cfg.Databases.Redis)
	if err != nil {
		appLogger.Fatal(fmt.Sprintf("Failed to connect redis: %v", err))
	}

	resolver := access.NewResolver(db, rdb, cfg.Agent.UserCacheTTL, appLogger)
	querySvc := query.NewService(db, resolver, cfg.Agent.DefaultLimit, appLogger)

	s := mcp.NewServer(querySvc, cfg.App.Version, appLogger)

	switch *transport {
	case "sse":
		appLogger.Info("Starting query MCP server with SSE transport on port " + *port)
		sseServer := server.NewSSEServer(s)
		if err := sseServer.Start(":" + *port); err != nil {
			appLogger.Fatal(fmt.Sprintf("SSE server error: %v", err))
		}
	case "httpstream":
		appLogger.Info("Starting query MCP server with StreamableHTTP transport on port " + *port)
		httpServer := server.NewStreamableHTTPServer(s)
		if err := httpServer.Start(":" + *port); err != nil {
			appLogger.Fatal(fmt.Sprintf("HTTP server error: %v", err))
		}
	case "stdio":
		appLogger.Info("Starting query MCP server with STDIO transport")
		if err := server.ServeStdio(s); err != nil {
			appLogger.Fatal(fmt.Sprintf("STDIO server error: %v", err))
		}
	default:
		appLogger.Fatal("Unknown transport: " + *transport + ". Use stdio, sse, or httpstream")
	}
}
