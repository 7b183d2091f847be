// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ollama-chat-go/internal/config"
	"ollama-chat-go/internal/handler"
	"ollama-chat-go/internal/middleware"
	"ollama-chat-go/internal/model"
	"ollama-chat-go/internal/repository"
	"ollama-chat-go/internal/service"
	"ollama-chat-go/pkg/database"
	"ollama-chat-go/pkg/es"
	"ollama-chat-go/pkg/kafka"
	"ollama-chat-go/pkg/log"
	"ollama-chat-go/pkg/ollama"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis、ES 与 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err := database.DB.AutoMigrate(
		&model.Chat{},
		&model.Message{},
		&model.ChatSettings{},
		&model.Settings{},
		&model.Project{},
		&model.ProjectFile{},
		&model.InferenceServer{},
	); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	if err := es.InitES(cfg.Elasticsearch); err != nil {
		log.Errorf("es 初始化失败 %s", err)
		return
	}
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 Repository
	chatRepo := repository.NewChatRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	projectRepo := repository.NewProjectRepository(database.DB)
	serverRepo := repository.NewServerRepository(database.DB)
	settingsRepo := repository.NewSettingsRepository(database.DB, model.Settings{
		DefaultModel:       cfg.Chat.DefaultModel,
		TitleModel:         cfg.Ollama.TitleModel,
		DefaultTemperature: cfg.Chat.DefaultTemperature,
		DefaultMaxTokens:   cfg.Chat.DefaultMaxTokens,
	})
	stopRepo := repository.NewStreamStopRepository(database.RDB)

	// 5. 初始化 Service (依赖注入)
	ollamaClient := ollama.NewClient()
	contextService := service.NewContextService()
	registryService := service.NewRegistryService(serverRepo, ollamaClient, time.Duration(cfg.Ollama.ProbeTimeoutSeconds)*time.Second)
	transcriptService := service.NewTranscriptService(chatRepo, messageRepo, settingsRepo, ollamaClient, cfg.Elasticsearch.IndexName)
	streamService := service.NewStreamService(
		chatRepo,
		messageRepo,
		projectRepo,
		settingsRepo,
		stopRepo,
		contextService,
		transcriptService,
		registryService,
		ollamaClient,
		time.Duration(cfg.Ollama.StallGraceSeconds)*time.Second,
	)
	chatService := service.NewChatService(chatRepo, messageRepo, projectRepo, settingsRepo, cfg.Elasticsearch.IndexName)
	projectService := service.NewProjectService(projectRepo)
	settingsService := service.NewSettingsService(settingsRepo, chatRepo)
	searchService := service.NewSearchService(cfg.Elasticsearch.IndexName)

	// 6. 启动后台健康监控循环
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	go registryService.StartMonitor(monitorCtx, time.Duration(cfg.Monitor.IntervalSeconds)*time.Second)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 8. 注册路由
	chatHandler := handler.NewChatHandler(chatService, streamService)
	streamHandler := handler.NewStreamHandler(streamService)
	settingsHandler := handler.NewSettingsHandler(settingsService)
	projectHandler := handler.NewProjectHandler(projectService, chatService)
	serverHandler := handler.NewServerHandler(registryService)
	modelHandler := handler.NewModelHandler(registryService)
	searchHandler := handler.NewSearchHandler(searchService)

	apiV1 := r.Group("/api/v1")
	{
		chats := apiV1.Group("/chats")
		{
			// 全局设置路由要先于 :chatId 注册，避免被参数路由吞掉
			chats.GET("/settings", settingsHandler.GetGlobal)
			chats.PATCH("/settings", settingsHandler.UpdateGlobal)

			chats.GET("", chatHandler.ListChats)
			chats.POST("", chatHandler.CreateChat)
			chats.GET("/:chatId", chatHandler.GetChat)
			chats.PATCH("/:chatId", chatHandler.UpdateChat)
			chats.DELETE("/:chatId", chatHandler.DeleteChat)
			chats.POST("/:chatId/archive", chatHandler.ArchiveChat)

			chats.GET("/:chatId/messages", chatHandler.ListMessages)
			chats.POST("/:chatId/messages", chatHandler.SendMessage)
			chats.GET("/:chatId/stream", streamHandler.Stream)
			chats.POST("/:chatId/stream/stop", streamHandler.StopStream)

			chats.GET("/:chatId/settings", settingsHandler.GetChatSettings)
			chats.PATCH("/:chatId/settings", settingsHandler.UpdateChatSettings)
		}

		projects := apiV1.Group("/projects")
		{
			projects.GET("", projectHandler.ListProjects)
			projects.POST("", projectHandler.CreateProject)
			projects.GET("/:projectId", projectHandler.GetProject)
			projects.PATCH("/:projectId", projectHandler.UpdateProject)
			projects.DELETE("/:projectId", projectHandler.DeleteProject)
			projects.GET("/:projectId/chats", projectHandler.ListProjectChats)
			projects.GET("/:projectId/files", projectHandler.ListFiles)
			projects.POST("/:projectId/files", projectHandler.AddFile)
			projects.GET("/:projectId/files/:fileId", projectHandler.GetFile)
			projects.DELETE("/:projectId/files/:fileId", projectHandler.DeleteFile)
		}

		servers := apiV1.Group("/servers")
		{
			servers.GET("", serverHandler.ListServers)
			servers.POST("", serverHandler.CreateServer)
			servers.GET("/:serverId", serverHandler.GetServer)
			servers.PATCH("/:serverId", serverHandler.UpdateServer)
			servers.DELETE("/:serverId", serverHandler.DeleteServer)
			servers.POST("/:serverId/check-health", serverHandler.CheckHealth)
			servers.GET("/:serverId/models", serverHandler.ListServerModels)
		}

		models := apiV1.Group("/models")
		{
			models.GET("", modelHandler.ListModels)
			models.GET("/status", modelHandler.ModelsStatus)
		}

		search := apiV1.Group("/search")
		{
			search.GET("/messages", searchHandler.SearchMessages)
		}
	}

	// Chat 路由 (WebSocket)
	r.GET("/chat/ws/:chatId", streamHandler.HandleWebSocket)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停掉后台监控，再关闭 HTTP 服务器
	cancelMonitor()

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}
