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

	"convoiq-go/internal/config"
	"convoiq-go/internal/handler"
	"convoiq-go/internal/middleware"
	"convoiq-go/internal/model"
	"convoiq-go/internal/pipeline"
	"convoiq-go/internal/repository"
	"convoiq-go/internal/service"
	"convoiq-go/pkg/database"
	"convoiq-go/pkg/kafka"
	"convoiq-go/pkg/llm"
	"convoiq-go/pkg/log"
	"convoiq-go/pkg/token"

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

	// 3. 初始化数据库、Redis 和 Kafka
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Message{},
		&model.ConversationAnalysis{},
		&model.SearchQuery{},
	)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	kafka.InitProducer(cfg.Kafka)

	// 4. 初始化 LLM Provider
	provider, err := llm.New(cfg.LLM)
	if err != nil {
		log.Fatal("LLM Provider 初始化失败", err)
	}

	// 5. 初始化 Repository
	userRepo := repository.NewUserRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.DB)
	messageRepo := repository.NewMessageRepository(database.DB)
	analysisRepo := repository.NewAnalysisRepository(database.DB)
	searchQueryRepo := repository.NewSearchQueryRepository(database.DB)

	// 6. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	userService := service.NewUserService(userRepo, jwtManager)
	embeddingService := service.NewEmbeddingService(provider)
	chatService := service.NewChatService(messageRepo, provider, cfg.LLM.ActiveChatModel())
	summarizerService := service.NewSummarizerService(provider)
	queryService := service.NewQueryService(conversationRepo, messageRepo, analysisRepo, searchQueryRepo, embeddingService, provider)
	conversationService := service.NewConversationService(conversationRepo, messageRepo, chatService, summarizerService, queryService, kafka.ProduceEmbeddingTask)
	adminService := service.NewAdminService(userRepo, conversationRepo, messageRepo, searchQueryRepo)

	// 7. 初始化嵌入处理管道并启动后台 Kafka 消费者
	processor := pipeline.NewProcessor(conversationRepo, messageRepo, provider)
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 初始化 Handler
	authHandler := handler.NewAuthHandler(userService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	intelligenceHandler := handler.NewIntelligenceHandler(queryService)
	chatHandler := handler.NewChatHandler(conversationService, userService, jwtManager)
	adminHandler := handler.NewAdminHandler(adminService)

	// 10. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			// 无需认证的路由 (公开访问)
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refreshToken", authHandler.RefreshToken)

			// 需要认证的路由 (仅限登录用户访问)
			authed := auth.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.POST("/logout", authHandler.Logout)
				authed.GET("/user", authHandler.GetCurrentUser)
			}
		}

		// Conversation 路由组，需要认证
		conversations := apiV1.Group("/conversations")
		conversations.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			conversations.POST("", conversationHandler.Create)
			conversations.GET("", conversationHandler.List)
			conversations.GET("/:id", conversationHandler.Get)
			conversations.PUT("/:id", conversationHandler.Update)
			conversations.DELETE("/:id", conversationHandler.Delete)
			conversations.POST("/:id/end", conversationHandler.End)
			conversations.POST("/:id/send_message", conversationHandler.SendMessage)
			conversations.GET("/:id/messages", conversationHandler.Messages)
		}

		// Intelligence 路由组，需要认证
		intelligence := apiV1.Group("/intelligence")
		intelligence.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			intelligence.POST("/query", intelligenceHandler.Query)
			intelligence.GET("/analytics", intelligenceHandler.Analytics)
		}

		// 健康检查，需要认证
		apiV1.GET("/health", middleware.AuthMiddleware(jwtManager, userService), authHandler.Health)

		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin := apiV1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.GET("/stats", adminHandler.PlatformStats)
			admin.GET("/conversation", adminHandler.AllConversations)
		}
	}

	// Chat 路由 (WebSocket)，认证在 Handler 内完成
	r.GET("/ws/chat/:conversationId", chatHandler.Handle)

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

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	// Kafka 消费循环会随进程退出自然结束，无需单独关闭。
	log.Info("服务已优雅关闭")
}
