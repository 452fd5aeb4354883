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

	"double-ai-go/internal/config"
	"double-ai-go/internal/handler"
	"double-ai-go/internal/middleware"
	"double-ai-go/internal/model"
	"double-ai-go/internal/repository"
	"double-ai-go/internal/service"
	"double-ai-go/pkg/database"
	"double-ai-go/pkg/events"
	"double-ai-go/pkg/log"
	"double-ai-go/pkg/openai"
	"double-ai-go/pkg/secret"
	"double-ai-go/pkg/token"

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

	// 3. 初始化数据库和 Redis
	database.InitMySQL(cfg.Database.MySQL.DSN)
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	database.AutoMigrate(
		&model.User{},
		&model.ChatSession{},
		&model.ChatMessage{},
		&model.GlobalSettings{},
		&model.UserSettings{},
	)

	// 4. 初始化 Repository
	userRepository := repository.NewUserRepository(database.DB)
	sessionRepository := repository.NewSessionRepository(database.DB)
	settingsRepository := repository.NewSettingsRepository(database.DB)
	cacheRepository := repository.NewSessionCacheRepository(database.RDB, time.Duration(cfg.Chat.CacheTTLHours)*time.Hour)

	// 5. 初始化 Service (依赖注入)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours, cfg.JWT.RefreshTokenExpireDays)
	cipher := secret.NewCipher(cfg.Crypto.Secret, cfg.Crypto.Salt)
	openaiClient := openai.NewClient(cfg.OpenAI)

	// 遥测事件上报：未启用 Kafka 时退化为空实现
	var reporter events.Reporter
	if cfg.Kafka.Enabled {
		reporter = events.NewKafkaReporter(cfg.Kafka)
	} else {
		reporter = events.NewNopReporter()
	}

	settingsResolver := service.NewSettingsResolver(settingsRepository, cipher)
	sessionStore := service.NewSessionStore(sessionRepository, cacheRepository, reporter)
	chatService := service.NewChatService(sessionStore, settingsResolver, openaiClient, reporter)
	userService := service.NewUserService(userRepository, settingsResolver, cacheRepository, jwtManager, database.RDB)
	adminService := service.NewAdminService(userRepository, settingsRepository, cipher)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", handler.NewUserHandler(userService).RefreshToken)
		}

		users := apiV1.Group("/users")
		{
			// 无需认证的路由 (公开访问)
			users.POST("/register", handler.NewUserHandler(userService).Register)
			users.POST("/login", handler.NewUserHandler(userService).Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("/")
			authed.Use(middleware.AuthMiddleware(jwtManager, userService))
			{
				authed.GET("/me", handler.NewUserHandler(userService).GetProfile)
				authed.POST("/logout", handler.NewUserHandler(userService).Logout)
				authed.GET("/settings", handler.NewSettingsHandler(settingsResolver).GetSettings)
				authed.PUT("/settings", handler.NewSettingsHandler(settingsResolver).UpdateSettings)
			}
		}

		// Session 路由组，需要认证
		sessions := apiV1.Group("/sessions")
		sessions.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			sessionHandler := handler.NewSessionHandler(sessionStore, chatService)
			sessions.GET("", sessionHandler.ListSessions)
			sessions.POST("", sessionHandler.CreateSession)
			sessions.PUT("/current", sessionHandler.SwitchSession)
			sessions.DELETE("/:id", sessionHandler.DeleteSession)
			sessions.PUT("/:id/title", sessionHandler.RenameSession)
			sessions.POST("/:id/clear", sessionHandler.ClearSession)
			sessions.GET("/:id/messages", sessionHandler.GetMessages)
			sessions.POST("/:id/messages", sessionHandler.SendMessage)
		}

		// Chat 路由 (WebSocket)：先换取短期 token，再以 token 入路径建立连接
		chatHandler := handler.NewChatHandler(chatService, userService, sessionStore, jwtManager)
		chatGroup := apiV1.Group("/chat")
		chatGroup.Use(middleware.AuthMiddleware(jwtManager, userService))
		{
			chatGroup.GET("/websocket-token", chatHandler.GetWebsocketToken)
		}
		r.GET("/chat/:token", chatHandler.Handle)

		admin := apiV1.Group("/admin")
		// 管理员路由组，需要同时通过认证和管理员授权两个中间件
		admin.Use(middleware.AuthMiddleware(jwtManager, userService), middleware.AdminAuthMiddleware())
		{
			adminHandler := handler.NewAdminHandler(adminService)
			admin.GET("/users/list", adminHandler.ListUsers)
			admin.PUT("/users/:id/banned", adminHandler.SetUserBanned)
			admin.GET("/settings", adminHandler.GetGlobalSettings)
			admin.PUT("/settings", adminHandler.UpdateGlobalSettings)
		}
	}

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

	log.Info("服务已优雅关闭")
}
