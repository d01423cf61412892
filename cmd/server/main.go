// Package main 是服务端的入口点
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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"techcare-server/internal/cache"
	"techcare-server/internal/config"
	"techcare-server/internal/handler"
	"techcare-server/internal/llm"
	"techcare-server/internal/middleware"
	"techcare-server/internal/model"
	"techcare-server/internal/repository"
	"techcare-server/internal/service"
	"techcare-server/pkg/jwt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// 加载配置
	cfg, err := config.Load("./configs")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化结构化日志
	zapLogger, err := initLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zapLogger.Sync()

	// 初始化数据库
	db, err := initDatabase(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to init database", zap.Error(err))
	}

	// 自动迁移数据库表
	if err := autoMigrate(db); err != nil {
		zapLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// 初始化 Redis
	redisCache, err := cache.NewRedisCache(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to init redis", zap.Error(err))
	}

	// 初始化会话令牌服务
	jwtService := jwt.NewJWTService(cfg.Session.Secret, cfg.Session.Expire)

	// 初始化补全服务客户端
	llmClient := llm.NewClient(cfg.AI)

	// 初始化 Repository 层
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// 初始化 Service 层
	sessionService := service.NewSessionService(jwtService, redisCache, zapLogger, cfg.Session.Expire)
	// 后台回收过期会话的本地状态，进程退出时随之结束
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sessionService.StartSweeper(sweepCtx)
	conversationService := service.NewConversationService(conversationRepo, messageRepo, sessionService, redisCache, zapLogger)
	// 发送锁 TTL 比补全超时多一段余量，避免锁先于请求过期
	lockTTL := cfg.AI.Timeout + 30*time.Second
	chatService := service.NewChatService(llmClient, sessionService, conversationService, messageRepo, conversationRepo, redisCache, zapLogger, lockTTL)

	// 初始化 Handler 层
	sessionHandler := handler.NewSessionHandler(sessionService)
	conversationHandler := handler.NewConversationHandler(conversationService)
	chatHandler := handler.NewChatHandler(chatService, sessionService, conversationService)
	metaHandler := handler.NewMetaHandler(chatService)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建 Gin 引擎
	router := gin.New()

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(zapLogger))
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORS) > 0 {
		corsCfg.AllowOrigins = cfg.Server.CORS
	}
	router.Use(middleware.CORSMiddleware(corsCfg))

	// 注册路由
	registerRoutes(router, cfg, jwtService, sessionHandler, conversationHandler, chatHandler, metaHandler)

	// 创建 HTTP 服务器
	// SSE 响应会长时间保持打开，WriteTimeout 必须为 0
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
	}

	// 在 goroutine 中启动服务器
	go func() {
		zapLogger.Info("Server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("Shutting down server...")

	// 创建关闭上下文，设置超时
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器
	if err := server.Shutdown(ctx); err != nil {
		zapLogger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// 关闭 Redis 连接
	if err := redisCache.Close(); err != nil {
		zapLogger.Warn("Failed to close redis", zap.Error(err))
	}

	zapLogger.Info("Server exited")
}

// initLogger 初始化 zap 日志
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Log.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.Log.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

// initDatabase 初始化数据库连接
func initDatabase(cfg *config.Config) (*gorm.DB, error) {
	// 构建 DSN (Data Source Name)
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
		cfg.MySQL.Username,
		cfg.MySQL.Password,
		cfg.MySQL.Host,
		cfg.MySQL.Port,
		cfg.MySQL.Database,
		cfg.MySQL.Charset,
	)

	// 配置 GORM logger
	gormLogger := logger.Default.LogMode(logger.Info)
	if cfg.Server.Mode == "release" {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}

	// 连接数据库
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 获取底层 sql.DB
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MySQL.MaxLifetime) * time.Second)

	return db, nil
}

// autoMigrate 自动迁移数据库表
func autoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Conversation{},
		&model.Message{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// registerRoutes 注册所有路由
func registerRoutes(
	router *gin.Engine,
	cfg *config.Config,
	jwtService *jwt.JWTService,
	sessionHandler *handler.SessionHandler,
	conversationHandler *handler.ConversationHandler,
	chatHandler *handler.ChatHandler,
	metaHandler *handler.MetaHandler,
) {
	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1 路由组
	v1 := router.Group("/api/v1")

	// 会话创建（无需令牌）
	v1.POST("/session", sessionHandler.CreateSession)

	// 元数据目录（无需令牌）
	meta := v1.Group("/meta")
	{
		meta.GET("/categories", metaHandler.ListCategories)
		meta.GET("/quickfixes", metaHandler.ListQuickFixes)
	}

	// 聊天相关（需要会话令牌）
	chat := v1.Group("/chat")
	chat.Use(middleware.AuthMiddleware(jwtService))
	{
		chat.GET("/state", chatHandler.GetState)
		chat.POST("/new", chatHandler.NewChat)
		chat.POST("/send", chatHandler.Send)
	}

	// 对话管理（需要会话令牌）
	conversations := v1.Group("/conversations")
	conversations.Use(middleware.AuthMiddleware(jwtService))
	{
		conversations.GET("", conversationHandler.ListConversations)
		conversations.POST("/:id/select", conversationHandler.SelectConversation)
		conversations.PUT("/:id", conversationHandler.RenameConversation)
		conversations.DELETE("/:id", conversationHandler.DeleteConversation)
	}

	// 诊断面板（需要会话令牌）
	diagnosis := v1.Group("/diagnosis")
	diagnosis.Use(middleware.AuthMiddleware(jwtService))
	{
		diagnosis.GET("", metaHandler.GetDiagnosis)
	}

	// 静态前端
	if cfg.Server.WebDir != "" {
		router.Static("/assets", cfg.Server.WebDir+"/assets")
		router.StaticFile("/", cfg.Server.WebDir+"/index.html")
		router.StaticFile("/app.js", cfg.Server.WebDir+"/app.js")
		router.StaticFile("/style.css", cfg.Server.WebDir+"/style.css")
	}
}
