// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"line-gemini-relay/internal/config"
	"line-gemini-relay/internal/handler"
	"line-gemini-relay/internal/middleware"
	"line-gemini-relay/internal/pipeline"
	"line-gemini-relay/internal/repository"
	"line-gemini-relay/internal/service"
	"line-gemini-relay/pkg/database"
	"line-gemini-relay/pkg/es"
	"line-gemini-relay/pkg/feed"
	"line-gemini-relay/pkg/kafka"
	"line-gemini-relay/pkg/line"
	"line-gemini-relay/pkg/llm"
	"line-gemini-relay/pkg/log"
	"line-gemini-relay/pkg/storage"
	"line-gemini-relay/pkg/token"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 初始化配置，缺少必填项时直接退出
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化对话日志后端
	conversationRepo, closeRepo, err := newConversationRepository(rootCtx, cfg)
	if err != nil {
		log.Fatal("初始化对话存储失败", err)
	}
	defer closeRepo()

	// 4. 可选组件：Elasticsearch / Kafka / MinIO
	hub := feed.NewHub()
	defer hub.Close()
	publishers := []service.EventPublisher{hub}
	var searcher service.ConversationSearcher
	var indexer *pipeline.Indexer

	if cfg.Elasticsearch.Enabled {
		index, err := es.NewConversationIndex(cfg.Elasticsearch)
		if err != nil {
			log.Fatal("初始化 Elasticsearch 失败", err)
		}
		searcher = index
		indexer = pipeline.NewIndexer(index)
	}

	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		publishers = append(publishers, producer)

		if indexer != nil {
			consumers.Add(1)
			go func() {
				defer consumers.Done()
				kafka.StartConsumer(rootCtx, cfg.Kafka, indexer)
			}()
		}
	} else if indexer != nil {
		publishers = append(publishers, indexer)
	}

	opts := []service.ConversationOption{service.WithPublishers(publishers...)}
	if cfg.MinIO.Enabled {
		archiver, err := storage.NewArchiver(rootCtx, cfg.MinIO)
		if err != nil {
			log.Fatal("初始化 MinIO 失败", err)
		}
		opts = append(opts, service.WithArchiver(archiver))
	}

	// 5. 初始化 Service (依赖注入)
	conversationService := service.NewConversationService(conversationRepo, opts...)
	if err := conversationService.Load(rootCtx); err != nil {
		log.Fatal("加载历史对话失败", err)
	}
	llmClient := llm.NewClient(cfg.LLM)
	chatService := service.NewChatService(conversationService, llmClient)
	searchService := service.NewSearchService(searcher)

	replier, err := line.NewClient(cfg.Line.ChannelAccessToken)
	if err != nil {
		log.Fatal("初始化 LINE 客户端失败", err)
	}

	var jwtManager *token.JWTManager
	if cfg.Admin.AuthEnabled() {
		jwtManager = token.NewJWTManager(cfg.Admin.JWTSecret, cfg.Admin.TokenExpireHours)
	}
	adminService := service.NewAdminService(cfg.Admin.PasswordHash, jwtManager)

	// 6. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 7. 注册路由
	r.GET("/health", handler.Health)
	r.POST("/callback", handler.NewCallbackHandler(cfg.Line.ChannelSecret, chatService, replier).Callback)
	if jwtManager != nil {
		r.POST("/admin/login", handler.NewAdminHandler(adminService).Login)
	}

	api := r.Group("/")
	api.Use(middleware.AdminAuth(jwtManager))
	{
		conversationHandler := handler.NewConversationHandler(conversationService)
		api.GET("/history", conversationHandler.GetHistory)
		api.GET("/history/search", handler.NewSearchHandler(searchService).Search)
		api.GET("/history/stream", handler.NewFeedHandler(hub).Stream)
		api.DELETE("/conversations/clear", conversationHandler.ClearHistory)
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// websocket 连接不受 Shutdown 管理，先断开
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止 Kafka 消费者
	cancel()
	consumers.Wait()
	log.Info("服务已优雅关闭")
}

// newConversationRepository 按 store.driver 创建对话日志后端，返回的 close 函数释放连接。
func newConversationRepository(ctx context.Context, cfg config.Config) (repository.ConversationRepository, func(), error) {
	switch cfg.Store.Driver {
	case "redis":
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis)
		if err != nil {
			return nil, nil, err
		}
		log.Infof("对话日志存储于 Redis key '%s'", cfg.Store.RedisKey)
		return repository.NewRedisConversationRepository(rdb, cfg.Store.RedisKey), func() { _ = rdb.Close() }, nil
	case "mysql":
		db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
		if err != nil {
			return nil, nil, err
		}
		repo, err := repository.NewMySQLConversationRepository(db)
		if err != nil {
			return nil, nil, err
		}
		closeDB := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		log.Info("对话日志存储于 MySQL")
		return repo, closeDB, nil
	default:
		log.Infof("对话日志存储于文件 '%s'", cfg.Store.Path)
		return repository.NewFileConversationRepository(cfg.Store.Path), func() {}, nil
	}
}
