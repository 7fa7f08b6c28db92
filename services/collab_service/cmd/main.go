package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/EthanQC/hrportal/pkg/zlog"
	grpcin "github.com/EthanQC/hrportal/services/collab_service/internal/adapters/in/grpc"
	httpin "github.com/EthanQC/hrportal/services/collab_service/internal/adapters/in/http"
	"github.com/EthanQC/hrportal/services/collab_service/internal/adapters/in/ws"
	"github.com/EthanQC/hrportal/services/collab_service/internal/adapters/out/broadcast"
	"github.com/EthanQC/hrportal/services/collab_service/internal/adapters/out/mq"
	mysqlRepo "github.com/EthanQC/hrportal/services/collab_service/internal/adapters/out/mysql"
	redisRepo "github.com/EthanQC/hrportal/services/collab_service/internal/adapters/out/redis"
	"github.com/EthanQC/hrportal/services/collab_service/internal/application/presence"
	"github.com/EthanQC/hrportal/services/collab_service/internal/application/screenshare"
	"github.com/EthanQC/hrportal/services/collab_service/internal/config"
	"github.com/EthanQC/hrportal/services/collab_service/internal/metrics"
)

const rateLimitIdle = 10 * time.Minute

func main() {
	// 加载配置
	v := viper.New()
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logCfg, err := zlog.FromViper(v, "log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载日志配置失败: %v\n", err)
		os.Exit(1)
	}
	logCfg.Service = "collab-service"
	syncLogger := zlog.MustInitGlobal(*logCfg)
	defer syncLogger()

	logger := zap.L()
	nodeID := cfg.NodeID()
	logger.Info("collab_service starting", zap.String("env", cfg.Env), zap.String("node", nodeID))

	// 指标
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)
	zlog.RegisterMetrics(registry)

	// 初始化数据库
	database, err := initDB(cfg.MySQL)
	if err != nil {
		logger.Fatal("Failed to init database", zap.Error(err))
	}
	if err := mysqlRepo.AutoMigrate(database); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	// 初始化Redis
	redisClient, err := initRedis(cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to init redis", zap.Error(err))
	}

	// 依赖探活
	sqlDB, err := database.DB()
	if err != nil {
		logger.Fatal("Failed to get sql.DB", zap.Error(err))
	}
	healthReporter := grpcin.NewHealthReporter(
		grpcin.HealthConfig{Interval: cfg.Server.HealthInterval},
		grpcin.Probe{Name: "mysql", Check: sqlDB.PingContext},
		grpcin.Probe{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
	)
	healthReporter.Start()

	// 广播链路：本地连接 + 跨节点中继 + 可选的 Kafka 审计流
	hub := ws.NewHub()
	relay := redisRepo.NewRelay(redisClient, cfg.Redis.RelayChannel, nodeID)
	sinks := []broadcast.Sink{
		{Name: "ws", Broadcaster: hub},
		{Name: "redis", Broadcaster: relay},
	}
	var kafka *mq.KafkaEventPublisher
	if cfg.Kafka.Enabled {
		kafka, err = mq.NewKafkaEventPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			logger.Fatal("Failed to init kafka producer", zap.Error(err))
		}
		sinks = append(sinks, broadcast.Sink{Name: "kafka", Broadcaster: kafka})
	}
	async := broadcast.NewAsync(broadcast.NewFanout(sinks...), cfg.Broadcast.Async())
	async.Start()

	// 初始化用例层
	presenceService := presence.NewService(async, presence.WithMirror(redisRepo.NewPresenceMirrorRedis(redisClient)))
	coordinator := screenshare.NewCoordinator(mysqlRepo.NewScreenShareRepositoryMySQL(database), async, cfg.ScreenShare.Coordinator())
	hub.SetUseCases(presenceService, coordinator)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restored, err := coordinator.Rehydrate(ctx)
	if err != nil {
		logger.Fatal("Failed to rehydrate screen share sessions", zap.Error(err))
	}
	logger.Info("screen share sessions restored", zap.Int("count", restored))

	limiter := httpin.NewRateLimiter(cfg.RateLimit)
	err = coordinator.StartReaper(cfg.ScreenShare.Reaper(),
		func(ctx context.Context) {
			if n := presenceService.Cleanup(ctx, cfg.Presence.CleanupAge); n > 0 {
				zlog.C(ctx).Info("stale presence records removed", zap.Int("count", n))
			}
		},
		func(context.Context) { limiter.Cleanup(rateLimitIdle) },
	)
	if err != nil {
		logger.Fatal("Failed to start reaper", zap.Error(err))
	}

	// 订阅其他节点的事件
	var relayWG sync.WaitGroup
	relayWG.Add(1)
	go func() {
		defer relayWG.Done()
		if err := relay.Run(ctx, hub); err != nil {
			logger.Error("Redis relay stopped", zap.Error(err))
		}
	}()

	// 初始化HTTP服务器
	router := gin.New()
	router.Use(gin.Recovery(), zlog.GinLogger())

	auth := httpin.AuthMiddleware(cfg.JWT.Secret)
	api := router.Group("/api", auth, limiter.Middleware())
	httpin.NewScreenShareHandler(coordinator, mysqlRepo.NewEmployeeDirectoryMySQL(database)).RegisterRoutes(api.Group("/screen-share"))
	httpin.NewPresenceHandler(presenceService).RegisterRoutes(api.Group("/presence"))

	// WebSocket端点，token 通过 query 传入
	router.GET("/ws", auth, func(c *gin.Context) {
		user, _ := httpin.CurrentUser(c)
		hub.HandleConnection(c.Writer, c.Request, user)
	})

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		if ok, failures := healthReporter.Status(); !ok {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "node": nodeID, "failures": failures})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "node": nodeID})
	})

	// 统计信息
	router.GET("/stats", func(c *gin.Context) {
		stats := hub.GetStats()
		stats["screen_share_active"] = int64(coordinator.ActiveCount())
		c.JSON(http.StatusOK, stats)
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	router.Any("/log/level", gin.WrapF(zlog.LevelHTTPHandler()))

	// 启动HTTP服务器
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: router,
	}

	go func() {
		logger.Info("Collab server starting", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// 启动gRPC服务器，只提供健康检查
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
	}
	grpcServer := grpc.NewServer()
	healthReporter.Register(grpcServer)

	go func() {
		logger.Info("gRPC server starting", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Fatal("gRPC server failed", zap.Error(err))
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")
	healthReporter.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()

	// 先断开连接触发下线广播，再停止广播队列
	hub.CloseAll()
	coordinator.Shutdown()
	cancel()
	relayWG.Wait()
	async.Stop()
	presenceService.Close()

	if kafka != nil {
		if err := kafka.Close(); err != nil {
			logger.Warn("Kafka producer close error", zap.Error(err))
		}
	}
	if err := redisClient.Close(); err != nil {
		logger.Warn("Redis close error", zap.Error(err))
	}
	_ = sqlDB.Close()

	logger.Info("Server exited properly")
}

func initDB(cfg config.MySQLConfig) (*gorm.DB, error) {
	database, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return database, nil
}

func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
