package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yunqi-lab/nearbuy/internal/adapter/handler"
	"github.com/yunqi-lab/nearbuy/internal/adapter/storage"
	"github.com/yunqi-lab/nearbuy/internal/cache"
	"github.com/yunqi-lab/nearbuy/internal/config"
	"github.com/yunqi-lab/nearbuy/internal/core/domain"
	"github.com/yunqi-lab/nearbuy/internal/core/service"
	"github.com/yunqi-lab/nearbuy/internal/idgen"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := newLogger(cfg.Debug)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal("open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("ping mysql", zap.Error(err))
	}
	log.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("connect redis", zap.Error(err))
	}
	log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))

	redisAdapter := storage.NewRedisAdapter(rdb)
	mysqlAdapter := storage.NewMySQLAdapter(db)

	rebuildPool := cache.NewRebuildPool(cfg.RebuildWorkers, cfg.RebuildQueue)

	shopCache := cache.New[domain.Shop](rdb, cache.JSONCodec[domain.Shop]{}, rebuildPool, cache.Options{
		Prefix:     "cache:shop:",
		LockPrefix: "lock:shop:",
		Logger:     log,
	})
	campaignCache := cache.New[domain.VoucherCampaign](rdb, cache.JSONCodec[domain.VoucherCampaign]{}, rebuildPool, cache.Options{
		Prefix:     "cache:seckill:",
		LockPrefix: "lock:seckill:",
		Logger:     log,
	})

	idWorker := idgen.NewWorker(rdb)

	shopService := service.NewShopService(mysqlAdapter, shopCache, cfg.ShopCacheTTL, cache.PassThrough, log)
	seckillService := service.NewSeckillService(redisAdapter, mysqlAdapter, idWorker, campaignCache, cfg.CampaignCacheTTL, log)

	// Redis owns campaign stock from here on.
	syncCtx, syncCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := seckillService.SyncCampaigns(syncCtx); err != nil {
		log.Fatal("sync campaign stock", zap.Error(err))
	}
	syncCancel()

	consumer := service.NewOrderConsumer(redisAdapter, mysqlAdapter, cfg.ConsumerWorkers, cfg.ConsumerBlock, log)
	consumerDone := make(chan error, 1)
	go func() { consumerDone <- consumer.Run(ctx) }()
	log.Info("order consumer started", zap.Int("workers", cfg.ConsumerWorkers))

	mux := http.NewServeMux()
	httpHandler := handler.NewHTTPHandler(shopService, seckillService, cfg.RequestTimeout, log)
	httpHandler.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Info("http server stopped")

	cancel()
	<-consumerDone
	log.Info("order consumer stopped")

	rebuildPool.Close()
	rdb.Close()
	db.Close()
	log.Info("connections closed")
}

func newLogger(debug bool) *zap.Logger {
	if debug {
		log, _ := zap.NewDevelopment()
		return log
	}
	log, _ := zap.NewProduction()
	return log
}
