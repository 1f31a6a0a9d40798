package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg-api/cache"
	"github.com/chaos-io/rembg-api/config"
	"github.com/chaos-io/rembg-api/ingress"
	"github.com/chaos-io/rembg-api/rembg"
	"github.com/chaos-io/rembg-api/server"
	"github.com/chaos-io/rembg-api/sink"
	"github.com/chaos-io/rembg-api/util"
	nhttp "github.com/chaos-io/rembg-api/util/http"
	"github.com/chaos-io/rembg-api/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := util.InitLogger(cfg.Server.Mode); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer util.Sync()

	gin.SetMode(cfg.Server.Mode)

	util.Logger.Info("starting rembg-api",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("addr", cfg.Server.Addr),
		zap.String("mode", cfg.Server.Mode),
	)

	for _, dir := range []string{cfg.Upload.Dir, cfg.Storage.Dir} {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			util.Logger.Fatal("failed to create directory", zap.String("dir", dir), zap.Error(err))
		}
	}

	sessions := rembg.NewSessionCache(rembg.NewONNXFactory(rembg.ONNXConfig{
		ModelDir:          cfg.Models.Dir,
		SharedLibraryPath: cfg.Models.OnnxRuntimeLib,
		IntraOpNumThreads: cfg.Models.IntraOpNumThreads,
		InterOpNumThreads: cfg.Models.InterOpNumThreads,
	}))
	preload(sessions, cfg.Models.Preload)

	results := newResultCache(cfg.Redis)
	defer results.Close()

	store := sink.NewStore(cfg.Storage.Dir, cfg.Storage.URLPrefix)
	stager := ingress.NewStager(cfg.Upload.Dir, cfg.Upload.StageToDisk, cfg.Upload.MaxSize)
	pool := worker.New(cfg.Worker.MaxConcurrent, cfg.Worker.QueueTimeout)

	h := server.NewHandler(server.HandlerDeps{
		Remover:  rembg.NewPipeline(sessions,
			rembg.WithMaxSide(cfg.Models.MaxSide),
			rembg.WithMaxPixels(cfg.Models.MaxPixels)),
		Sessions: sessions,
		Pool:     pool,
		Fetcher:  ingress.NewFetcher(nhttp.NewHTTPClientWithTimeout(cfg.Fetch.Timeout), cfg.Fetch.Timeout, cfg.Upload.MaxSize),
		Stager:   stager,
		Store:    store,
		Results:  results,
		MaxSize:  cfg.Upload.MaxSize,
	})

	sweeper, err := startSweeper(cfg, store, stager)
	if err != nil {
		util.Logger.Fatal("failed to schedule sweep", zap.Error(err))
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.NewRouter(h, cfg.CORS.AllowOrigins, store.Prefix(), store.Dir()),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		util.Logger.Info("server listening", zap.String("addr", srv.Addr), zap.Int("workers", pool.Size()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.Logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	util.Logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		util.Logger.Error("server forced to shutdown", zap.Error(err))
	}
	<-sweeper.Stop().Done()

	if err := sessions.Close(); err != nil {
		util.Logger.Error("failed to close sessions", zap.Error(err))
	}
	if err := rembg.DestroyEnvironment(); err != nil {
		util.Logger.Error("failed to destroy onnx environment", zap.Error(err))
	}
	util.Logger.Info("server exited")
}

// preload 启动时加载配置的模型，失败只记录，首个请求会再次尝试
func preload(sessions *rembg.SessionCache, names []string) {
	for _, name := range names {
		model, err := rembg.ParseModel(name)
		if err != nil {
			util.Logger.Warn("skip unknown model", zap.String("model", name))
			continue
		}
		done := util.Trace("preload model", zap.String("model", name))
		if _, err := sessions.GetOrCreate(model); err != nil {
			util.Logger.Error("failed to preload model", zap.String("model", name), zap.Error(err))
		}
		done()
	}
}

func newResultCache(cfg config.RedisConfig) cache.ResultCache {
	if cfg.Addr == "" {
		return cache.Nop{}
	}

	rc := cache.NewRedisCache(cfg.Addr, cfg.Password, cfg.DB, cfg.TTL)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rc.Ping(ctx); err != nil {
		util.Logger.Warn("redis unavailable, result cache disabled", zap.String("addr", cfg.Addr), zap.Error(err))
		_ = rc.Close()
		return cache.Nop{}
	}
	util.Logger.Info("result cache enabled", zap.String("addr", cfg.Addr), zap.Duration("ttl", cfg.TTL))
	return rc
}

// startSweeper 定时清理过期的结果文件和残留的暂存上传
func startSweeper(cfg *config.Config, store *sink.Store, stager *ingress.Stager) (*cron.Cron, error) {
	c := cron.New()

	if cfg.Storage.Retention > 0 {
		if _, err := c.AddFunc(cfg.Storage.SweepSpec, func() {
			n, err := store.Sweep(cfg.Storage.Retention)
			if err != nil {
				util.Logger.Warn("sweep results failed", zap.Error(err))
				return
			}
			util.Logger.Info("results swept", zap.Int("removed", n))
		}); err != nil {
			return nil, err
		}
	}

	if cfg.Upload.StageToDisk && cfg.Upload.Retention > 0 {
		if _, err := c.AddFunc(cfg.Upload.SweepSpec, func() {
			n, err := stager.Sweep(cfg.Upload.Retention)
			if err != nil {
				util.Logger.Warn("sweep uploads failed", zap.Error(err))
				return
			}
			if n > 0 {
				util.Logger.Info("staged uploads swept", zap.Int("removed", n))
			}
		}); err != nil {
			return nil, err
		}
	}

	c.Start()
	return c, nil
}
