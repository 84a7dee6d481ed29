package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/aigroupchat/agent/consistency"
	"github.com/BaSui01/aigroupchat/agent/engine"
	"github.com/BaSui01/aigroupchat/config"
	"github.com/BaSui01/aigroupchat/internal/cache"
	"github.com/BaSui01/aigroupchat/internal/database"
	"github.com/BaSui01/aigroupchat/internal/metrics"
	"github.com/BaSui01/aigroupchat/internal/telemetry"
	"github.com/BaSui01/aigroupchat/llm/gateway"
	"github.com/BaSui01/aigroupchat/store"
)

// commonFlags 所有命令共用的参数
type commonFlags struct {
	configPath  string
	metricsAddr string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "Path to config file")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address")
}

// app 一次命令执行所需的全部依赖
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	otel    *telemetry.Providers
	metrics *metrics.Collector

	pool     *database.PoolManager
	store    *store.GormStore
	registry store.Registry
	cache    *cache.Manager
	engine   *engine.Engine

	metricsServer *http.Server
}

// loadConfig 加载并校验配置
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// 命令结果写 stdout，日志默认改到 stderr
	if len(cfg.Log.OutputPaths) == 1 && cfg.Log.OutputPaths[0] == "stdout" {
		cfg.Log.OutputPaths = []string{"stderr"}
	}
	return cfg, nil
}

// newApp 按配置装配依赖。withEngine 为 false 时不初始化模型与引擎（migrate、seed）。
func newApp(flags commonFlags, withEngine bool) (*app, error) {
	cfg, err := loadConfig(flags.configPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: initLogger(cfg.Log)}
	if err := a.init(flags, withEngine); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(flags commonFlags, withEngine bool) error {
	cfg := a.cfg
	var err error

	a.otel, err = telemetry.Init(cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollectorWithRegisterer(cfg.Metrics.Namespace, reg, a.logger)
	addr := flags.metricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		a.startMetricsServer(addr, reg)
	}

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN(), a.logger)
	if err != nil {
		return err
	}
	poolCfg := database.DefaultPoolConfig()
	poolCfg.MaxOpenConns = cfg.Database.MaxOpenConns
	poolCfg.MaxIdleConns = cfg.Database.MaxIdleConns
	poolCfg.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	poolCfg.HealthCheckInterval = 0
	a.pool, err = database.NewPoolManager(db, poolCfg, a.logger)
	if err != nil {
		return err
	}
	a.store = store.NewGormStore(a.pool, a.logger, store.WithMetrics(a.metrics))
	a.registry = a.store

	if cfg.Redis.Enabled {
		a.cache, err = cache.NewManager(cache.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
			PoolSize:  cfg.Redis.PoolSize,
		}, a.logger)
		if err != nil {
			return err
		}
		a.registry = store.NewCachedRegistry(a.store, a.cache, cfg.Redis.MemberTTL, a.metrics, a.logger)
	}

	if !withEngine {
		return nil
	}

	models, err := gateway.RegistryFromConfig(cfg.Models, a.logger)
	if err != nil {
		return err
	}
	gw := gateway.New(models, cfg.Gateway, gateway.WithLogger(a.logger), gateway.WithMetrics(a.metrics))

	opts := []engine.Option{engine.WithLogger(a.logger), engine.WithMetrics(a.metrics)}
	if cfg.Engine.HistoryBackend == "redis" {
		opts = append(opts, engine.WithHistory(consistency.NewRedisHistory(a.cache, cfg.Engine.HistorySize)))
	}
	a.engine = engine.New(cfg.Engine, a.registry, a.store, gw, opts...)
	return nil
}

func (a *app) startMetricsServer(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	a.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	a.logger.Info("metrics server started", zap.String("addr", addr))
}

// close 依次释放资源，可重复调用
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.pool != nil {
		stats := a.pool.Stats()
		a.metrics.RecordDBConnections(a.cfg.Database.Driver, stats.OpenConnections, stats.Idle)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown error", zap.Error(err))
		}
		a.metricsServer = nil
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close error", zap.Error(err))
		}
		a.cache = nil
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			a.logger.Warn("database close error", zap.Error(err))
		}
		a.pool = nil
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
		a.otel = nil
	}
	_ = a.logger.Sync()
}

func requireFlag(name string, v int64) error {
	if v <= 0 {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
