package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"cmbc-pay/cashier"
	"cmbc-pay/client"
	"cmbc-pay/codec"
	"cmbc-pay/config"
	"cmbc-pay/gateway"
	"cmbc-pay/handler"
	"cmbc-pay/loadbalance"
	"cmbc-pay/middleware"
	"cmbc-pay/registry"
	"cmbc-pay/transport"
)

func main() {
	// --- Config ---
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// --- Logger ---
	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// --- Bridge discovery ---
	var reg registry.Registry
	if len(cfg.Bridge.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Bridge.EtcdEndpoints, cfg.Bridge.ConnectTimeout)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer etcdReg.Close()
		reg = etcdReg
	} else {
		reg = registry.NewStaticBridge(cfg.Bridge.Service, cfg.Bridge.Host, cfg.Bridge.Port)
	}

	balancer, err := loadbalance.New(cfg.Bridge.Balancer)
	if err != nil {
		logger.Fatal("Invalid balancer", zap.Error(err))
	}
	codecType, err := codec.ParseCodecType(cfg.Bridge.Codec)
	if err != nil {
		logger.Fatal("Invalid codec", zap.Error(err))
	}

	// --- Bridge client ---
	metricsReg := prometheus.NewRegistry()
	metricsReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := middleware.NewMetrics(metricsReg)

	mws := []middleware.Middleware{
		middleware.LoggingMiddleware(logger),
		metrics.Middleware(),
	}
	if cfg.Bridge.CallTimeout > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(cfg.Bridge.CallTimeout))
	}
	if cfg.Bridge.RateLimit > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(cfg.Bridge.RateLimit, cfg.Bridge.RateBurst))
	}
	if cfg.Bridge.MaxRetries > 0 {
		mws = append(mws, middleware.RetryMiddleware(cfg.Bridge.MaxRetries, 100*time.Millisecond, logger))
	}

	bridge, err := client.NewClient(client.Options{
		Registry:  reg,
		Balancer:  balancer,
		Service:   cfg.Bridge.Service,
		CodecType: codecType,
		Transport: transport.New(transport.Options{
			ConnectTimeout: cfg.Bridge.ConnectTimeout,
			ReadTimeout:    cfg.Bridge.ReadTimeout,
			WriteTimeout:   cfg.Bridge.WriteTimeout,
		}),
		Middlewares: mws,
	})
	if err != nil {
		logger.Fatal("Failed to create bridge client", zap.Error(err))
	}

	// --- Cashier ---
	cashierCodec, err := cashier.NewCodec(cashier.Options{
		Caller: bridge,
		Credentials: cashier.Credentials{
			PrivateKeyPath:     cfg.Kit.PrivateKeyPath,
			PrivateKeyPassword: cfg.Kit.PrivateKeyPassword,
			PublicKeyPath:      cfg.Kit.PublicKeyPath,
		},
		KitClass:    cfg.Kit.Class,
		MerchantID:  cfg.Cmbc.CorpID,
		ErrorMarker: cfg.Kit.ErrorMarker,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to create cashier codec", zap.Error(err))
	}

	app, err := gateway.New(gateway.Config{
		Mode:      cfg.Cmbc.Mode,
		JumpURL:   cfg.Cmbc.JumpURL,
		CorpID:    cfg.Cmbc.CorpID,
		NotifyURL: cfg.Cmbc.NotifyURL,
	}, cashierCodec, logger)
	if err != nil {
		logger.Fatal("Failed to create gateway", zap.Error(err))
	}

	// --- Callback Deduper (Redis with in-memory fallback) ---
	deduper, dedupeErr := handler.NewCallbackDeduper(cfg.Redis.Addr, cfg.Redis.Pass, cfg.Redis.DB, cfg.Redis.DedupTTL)
	if dedupeErr != nil {
		logger.Warn("Redis unavailable for callback dedup, using in-memory fallback", zap.Error(dedupeErr))
	}

	// --- Echo ---
	e := echo.New()
	e.HideBanner = true
	handler.Setup(e, handler.NewCmbcHandler(app, deduper, logger), metricsReg, logger)

	// --- Start Server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		logger.Info("Starting cmbc gateway",
			zap.String("addr", addr),
			zap.String("bridge", cfg.Bridge.Service),
			zap.String("balancer", balancer.Name()))
		if err := e.Start(addr); err != nil {
			logger.Info("Server stopped", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
