// Command loopbridge runs a signing bridge backed by the loopback kit, for local
// development and integration environments without CFCA certificates.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"cmbc-pay/codec"
	"cmbc-pay/config"
	"cmbc-pay/middleware"
	"cmbc-pay/registry"
	"cmbc-pay/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := zap.NewProduction()
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	codecType, err := codec.ParseCodecType(cfg.Bridge.Codec)
	if err != nil {
		logger.Fatal("Invalid codec", zap.Error(err))
	}

	svr := server.NewServer(
		server.WithCodec(codecType),
		server.WithIOTimeout(cfg.Bridge.ReadTimeout),
		server.WithLogger(logger),
	)
	if err := svr.Register(cfg.Kit.Class, &server.LoopbackKit{}); err != nil {
		logger.Fatal("Failed to register kit", zap.Error(err))
	}
	svr.Use(middleware.LoggingMiddleware(logger))

	// Announce in etcd only when clients discover bridges there
	var reg registry.Registry
	if len(cfg.Bridge.EtcdEndpoints) > 0 {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Bridge.EtcdEndpoints, cfg.Bridge.ConnectTimeout)
		if err != nil {
			logger.Fatal("Failed to connect to etcd", zap.Error(err))
		}
		defer etcdReg.Close()
		reg = etcdReg
	}
	advertise := net.JoinHostPort(cfg.Bridge.Host, strconv.Itoa(cfg.Bridge.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- svr.Serve("tcp", cfg.Bridge.ListenAddr, cfg.Bridge.Service, advertise, reg)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		logger.Fatal("Bridge stopped", zap.Error(err))
	}

	logger.Info("Shutting down...")
	if err := svr.Shutdown(cfg.Server.ShutdownTimeout); err != nil {
		logger.Error("Bridge forced to shutdown", zap.Error(err))
	}
	logger.Info("Bridge exited")
}
