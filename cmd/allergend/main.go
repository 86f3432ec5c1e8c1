package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/menu-allergens/internal/app"
	"github.com/joseph-ayodele/menu-allergens/internal/common"
	"github.com/joseph-ayodele/menu-allergens/internal/server"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, app.Options{}, logger)
	if err != nil {
		logger.Error("failed to build conversion stack", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.DB != nil {
		if err := server.PingDB(ctx, a.DB, logger, cfg.Database.DialTimeout); err != nil {
			os.Exit(1)
		}
	}

	// gRPC health + reflection for grpcurl / orchestrator probes
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	ocrStatus := grpc_health_v1.HealthCheckResponse_SERVING
	if a.Engine.Ready() != nil {
		ocrStatus = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	healthServer.SetServingStatus("ocr", ocrStatus)

	go func() {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()

	handlers := server.NewHandlers(server.Deps{
		Processor:   a.Processor,
		Store:       cfg.Store,
		OCRLanguage: a.OCRLanguage,
		Jobs:        a.Jobs,
		DB:          a.DB,
		Logger:      logger,
	}, cfg.Server.MaxRequestBytes)
	srv := server.New(server.Config{
		Address: cfg.Server.HTTPAddr,
	}, handlers)

	go func() {
		logger.Info("allergend listening", "addr", cfg.Server.HTTPAddr, "ocr_language", a.OCRLanguage(), "store_configured", cfg.Store.Configured())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()
	server.Shutdown(srv, cfg.Server.ShutdownTimeout, logger)
	grpcServer.GracefulStop()
}
