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

	"github.com/Brownie44l1/sketch-api/internal/config"
	"github.com/Brownie44l1/sketch-api/internal/handlers"
	"github.com/Brownie44l1/sketch-api/internal/logging"
	"github.com/Brownie44l1/sketch-api/internal/metrics"
	"github.com/Brownie44l1/sketch-api/internal/model"
	"github.com/Brownie44l1/sketch-api/internal/pipeline"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	classifier, closeFn, err := loadClassifier(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to load model: %v", err)
	}
	defer closeFn()

	p := pipeline.New(classifier, pipeline.WithLogger(logger.Named("pipeline")))
	handler := handlers.NewHandler(p, metrics.New(), logger.Named("http"), cfg.MaxUploadBytes)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on %s", cfg.HTTPAddr)
		logger.Infof("Classes: %v", model.Labels)
		logger.Info("Endpoints:")
		logger.Info("  GET  /health - Health check")
		logger.Info("  GET  /labels - Label table")
		logger.Info("  GET  /go/{dataURL} - Predict from URL-safe payload")
		logger.Info("  POST /predict - Predict from JSON payload")
		logger.Info("  POST /predict/tensor - Raw array prediction")
		logger.Info("  POST /predict/image - Predict from image upload")
		logger.Info("  GET  /metrics - Prometheus metrics")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

// loadClassifier builds the configured backend. The returned func releases
// any native resources it holds.
func loadClassifier(cfg *config.Config, logger *zap.SugaredLogger) (pipeline.Classifier, func(), error) {
	switch cfg.Backend {
	case config.BackendONNX:
		logger.Infof("Loading ONNX model from: %s", cfg.ONNXModelPath)
		server, err := model.NewONNXServer(cfg.ONNXModelPath, cfg.ONNXMetadataPath, cfg.ONNXRuntimeLib)
		if err != nil {
			return nil, nil, err
		}
		return server, server.Close, nil
	default:
		logger.Infof("Loading model from %s", cfg.CheckpointPath)
		network, err := model.Load(cfg.CheckpointPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("Model loaded: %s", network.Topology())
		return network, func() {}, nil
	}
}
