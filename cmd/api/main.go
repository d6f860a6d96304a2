package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/enrollment/internal/api"
	"github.com/your-org/enrollment/internal/api/handlers"
	"github.com/your-org/enrollment/internal/api/ws"
	"github.com/your-org/enrollment/internal/config"
	"github.com/your-org/enrollment/internal/files"
	"github.com/your-org/enrollment/internal/models"
	"github.com/your-org/enrollment/internal/observability"
	"github.com/your-org/enrollment/internal/queue"
	"github.com/your-org/enrollment/internal/storage"
	"github.com/your-org/enrollment/internal/vision"
	"github.com/your-org/enrollment/pkg/dto"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file (optional)")
	mode := pflag.String("mode", "", "override vision.mode (auto, face, hash)")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Vision.Mode = *mode
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid --mode: %v\n", err)
			os.Exit(1)
		}
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("enrollment service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting enrollment service",
		"port", cfg.Server.Port,
		"environment", cfg.Server.Environment,
		"backend", cfg.Storage.Backend,
	)

	checks := map[string]handlers.Pinger{}

	// Records
	var records storage.RecordStore
	var audit *storage.PostgresStore
	switch cfg.Storage.Backend {
	case "postgres":
		db, err := storage.NewPostgresStore(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.EnsureSchema(ctx); err != nil {
			return err
		}
		records, audit = db, db
		checks["postgres"] = db.Ping
	default:
		fs, err := storage.NewFileStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		records = fs
	}

	// Accepted files
	var objects storage.ObjectStore
	switch cfg.Storage.Objects {
	case "minio":
		m, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		objects = m
		checks["minio"] = m.Ping
	default:
		d, err := storage.NewDiskStore(cfg.Storage.UploadDir)
		if err != nil {
			return err
		}
		objects = d
		checks["uploads"] = d.Ping
	}

	validator, closeEngine, err := buildValidator(cfg, records)
	if err != nil {
		return err
	}
	defer closeEngine()

	integrity := vision.NewIntegrityChecker(cfg.Uploads)
	pipeline := vision.NewPipeline(
		integrity,
		vision.NewQualityAnalyzer(cfg.Vision.MinWidth, cfg.Vision.MinHeight),
		validator,
		cfg.PadUndersizedImages(),
	)
	if cfg.PadUndersizedImages() {
		slog.Warn("undersized photos will be padded instead of rejected")
	}

	hub := ws.NewHub()
	go hub.Run()

	// Every decision is stored for audit (postgres only) and pushed to
	// websocket subscribers, through NATS when it is configured.
	deliver := func(ctx context.Context, ev models.ValidationEvent) error {
		if audit != nil {
			if err := audit.CreateValidationEvent(ctx, &ev); err != nil {
				return err
			}
		}
		hub.BroadcastEvent(dto.NewWSEvent(ev))
		return nil
	}

	var publisher files.EventPublisher = localPublisher(deliver)
	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer consumer.Close()
		if err := consumer.ConsumeValidations(ctx, "enrollment-api", deliver, 2); err != nil {
			slog.Warn("start validation consumer", "error", err)
		}

		publisher = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }
	}

	uploader := files.NewUploader(pipeline, files.NewService(objects), records, publisher)

	routerCfg := api.RouterConfig{
		APIKey:    cfg.Server.APIKey,
		Uploader:  uploader,
		Integrity: integrity,
		Records:   records,
		Hub:       hub,
		Checks:    checks,
		Status:    handlers.StatusFor(pipeline.Mode(), cfg.Storage.Backend, cfg.Vision.SimilarityThreshold),
	}
	if audit != nil {
		routerCfg.Events = audit
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(routerCfg),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("API server listening", "addr", srv.Addr, "mode", pipeline.Mode())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("API server stopped")
	return nil
}

// buildValidator picks the face-based validator when the ONNX engine starts
// and falls back to content hashes otherwise (unless mode=face).
func buildValidator(cfg *config.Config, records storage.RecordStore) (vision.Validator, func(), error) {
	noop := func() {}
	if cfg.Vision.Mode == "hash" {
		slog.Info("face recognition disabled by config, using hash validation")
		return vision.NewHashBasedValidator(records), noop, nil
	}

	engine, err := startEngine(cfg.Vision)
	if err != nil {
		if cfg.Vision.Mode == "face" {
			return nil, noop, err
		}
		slog.Warn("face recognition unavailable, falling back to hash validation", "error", err)
		return vision.NewHashBasedValidator(records), noop, nil
	}

	detector := vision.NewFaceDetector(engine, cfg.Vision.MinFaceSize)
	v := vision.NewFaceBasedValidator(detector, records, cfg.Vision.SimilarityThreshold)
	return v, func() {
		_ = engine.Close()
		vision.DestroyONNXRuntime()
	}, nil
}

func startEngine(cfg config.VisionConfig) (*vision.ONNXEngine, error) {
	if err := vision.InitONNXRuntime(cfg.ONNXLibPath); err != nil {
		return nil, err
	}
	engine, err := vision.NewONNXEngine(cfg)
	if err != nil {
		vision.DestroyONNXRuntime()
		return nil, err
	}
	return engine, nil
}

// localPublisher delivers events in-process when NATS is not configured.
type localPublisher func(ctx context.Context, ev models.ValidationEvent) error

func (f localPublisher) PublishValidation(ctx context.Context, ev models.ValidationEvent) error {
	return f(ctx, ev)
}
