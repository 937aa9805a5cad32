package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/example/scout-platform/internal/platform/auth"
	"github.com/example/scout-platform/internal/platform/config"
	"github.com/example/scout-platform/internal/platform/db"
	"github.com/example/scout-platform/internal/platform/events"
	"github.com/example/scout-platform/internal/platform/httpserver"
	"github.com/example/scout-platform/internal/platform/idempotency"
	"github.com/example/scout-platform/internal/platform/logging"
	"github.com/example/scout-platform/internal/platform/natsconn"
	"github.com/example/scout-platform/internal/platform/run"
	"github.com/example/scout-platform/internal/platform/signing"
	"github.com/example/scout-platform/services/assets/internal/catalog"
	assetsconfig "github.com/example/scout-platform/services/assets/internal/config"
	"github.com/example/scout-platform/services/assets/internal/handlers"
	"github.com/example/scout-platform/services/assets/internal/storeclient"
	"github.com/example/scout-platform/services/assets/internal/upload"
)

const healthService = "scout.assets"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	assetsCfg := assetsconfig.Load()
	if err := assetsCfg.Validate(cfg.IsProd()); err != nil {
		log.Error("assets config", zap.Error(err))
		run.Exit(1)
	}

	ctx := context.Background()
	var mem *storeclient.Memory
	memory := func() *storeclient.Memory {
		if mem == nil {
			mem = storeclient.NewMemory()
		}
		return mem
	}

	// documents
	var (
		docs   storeclient.Documents
		pool   *pgxpool.Pool
		pingDB func(context.Context) error
	)
	if assetsCfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, assetsCfg.DatabaseURL, db.PoolOptions{})
		if err != nil {
			log.Error("db open", zap.Error(err))
			run.Exit(1)
		}
		defer pool.Close()
		pg := storeclient.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("ensure schema", zap.Error(err))
			run.Exit(1)
		}
		docs, pingDB = pg, pg.Ping
	} else {
		log.Warn("DATABASE_URL not set, asset documents are kept in memory (development only)")
		docs = memory()
	}

	// binaries
	bins, closeBins, err := openBinaries(ctx, assetsCfg, memory)
	if err != nil {
		log.Error("object store", zap.String("backend", assetsCfg.ObjectStore), zap.Error(err))
		run.Exit(1)
	}
	guarded := storeclient.NewBreakerBinaries(bins, storeclient.BreakerSettings{
		Name:             assetsCfg.ObjectStore,
		MaxRequests:      assetsCfg.Breaker.MaxRequests,
		Interval:         assetsCfg.Breaker.Interval,
		Timeout:          assetsCfg.Breaker.Timeout,
		FailureThreshold: assetsCfg.Breaker.FailureThreshold,
	}, log)
	store := storeclient.Compose(docs, guarded)
	log.Info("asset store ready", zap.Bool("postgres", pool != nil), zap.String("objects", assetsCfg.ObjectStore))

	// events
	var nc *nats.Conn
	pub := events.New(nil, log)
	nc, err = natsconn.Connect(natsconn.Options{URL: assetsCfg.NATSURL, Name: cfg.ServiceName, Log: log})
	if err == nil {
		var js nats.JetStreamContext
		if js, err = nc.JetStream(); err == nil {
			err = events.EnsureStream(js)
		}
		if err == nil {
			pub = events.New(js, log)
		}
	}
	if err != nil {
		if cfg.IsProd() {
			log.Error("NATS is required in production", zap.Error(err))
			run.Exit(1)
		}
		log.Warn("NATS unavailable, asset events will not be published", zap.Error(err))
	}

	idem, err := idempotency.NewStore(assetsCfg.RedisDSN, assetsCfg.DatabaseURL, assetsCfg.IdempotencyTTL, cfg.IsProd())
	if err != nil {
		log.Error("idempotency store", zap.Error(err))
		run.Exit(1)
	}

	limits := upload.Limits{
		MaxVideoBytes:     assetsCfg.Limits.MaxVideoBytes,
		MaxVideoSeconds:   float64(assetsCfg.Limits.MaxVideoSeconds),
		MaxThumbnailBytes: assetsCfg.Limits.MaxThumbnailBytes,
	}
	svc := catalog.New(store, pub, limits, log)

	ready := func() error {
		c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if pingDB != nil {
			if err := pingDB(c); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if nc != nil && !nc.IsConnected() {
			return errors.New("nats disconnected")
		}
		return nil
	}

	r := chi.NewRouter()
	httpserver.SetupRouter(r, httpserver.RouterConfig{ReadyFunc: ready})
	handlers.Mount(r, handlers.NewAdmin(svc, idem, log, limits.MaxVideoBytes), auth.JWTVerifier{Secret: []byte(assetsCfg.JWTSecret)})
	if local, ok := bins.(*storeclient.LocalBinaries); ok {
		r.Get("/objects/*", local.Handler())
	}
	srv := httpserver.New(httpserver.Options{Addr: cfg.HTTP.Addr, Router: r, ReadTimeout: 15 * time.Minute})

	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	reflection.Register(grpcSrv)

	runner := run.New(log)
	code := runner.WithSignals(func(ctx context.Context) error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.Start(log) })
		g.Go(func() error {
			log.Info("grpc server starting", zap.String("addr", cfg.GRPC.Addr))
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			reportHealth(gctx, healthSrv, ready, log)
			return nil
		})
		return g.Wait()
	},
		func(ctx context.Context) error {
			healthSrv.Shutdown()
			return srv.Shutdown(ctx)
		},
		func(ctx context.Context) error {
			stopped := make(chan struct{})
			go func() {
				grpcSrv.GracefulStop()
				close(stopped)
			}()
			select {
			case <-stopped:
			case <-ctx.Done():
				grpcSrv.Stop()
			}
			return nil
		},
		func(context.Context) error {
			if nc == nil {
				return nil
			}
			return nc.Drain()
		},
		func(context.Context) error {
			if closeBins == nil {
				return nil
			}
			return closeBins()
		},
	)

	log.Info("exit", zap.Int("code", code))
	_ = log.Sync()
	run.Exit(code)
}

// openBinaries builds the configured object store backend.
func openBinaries(ctx context.Context, c assetsconfig.Config, memory func() *storeclient.Memory) (storeclient.Binaries, func() error, error) {
	switch c.ObjectStore {
	case assetsconfig.StoreS3:
		b, err := storeclient.NewS3Binaries(ctx, storeclient.S3Options{
			Bucket:    c.S3.Bucket,
			Region:    c.S3.Region,
			Endpoint:  c.S3.Endpoint,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			URLTTL:    c.DownloadURLTTL,
		})
		return b, nil, err
	case assetsconfig.StoreGCS:
		b, err := storeclient.NewGCSBinaries(ctx, storeclient.GCSOptions{
			Bucket:        c.GCS.Bucket,
			PublicBaseURL: c.GCS.PublicBaseURL,
			EmulatorHost:  c.GCS.EmulatorHost,
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case assetsconfig.StoreLocal:
		b, err := storeclient.NewLocalBinaries(c.Local.Root, c.Local.BaseURL, signing.New(c.SigningSecret), c.DownloadURLTTL)
		return b, nil, err
	case assetsconfig.StoreMemory:
		return memory(), nil, nil
	}
	return nil, nil, errors.New("unknown object store " + c.ObjectStore)
}

// reportHealth mirrors readiness into the gRPC health service until ctx ends.
func reportHealth(ctx context.Context, hs *health.Server, ready func() error, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if err := ready(); err != nil {
			status = healthpb.HealthCheckResponse_NOT_SERVING
			if last != status {
				log.Warn("readiness check failed", zap.Error(err))
			}
		}
		if status != last {
			hs.SetServingStatus("", status)
			hs.SetServingStatus(healthService, status)
			last = status
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
